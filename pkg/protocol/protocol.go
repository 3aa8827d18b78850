// Package protocol defines the wire contract between clients and the
// server: the tagged client-message union and the event union fanned out to
// attached clients. Every message is a UTF-8 JSON object with a "type"
// discriminator; additive fields must be optional.
package protocol

import (
	"encoding/json"

	"github.com/coworklabs/cowork/pkg/models"
)

// Client message types.
const (
	TypeClientHello           = "client_hello"
	TypeSessionOpen           = "session_open"
	TypeSessionClose          = "session_close"
	TypeUserMessage           = "user_message"
	TypeReset                 = "reset"
	TypeSetModel              = "set_model"
	TypeAskResponse           = "ask_response"
	TypeApprovalResponse      = "approval_response"
	TypeListTools             = "list_tools"
	TypeListSessions          = "list_sessions"
	TypePing                  = "ping"
	TypeProviderAuthSetAPIKey = "provider_auth_set_api_key"
	TypeProviderAuthAuthorize = "provider_auth_authorize"
	TypeProviderAuthCallback  = "provider_auth_callback"
	TypeProviderCatalogGet    = "provider_catalog_get"
	TypeProviderAuthMethods   = "provider_auth_methods_get"
	TypeRefreshProviderStatus = "refresh_provider_status"
	TypeHarnessContextGet     = "harness_context_get"
	TypeHarnessContextSet     = "harness_context_set"
	TypeHarnessSLOEvaluate    = "harness_slo_evaluate"
	TypeObservabilityQuery    = "observability_query"
)

// Server event types.
const (
	EventServerHello            = "server_hello"
	EventSessionBusy            = "session_busy"
	EventUserMessage            = "user_message"
	EventAssistantMessage       = "assistant_message"
	EventReasoning              = "reasoning"
	EventLog                    = "log"
	EventTodos                  = "todos"
	EventAsk                    = "ask"
	EventApproval               = "approval"
	EventResetDone              = "reset_done"
	EventConfigUpdated          = "config_updated"
	EventSessionList            = "session_list"
	EventToolList               = "tool_list"
	EventPong                   = "pong"
	EventProviderCatalog        = "provider_catalog"
	EventProviderAuthMethods    = "provider_auth_methods"
	EventProviderStatus         = "provider_status"
	EventProviderAuthChallenge  = "provider_auth_challenge"
	EventProviderAuthResult     = "provider_auth_result"
	EventObservabilityStatus    = "observability_status"
	EventHarnessContext         = "harness_context"
	EventObservabilityQueryRes  = "observability_query_result"
	EventHarnessSLOResult       = "harness_slo_result"
	EventError                  = "error"
)

// Error codes carried by error events.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeUnknownType      = "unknown_type"
	CodeValidationFailed = "validation_failed"
	CodeProviderError    = "provider_error"
	CodeInternalError    = "internal_error"
	CodePathDenied       = "path_denied"
	CodeToolError        = "tool_error"
)

// Error sources carried by error events.
const (
	SourceProtocol = "protocol"
	SourceSession  = "session"
	SourceProvider = "provider"
	SourceTool     = "tool"
)

// ClientMessage is the inbound tagged union. Only the fields relevant to
// Type are populated; frames are schema-validated before decoding.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`

	// client_hello
	Client  string `json:"client,omitempty"`
	Version string `json:"version,omitempty"`

	// user_message
	Text            string `json:"text,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`

	// set_model
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// ask_response / approval_response
	RequestID string `json:"requestId,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Approved  *bool  `json:"approved,omitempty"`

	// provider auth
	MethodID string `json:"methodId,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Code     string `json:"code,omitempty"`

	// harness_context_set
	Context json.RawMessage `json:"context,omitempty"`

	// harness_slo_evaluate / observability_query
	Query string `json:"query,omitempty"`
}

// ToolInfo describes one registered tool for list_tools.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ProviderInfo is one provider_catalog entry.
type ProviderInfo struct {
	Name         string   `json:"name"`
	DefaultModel string   `json:"defaultModel"`
	Models       []string `json:"models"`
	Configured   bool     `json:"configured"`
}

// AuthMethod is one provider_auth_methods entry.
type AuthMethod struct {
	Provider string `json:"provider"`
	MethodID string `json:"methodId"`
	Label    string `json:"label"`
}

// Event is the outbound tagged union. Every event carries SessionID and,
// for session-scoped events, an engine-assigned strictly increasing
// EventSeq.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	EventSeq  int64  `json:"eventSeq,omitempty"`

	// server_hello / config_updated
	Config             *models.SessionConfig `json:"config,omitempty"`
	IsResume           bool                  `json:"isResume,omitempty"`
	HasPendingAsk      bool                  `json:"hasPendingAsk,omitempty"`
	HasPendingApproval bool                  `json:"hasPendingApproval,omitempty"`

	// session_busy (also mirrored on server_hello)
	Busy *bool `json:"busy,omitempty"`

	// user_message / assistant_message / reasoning / log
	Text            string `json:"text,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Line            string `json:"line,omitempty"`

	// todos
	Todos []models.TodoItem `json:"todos,omitempty"`

	// ask / approval
	RequestID  string   `json:"requestId,omitempty"`
	Question   string   `json:"question,omitempty"`
	Options    []string `json:"options,omitempty"`
	Command    string   `json:"command,omitempty"`
	Dangerous  bool     `json:"dangerous,omitempty"`
	ReasonCode string   `json:"reasonCode,omitempty"`

	// session_list / tool_list
	Sessions []models.SessionSummary `json:"sessions,omitempty"`
	Tools    []ToolInfo              `json:"tools,omitempty"`

	// provider surfaces
	Providers   []ProviderInfo `json:"providers,omitempty"`
	AuthMethods []AuthMethod   `json:"authMethods,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	AuthorizeURL string        `json:"authorizeUrl,omitempty"`
	OK          *bool          `json:"ok,omitempty"`

	// diagnostics
	Context json.RawMessage `json:"context,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorEvent builds a typed error event.
func ErrorEvent(sessionID, code, source, message string) Event {
	return Event{
		Type:      EventError,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Message:   message,
	}
}
