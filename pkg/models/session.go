package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// SessionConfig is the per-session configuration snapshot. It is immutable
// while a turn is active; set_model produces a new snapshot between turns.
type SessionConfig struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	SubagentModel    string `json:"subagentModel,omitempty"`
	WorkingDirectory string `json:"workingDirectory"`
	OutputDirectory  string `json:"outputDirectory,omitempty"`
	UploadsDirectory string `json:"uploadsDirectory,omitempty"`
	SystemPrompt     string `json:"systemPrompt,omitempty"`
	EnableMCP        bool   `json:"enableMcp,omitempty"`

	// MaxSteps bounds the model/tool round trips per turn.
	MaxSteps int `json:"maxSteps,omitempty"`

	// SpawnDepthLimit bounds nested sub-agent spawns.
	SpawnDepthLimit int `json:"spawnDepthLimit,omitempty"`

	// ProviderOptions is an opaque option bag keyed by provider tag. The
	// engine forwards it to the provider adapter without inspecting it.
	ProviderOptions map[string]json.RawMessage `json:"providerOptions,omitempty"`
}

// SessionRecord is the persisted form of a session, one row per session id.
// Column names in the store match the json tags here.
type SessionRecord struct {
	SessionID   string        `json:"session_id"`
	Title       string        `json:"title"`
	TitleSource string        `json:"title_source"`
	TitleModel  string        `json:"title_model"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	Provider         string `json:"provider"`
	Model            string `json:"model"`
	WorkingDirectory string `json:"working_directory"`
	OutputDirectory  string `json:"output_directory,omitempty"`
	UploadsDirectory string `json:"uploads_directory,omitempty"`
	EnableMCP        bool   `json:"enable_mcp"`
	SystemPrompt     string `json:"system_prompt"`

	HasPendingAsk      bool  `json:"has_pending_ask"`
	HasPendingApproval bool  `json:"has_pending_approval"`
	MessageCount       int   `json:"message_count"`
	LastEventSeq       int64 `json:"last_event_seq"`

	MessagesJSON       json.RawMessage `json:"messages_json"`
	TodosJSON          json.RawMessage `json:"todos_json"`
	HarnessContextJSON json.RawMessage `json:"harness_context_json"`
}

// SessionSummary is the list_sessions projection of a record.
type SessionSummary struct {
	SessionID    string        `json:"sessionId"`
	Title        string        `json:"title"`
	Status       SessionStatus `json:"status"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	MessageCount int           `json:"messageCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}
