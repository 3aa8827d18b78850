// Package agent runs model turns: it streams steps from a provider,
// executes the tool calls each step produces, and iterates until the model
// stops calling tools or the step budget runs out.
package agent

import (
	"context"
	"encoding/json"

	"github.com/coworklabs/cowork/pkg/models"
)

// ToolDef describes one tool as advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is one step request against a provider. Messages carry the full
// conversation so far; the provider translates them to its own wire shape.
type Request struct {
	Model    string
	System   string
	Messages []models.Message
	Tools    []ToolDef

	// MaxTokens bounds the step output. Zero means provider default.
	MaxTokens int

	// DisableThinking suppresses thought generation for this step. Used by
	// the reasoning-signature repair path.
	DisableThinking bool

	// Options is the provider-specific option bag from the session config.
	Options map[string]json.RawMessage
}

// StreamEvent is one typed chunk from a provider step. Exactly one payload
// group is populated. The step ends when the channel closes; a terminal
// Err event precedes the close on failure.
type StreamEvent struct {
	// Text is an assistant text delta.
	Text string

	// Reasoning is a thought delta. Kind distinguishes full chain-of-thought
	// from summaries; Signature, when set, is the provider-opaque token for
	// the reasoning part being closed.
	Reasoning string
	Kind      models.ReasoningKind
	Signature string

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall

	// Err terminates the step.
	Err error
}

// Provider streams model steps. Implementations close the event channel
// when the step ends and must honor ctx cancellation.
type Provider interface {
	Name() string
	Models() []string
	Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}
