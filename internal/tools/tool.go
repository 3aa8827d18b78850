// Package tools defines the tool contract, the per-call capability bundle
// the engine injects, and the registry the turn loop executes against.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coworklabs/cowork/internal/sandbox"
	"github.com/coworklabs/cowork/pkg/models"
)

// Tool is one named capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the tool's arguments.
	Schema() json.RawMessage
	// Execute runs the tool. Failures the model should see are returned
	// as a Result with IsError; a non-nil error is converted to one by
	// the caller.
	Execute(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error)
}

// Result is a tool outcome as shown to the model.
type Result struct {
	Content string
	IsError bool
}

// TextResult builds a success result.
func TextResult(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...)}
}

// ErrorResult builds a failure result the model can react to.
func ErrorResult(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// JSONResult marshals v as the result content.
func JSONResult(v any) *Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("encode result: %v", err)
	}
	return &Result{Content: string(raw)}
}

// Schema marshals a hand-written schema map. Schemas are static; a
// marshal failure is a programming error.
func Schema(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("tools: invalid schema: %v", err))
	}
	return raw
}

// Context is the capability bundle built per tool call. It deliberately
// carries only the surface a tool needs, so tools never hold a session
// reference.
type Context struct {
	// Config is the session config snapshot for this turn.
	Config models.SessionConfig

	// Sandbox resolves every path argument.
	Sandbox *sandbox.Sandbox

	// Log emits a log event line to the session's clients.
	Log func(line string)

	// AskUser suspends until a client answers, or ctx is cancelled.
	// Nil when asking is disabled (sub-agents).
	AskUser func(ctx context.Context, question string, options []string) (string, error)

	// Approve classifies the command and, for prompt decisions, suspends
	// until a client decides.
	Approve func(ctx context.Context, command string) (bool, error)

	// UpdateTodos replaces the session todo list and broadcasts it.
	UpdateTodos func(todos []models.TodoItem) error

	// SpawnTurn runs a nested turn loop for spawnAgent. Nil when the
	// depth limit is reached.
	SpawnTurn func(ctx context.Context, agentType, task string, depth int) (string, error)

	// SpawnDepth is how many spawnAgent frames are above this call.
	SpawnDepth int

	// AvailableSkills lists discovered skill names for self-description.
	AvailableSkills []string

	// DataDir is the per-user cache directory (ripgrep binary).
	DataDir string
}

// logf is a nil-safe formatted log emit.
func (tc *Context) logf(format string, args ...any) {
	if tc.Log != nil {
		tc.Log(fmt.Sprintf(format, args...))
	}
}
