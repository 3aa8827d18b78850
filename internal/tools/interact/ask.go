// Package interact implements the tools that talk back to the user: ask
// and todoWrite.
package interact

import (
	"context"
	"encoding/json"

	"github.com/coworklabs/cowork/internal/tools"
)

// AskTool lets the model solicit a structured answer from the user. The
// call suspends until a client responds or the turn is cancelled.
type AskTool struct{}

type askArgs struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (t *AskTool) Name() string { return "ask" }

func (t *AskTool) Description() string {
	return "Ask the user a question and wait for their answer. Optionally offer a fixed set of options."
}

func (t *AskTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{
				"type":        "string",
				"description": "The question to put to the user",
			},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional fixed choices",
			},
		},
		"required": []string{"question"},
	})
}

func (t *AskTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args askArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if args.Question == "" {
		return tools.ErrorResult("question must not be empty"), nil
	}
	if tc.AskUser == nil {
		return tools.ErrorResult("asking the user is not available in this context"), nil
	}

	answer, err := tc.AskUser(ctx, args.Question, args.Options)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: answer}, nil
}
