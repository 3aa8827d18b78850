package interact

import (
	"context"
	"encoding/json"

	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
)

// TodoTool replaces the session todo list.
type TodoTool struct{}

type todoArgs struct {
	Todos []models.TodoItem `json:"todos"`
}

func (t *TodoTool) Name() string { return "todoWrite" }

func (t *TodoTool) Description() string {
	return "Replace the session's todo list. At most one item may be in_progress."
}

func (t *TodoTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content":    map[string]any{"type": "string"},
						"activeForm": map[string]any{"type": "string"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"pending", "in_progress", "completed"},
						},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	})
}

func (t *TodoTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args todoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if err := models.ValidateTodos(args.Todos); err != nil {
		return tools.ErrorResult("%v", err), nil
	}
	if tc.UpdateTodos == nil {
		return tools.ErrorResult("todo updates are not available in this context"), nil
	}
	if err := tc.UpdateTodos(args.Todos); err != nil {
		return tools.ErrorResult("update todos: %v", err), nil
	}
	return tools.TextResult("todo list updated (%d items)", len(args.Todos)), nil
}
