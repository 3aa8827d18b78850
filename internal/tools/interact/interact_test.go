package interact

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/coworklabs/cowork/internal/tools"
	"github.com/coworklabs/cowork/pkg/models"
)

func TestAskReturnsAnswer(t *testing.T) {
	tc := &tools.Context{
		AskUser: func(_ context.Context, question string, options []string) (string, error) {
			if question != "pick one" || len(options) != 2 {
				t.Errorf("question=%q options=%v", question, options)
			}
			return "blue", nil
		},
	}
	raw, _ := json.Marshal(map[string]any{"question": "pick one", "options": []string{"red", "blue"}})
	res, err := (&AskTool{}).Execute(context.Background(), tc, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || res.Content != "blue" {
		t.Errorf("got %+v", res)
	}
}

func TestAskWithoutCapability(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"question": "q"})
	res, err := (&AskTool{}).Execute(context.Background(), &tools.Context{}, raw)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected error result when AskUser is disabled")
	}
}

func TestTodoWriteValidates(t *testing.T) {
	var got []models.TodoItem
	tc := &tools.Context{
		UpdateTodos: func(todos []models.TodoItem) error {
			got = todos
			return nil
		},
	}

	raw, _ := json.Marshal(map[string]any{"todos": []models.TodoItem{
		{Content: "a", Status: models.TodoInProgress},
		{Content: "b", Status: models.TodoInProgress},
	}})
	res, err := (&TodoTool{}).Execute(context.Background(), tc, raw)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("two in_progress items accepted")
	}
	if got != nil {
		t.Error("invalid list reached UpdateTodos")
	}

	raw, _ = json.Marshal(map[string]any{"todos": []models.TodoItem{
		{Content: "a", Status: models.TodoInProgress},
		{Content: "b", Status: models.TodoPending},
	}})
	res, err = (&TodoTool{}).Execute(context.Background(), tc, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("valid list rejected: %s", res.Content)
	}
	if len(got) != 2 {
		t.Errorf("UpdateTodos saw %d items", len(got))
	}
}
