package models

import "fmt"

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry of a session's plan. ActiveForm is the
// present-continuous label UIs show while the item is in progress.
type TodoItem struct {
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm,omitempty"`
	Status     TodoStatus `json:"status"`
}

// ValidateTodos rejects lists with empty content, unknown statuses, or more
// than one in_progress entry.
func ValidateTodos(todos []TodoItem) error {
	inProgress := 0
	for i, t := range todos {
		if t.Content == "" {
			return fmt.Errorf("todo %d: content is required", i)
		}
		switch t.Status {
		case TodoPending, TodoInProgress, TodoCompleted:
		default:
			return fmt.Errorf("todo %d: invalid status %q", i, t.Status)
		}
		if t.Status == TodoInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("at most one todo may be in_progress, got %d", inProgress)
	}
	return nil
}
