package types

import "strings"

type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
	TodoStatusFailed     TodoStatus = "failed"
)

type TodoItem struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

func NormalizeTodoStatus(raw string) TodoStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "todo", "open":
		return TodoStatusPending
	case "in_progress", "in-progress", "active", "doing":
		return TodoStatusInProgress
	case "completed", "complete", "done":
		return TodoStatusCompleted
	case "failed", "error", "cancelled", "canceled":
		return TodoStatusFailed
	default:
		return TodoStatusPending
	}
}

func CloneTodos(in []TodoItem) []TodoItem {
	if in == nil {
		return nil
	}
	return append([]TodoItem{}, in...)
}
