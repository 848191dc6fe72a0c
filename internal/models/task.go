package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums. TaskStatusInProgress is a legacy spelling of assigned
// still found in older rows; new writes always use TaskStatusAssigned.
const (
	TaskStatusOpen            = "open"
	TaskStatusAssigned        = "assigned"
	TaskStatusInProgress      = "in_progress"
	TaskStatusPendingComplete = "pending_complete"
	TaskStatusCompleted       = "completed"
	TaskStatusCancelled       = "cancelled"
)

// NormalizeTaskStatus folds legacy spellings into the canonical status.
func NormalizeTaskStatus(s string) string {
	if s == TaskStatusInProgress {
		return TaskStatusAssigned
	}
	return s
}

// ValidTaskStatus reports whether s is a known task status (legacy spellings included).
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusOpen, TaskStatusAssigned, TaskStatusInProgress, TaskStatusPendingComplete,
		TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

type Task struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	CategoryID  *uuid.UUID `json:"category_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Budget      string     `json:"budget"`
	BudgetCents int64      `json:"budget_cents"`
	Location    string     `json:"location"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	DueDate     time.Time  `json:"due_date"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Photos      []string   `json:"photos,omitempty"`
}

type TaskPhoto struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
