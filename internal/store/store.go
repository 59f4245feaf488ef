package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row matches the requested identifier.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface for task records.
// Every method is atomic with respect to a single record.
type Store interface {
	// CreateTask inserts t and fills in its ID. CreatedAt must be set by the caller.
	CreateTask(ctx context.Context, t *TaskRecord) error
	GetTask(ctx context.Context, id int64) (*TaskRecord, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]TaskRecord, error)
	// UpdateTaskStatus sets status and updated_at and returns the stored row.
	UpdateTaskStatus(ctx context.Context, id int64, status string, updatedAt time.Time) (*TaskRecord, error)
	DeleteTask(ctx context.Context, id int64) error

	Close() error
}

// TaskRecord represents a persisted task.
type TaskRecord struct {
	ID          int64
	Title       string
	Description string
	Assignee    string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time // zero until the first status change
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status string // exact match on the stored status code; empty means any
	Search string // case-insensitive substring of the unescaped title
	Offset int
	Limit  int // 0 means no limit
}
