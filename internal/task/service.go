package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btouchard/tasklist/internal/store"
)

// Service validates and applies task mutations against the store.
// It never broadcasts; callers decide what to announce.
type Service struct {
	store        store.Store
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// NewService creates a Service. defaultLimit applies when a list request
// carries no limit; maxLimit caps every list response.
func NewService(st store.Store, defaultLimit, maxLimit int) *Service {
	if maxLimit < 1 {
		maxLimit = 1000
	}
	if defaultLimit < 1 || defaultLimit > maxLimit {
		defaultLimit = min(100, maxLimit)
	}
	return &Service{
		store:        st,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		now:          time.Now,
	}
}

// SetClock replaces the time source used for created/updated stamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create validates input and stores a new task in the TODO column.
func (s *Service) Create(ctx context.Context, in CreateInput) (Task, error) {
	clean, err := in.normalize()
	if err != nil {
		return Task{}, err
	}

	rec := &store.TaskRecord{
		Title:       clean.Title,
		Description: clean.Description,
		Assignee:    clean.Assignee,
		Status:      string(StatusTodo),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateTask(ctx, rec); err != nil {
		return Task{}, &StoreError{Op: "create task", Err: err}
	}

	slog.Info("task created", "task_id", rec.ID, "assignee", rec.Assignee)
	return fromRecord(rec), nil
}

// Get returns a single task.
func (s *Service) Get(ctx context.Context, id int64) (Task, error) {
	rec, err := s.store.GetTask(ctx, id)
	if err != nil {
		return Task{}, s.mapErr("get task", err)
	}
	return fromRecord(rec), nil
}

// SetStatus moves a task to another column and stamps its update time.
// Any status is reachable from any other.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) (Task, error) {
	if !status.Valid() {
		return Task{}, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", string(status))}
	}

	rec, err := s.store.UpdateTaskStatus(ctx, id, string(status), s.now().UTC())
	if err != nil {
		return Task{}, s.mapErr("update task", err)
	}

	slog.Info("task status changed", "task_id", id, "status", string(status))
	return fromRecord(rec), nil
}

// Delete removes a task.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return s.mapErr("delete task", err)
	}
	slog.Info("task deleted", "task_id", id)
	return nil
}

// List returns tasks matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Task, error) {
	sf, err := s.storeFilter(f)
	if err != nil {
		return nil, err
	}

	recs, err := s.store.ListTasks(ctx, sf)
	if err != nil {
		return nil, &StoreError{Op: "list tasks", Err: err}
	}

	tasks := make([]Task, 0, len(recs))
	for i := range recs {
		tasks = append(tasks, fromRecord(&recs[i]))
	}
	return tasks, nil
}

func (s *Service) storeFilter(f Filter) (store.TaskFilter, error) {
	if f.Offset < 0 {
		return store.TaskFilter{}, &ValidationError{Field: "skip", Message: "must not be negative"}
	}
	if f.Status != "" && !f.Status.Valid() {
		return store.TaskFilter{}, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", string(f.Status))}
	}

	search := strings.TrimSpace(f.Search)
	if utf8.RuneCountInString(search) > MaxSearchLen {
		return store.TaskFilter{}, &ValidationError{Field: "search", Message: fmt.Sprintf("must be at most %d characters", MaxSearchLen)}
	}

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}

	return store.TaskFilter{
		Status: string(f.Status),
		Search: search,
		Offset: f.Offset,
		Limit:  limit,
	}, nil
}

func (s *Service) mapErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return &StoreError{Op: op, Err: err}
}
