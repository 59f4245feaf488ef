package board

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/btouchard/tasklist/internal/notify"
	"github.com/btouchard/tasklist/internal/task"
)

const tracerName = "github.com/btouchard/tasklist/internal/board"

// Board is the single entry point for task mutations. Every successful
// mutation publishes exactly one notification, and notifications are
// published in commit order.
type Board struct {
	svc *task.Service
	pub notify.Publisher

	mu sync.Mutex
}

// New creates a Board.
func New(svc *task.Service, pub notify.Publisher) *Board {
	return &Board{svc: svc, pub: pub}
}

// Create stores a new task and announces it.
func (b *Board) Create(ctx context.Context, in task.CreateInput) (task.Task, error) {
	ctx, span := b.start(ctx, "board.create")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.svc.Create(ctx, in)
	if err != nil {
		return task.Task{}, record(span, err)
	}
	b.pub.Publish(notify.Created(t))
	span.SetAttributes(attribute.Int64("task.id", t.ID))
	return t, nil
}

// SetStatus moves a task and announces the new state.
func (b *Board) SetStatus(ctx context.Context, id int64, status task.Status) (task.Task, error) {
	ctx, span := b.start(ctx, "board.set_status",
		attribute.Int64("task.id", id),
		attribute.String("task.status", string(status)))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.svc.SetStatus(ctx, id, status)
	if err != nil {
		return task.Task{}, record(span, err)
	}
	b.pub.Publish(notify.Updated(t))
	return t, nil
}

// Delete removes a task and announces its id.
func (b *Board) Delete(ctx context.Context, id int64) error {
	ctx, span := b.start(ctx, "board.delete", attribute.Int64("task.id", id))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.svc.Delete(ctx, id); err != nil {
		return record(span, err)
	}
	b.pub.Publish(notify.Deleted(id))
	return nil
}

// Get returns a single task.
func (b *Board) Get(ctx context.Context, id int64) (task.Task, error) {
	ctx, span := b.start(ctx, "board.get", attribute.Int64("task.id", id))
	defer span.End()

	t, err := b.svc.Get(ctx, id)
	return t, record(span, err)
}

// List returns tasks matching f, newest first.
func (b *Board) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	ctx, span := b.start(ctx, "board.list")
	defer span.End()

	tasks, err := b.svc.List(ctx, f)
	if err != nil {
		return nil, record(span, err)
	}
	span.SetAttributes(attribute.Int("tasks", len(tasks)))
	return tasks, nil
}

func (b *Board) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// record marks the span failed for anything other than a client error.
func record(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if task.IsStoreError(err) {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
