package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/btouchard/tasklist/internal/notify"

const (
	// DefaultQueueSize is the number of notifications buffered per observer.
	DefaultQueueSize = 64
	// DefaultDrainTimeout bounds how long Close waits for queued notifications.
	DefaultDrainTimeout = 5 * time.Second
)

var errQueueFull = errors.New("observer queue full")

// Conn is one live observer channel. Send is only ever called from the
// connection's own writer goroutine, one payload at a time. Close must
// unblock a Send in progress.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithQueueSize sets how many notifications each observer may have
// outstanding before it is dropped.
func WithQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithDrainTimeout sets how long Close waits for observers to receive what
// is already queued for them.
func WithDrainTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// outbox is the FIFO queue in front of one connection.
type outbox struct {
	conn  Conn
	queue chan []byte
	stop  chan struct{}
	once  sync.Once
	done  chan struct{}
}

func (o *outbox) halt() {
	o.once.Do(func() { close(o.stop) })
}

// Registry owns the live set of observer connections and broadcasts
// notifications to them. Each connection has its own queue and writer, so
// a stalled observer never holds up the others; one whose queue overflows
// or whose delivery fails is dropped.
type Registry struct {
	queueSize    int
	drainTimeout time.Duration

	mu     sync.RWMutex
	conns  map[string]*outbox
	closed bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		queueSize:    DefaultQueueSize,
		drainTimeout: DefaultDrainTimeout,
		conns:        make(map[string]*outbox),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c to the live set. It receives every broadcast that starts
// after Register returns. Registering on a closed Registry closes c.
func (r *Registry) Register(c Conn) {
	o := &outbox{
		conn:  c,
		queue: make(chan []byte, r.queueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = c.Close()
		slog.Debug("registry closed, refusing observer", "conn_id", c.ID())
		return
	}
	prev := r.conns[c.ID()]
	r.conns[c.ID()] = o
	n := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		prev.halt()
	}
	go r.drain(o)

	slog.Info("observer connected", "conn_id", c.ID(), "observers", n)
}

// Deregister removes c and closes it. Removing an absent connection, or a
// stale one whose ID has since been registered again, is a no-op.
func (r *Registry) Deregister(c Conn) {
	r.mu.Lock()
	o, ok := r.conns[c.ID()]
	if !ok || !sameConn(o.conn, c) {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c.ID())
	n := len(r.conns)
	r.mu.Unlock()

	r.shut(o, n)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close stops accepting broadcasts, gives every observer up to the drain
// timeout to receive what is already queued, then drops them all.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	boxes := make([]*outbox, 0, len(r.conns))
	for id, o := range r.conns {
		boxes = append(boxes, o)
		delete(r.conns, id)
		close(o.queue)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()
	for _, o := range boxes {
		select {
		case <-o.done:
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		slog.Warn("observers did not drain before close", "observers", len(boxes))
	}
	for _, o := range boxes {
		r.shut(o, 0)
	}
}

// Deliver implements Sink.
func (r *Registry) Deliver(ctx context.Context, n Notification) error {
	r.Broadcast(ctx, n)
	return nil
}

// Broadcast encodes n once and queues it for every live connection.
// It returns the number of connections it was queued for.
func (r *Registry) Broadcast(ctx context.Context, n Notification) int {
	if r.Len() == 0 {
		slog.Debug("no observers connected", "type", string(n.Kind()))
		return 0
	}

	payload, err := n.Encode()
	if err != nil {
		slog.Error("dropping notification that cannot be encoded",
			"type", string(n.Kind()),
			"task_id", n.TaskID(),
			"error", err)
		return 0
	}
	return r.BroadcastPayload(ctx, n.Kind(), payload)
}

// BroadcastPayload queues an already encoded notification for every live
// connection without waiting on any of them. Connections whose queue is
// full are deregistered once the pass is over.
func (r *Registry) BroadcastPayload(ctx context.Context, kind Kind, payload []byte) int {
	_, span := otel.Tracer(tracerName).Start(ctx, "notify.broadcast",
		trace.WithAttributes(attribute.String("notification.type", string(kind))))
	defer span.End()

	var full []*outbox
	queued := 0

	r.mu.RLock()
	observers := len(r.conns)
	for _, o := range r.conns {
		select {
		case o.queue <- payload:
			queued++
		default:
			full = append(full, o)
		}
	}
	r.mu.RUnlock()

	for _, o := range full {
		slog.Warn("observer is not keeping up, dropping it",
			"conn_id", o.conn.ID(),
			"type", string(kind),
			"error", errQueueFull)
		r.drop(o)
	}

	span.SetAttributes(
		attribute.Int("observers", observers),
		attribute.Int("queued", queued),
		attribute.Int("dropped", len(full)))
	if len(full) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d observers dropped", len(full)))
	}

	if observers > 0 {
		slog.Info("notification broadcast",
			"type", string(kind),
			"observers", observers,
			"queued", queued)
	}
	return queued
}

// drain is the writer goroutine for one connection. Payloads go out in the
// order they were queued.
func (r *Registry) drain(o *outbox) {
	defer close(o.done)
	for {
		select {
		case <-o.stop:
			return
		case p, ok := <-o.queue:
			if !ok {
				return
			}
			if err := send(context.Background(), o.conn, p); err != nil {
				slog.Warn("delivery failed, dropping observer", "conn_id", o.conn.ID(), "error", err)
				r.drop(o)
				return
			}
		}
	}
}

// drop removes o if it is still the registered outbox for its ID.
func (r *Registry) drop(o *outbox) {
	id := o.conn.ID()
	r.mu.Lock()
	if r.conns[id] != o {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()

	r.shut(o, n)
}

func (r *Registry) shut(o *outbox, remaining int) {
	o.halt()
	if err := o.conn.Close(); err != nil {
		slog.Debug("closing observer", "conn_id", o.conn.ID(), "error", err)
	}
	slog.Info("observer disconnected", "conn_id", o.conn.ID(), "observers", remaining)
}

// send isolates one delivery so a panicking connection counts as a failure.
func send(ctx context.Context, c Conn, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("send panicked: %v", rec)
		}
	}()
	return c.Send(ctx, payload)
}

// sameConn reports whether a and b are the same connection. Types that
// cannot be compared with == are matched by ID.
func sameConn(a, b Conn) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if !ta.Comparable() {
		return a.ID() == b.ID()
	}
	return a == b
}
