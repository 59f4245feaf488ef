package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher accepts notifications in commit order.
type Publisher interface {
	Publish(n Notification)
}

// Sink receives notifications from the Dispatcher.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher hands notifications to its sinks one at a time, in the order
// they were published. Publish never blocks on delivery.
type Dispatcher struct {
	sinks []Sink

	mu     sync.Mutex
	queue  []Notification
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher creates a Dispatcher with the given sinks.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks: sinks,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// AddSink appends a sink. It must be called before Run.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Publish queues n behind every notification published before it.
func (d *Dispatcher) Publish(n Notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("dispatcher stopped, dropping notification", "type", string(n.Kind()), "task_id", n.TaskID())
		return
	}
	d.queue = append(d.queue, n)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued notifications until ctx is cancelled, then flushes
// whatever is still queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	// Deliveries are bounded by per-connection write timeouts, not by ctx,
	// so the shutdown flush still reaches observers.
	deliverCtx := context.WithoutCancel(ctx)

	for {
		batch := d.take(false)
		for _, n := range batch {
			d.dispatch(deliverCtx, n)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-d.wake:
		case <-ctx.Done():
			for _, n := range d.take(true) {
				d.dispatch(deliverCtx, n)
			}
			return
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of queued notifications.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) take(closing bool) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.queue
	d.queue = nil
	if closing {
		d.closed = true
	}
	return batch
}

func (d *Dispatcher) dispatch(ctx context.Context, n Notification) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, n); err != nil {
			slog.Error("notification sink failed",
				"type", string(n.Kind()),
				"task_id", n.TaskID(),
				"error", err)
		}
	}
}
