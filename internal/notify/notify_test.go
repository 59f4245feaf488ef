package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btouchard/tasklist/internal/task"
)

// fakeConn records every payload it is sent.
type fakeConn struct {
	id string

	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closes   int

	// release, when set, blocks Send until it is closed.
	release chan struct{}
	// started is signalled when Send is entered.
	started chan struct{}
	panics  bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, started: make(chan struct{}, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	select {
	case c.started <- struct{}{}:
	default:
	}
	if c.panics {
		panic("boom")
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-c.closed:
			return errPeerGone
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	for i, p := range c.received {
		out[i] = string(p)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

var errPeerGone = errors.New("write: broken pipe")

func sampleTask(id int64) task.Task {
	return task.Task{
		ID:          id,
		Title:       fmt.Sprintf("task %d", id),
		Description: "d",
		Assignee:    "bob",
		Status:      task.StatusTodo,
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// recordingSink collects delivered notifications.
type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	err  error
	wait chan struct{}
}

func (s *recordingSink) Deliver(_ context.Context, n Notification) error {
	if s.wait != nil {
		<-s.wait
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.got))
	for i, n := range s.got {
		out[i] = n.TaskID()
	}
	return out
}
