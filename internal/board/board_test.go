package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/tasklist/internal/notify"
	"github.com/btouchard/tasklist/internal/store"
	"github.com/btouchard/tasklist/internal/task"
)

// capturePublisher records notifications in publish order.
type capturePublisher struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (p *capturePublisher) Publish(n notify.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
}

func (p *capturePublisher) all() []notify.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Notification(nil), p.got...)
}

func newTestBoard(t *testing.T) (*Board, *capturePublisher) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pub := &capturePublisher{}
	return New(task.NewService(st, 100, 1000), pub), pub
}

func validInput(title string) task.CreateInput {
	return task.CreateInput{Title: title, Description: "d", Assignee: "bob"}
}

func TestBoard_Create_PublishesCreated(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)

	got, err := b.Create(context.Background(), validInput("A"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, task.StatusTodo, got.Status)

	notes := pub.all()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.KindCreated, notes[0].Kind())
	assert.Equal(t, got.ID, notes[0].TaskID())
}

func TestBoard_Create_InvalidPublishesNothing(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)

	_, err := b.Create(context.Background(), task.CreateInput{Title: "  ", Description: "d", Assignee: "bob"})

	var ve *task.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)
	assert.Empty(t, pub.all())
}

func TestBoard_SetStatus_PublishesUpdated(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)
	created, err := b.Create(context.Background(), validInput("A"))
	require.NoError(t, err)

	got, err := b.SetStatus(context.Background(), created.ID, task.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)
	require.NotNil(t, got.UpdatedAt)

	notes := pub.all()
	require.Len(t, notes, 2)
	assert.Equal(t, notify.KindUpdated, notes[1].Kind())

	payload, err := notes[1].Encode()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"status":"Done"`)
}

func TestBoard_SetStatus_MissingPublishesNothing(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)

	_, err := b.SetStatus(context.Background(), 999, task.StatusDone)
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.Empty(t, pub.all())
}

func TestBoard_Delete_PublishesIDOnce(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)
	created, err := b.Create(context.Background(), validInput("A"))
	require.NoError(t, err)

	require.NoError(t, b.Delete(context.Background(), created.ID))
	assert.ErrorIs(t, b.Delete(context.Background(), created.ID), task.ErrNotFound)

	_, err = b.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)

	notes := pub.all()
	require.Len(t, notes, 2)
	assert.Equal(t, notify.KindDeleted, notes[1].Kind())
	assert.Equal(t, created.ID, notes[1].TaskID())
}

func TestBoard_StoreFailurePublishesNothing(t *testing.T) {
	t.Parallel()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	pub := &capturePublisher{}
	b := New(task.NewService(st, 100, 1000), pub)
	require.NoError(t, st.Close())

	_, err = b.Create(context.Background(), validInput("A"))
	assert.True(t, task.IsStoreError(err))
	assert.Empty(t, pub.all())
}

func TestBoard_ConcurrentMutations_PublishInCommitOrder(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)

	const n = 30
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Create(context.Background(), validInput(fmt.Sprintf("t%d", i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	notes := pub.all()
	require.Len(t, notes, n)
	for i, note := range notes {
		assert.Equal(t, int64(i+1), note.TaskID(), "ids are assigned in commit order")
	}
}

func TestBoard_InterleavedUpdates_LastNotificationMatchesStore(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)
	created, err := b.Create(context.Background(), validInput("A"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.SetStatus(context.Background(), created.ID, task.Statuses[i%len(task.Statuses)])
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := b.Get(context.Background(), created.ID)
	require.NoError(t, err)

	notes := pub.all()
	want, err := notify.Updated(final).Encode()
	require.NoError(t, err)
	got, err := notes[len(notes)-1].Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}

func TestBoard_List_PassesThrough(t *testing.T) {
	t.Parallel()
	b, pub := newTestBoard(t)
	for _, title := range []string{"alpha", "beta"} {
		_, err := b.Create(context.Background(), validInput(title))
		require.NoError(t, err)
	}

	tasks, err := b.List(context.Background(), task.Filter{Search: "alp"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "alpha", tasks[0].Title)
	assert.Len(t, pub.all(), 2, "reads publish nothing")

	_, err = b.List(context.Background(), task.Filter{Offset: -1})
	var ve *task.ValidationError
	assert.True(t, errors.As(err, &ve))
}
