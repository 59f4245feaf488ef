package notify

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/btouchard/tasklist/internal/task"
)

// Kind is the "type" field of a pushed notification.
type Kind string

const (
	KindCreated Kind = "task_created"
	KindUpdated Kind = "task_updated"
	KindDeleted Kind = "task_deleted"
)

// Notification announces one committed mutation. The zero value is invalid;
// build one with Created, Updated or Deleted.
type Notification struct {
	kind   Kind
	task   task.Task
	taskID int64
}

// Created announces a new task.
func Created(t task.Task) Notification {
	return Notification{kind: KindCreated, task: snapshot(t), taskID: t.ID}
}

// Updated announces a status change.
func Updated(t task.Task) Notification {
	return Notification{kind: KindUpdated, task: snapshot(t), taskID: t.ID}
}

// Deleted announces a removal. Only the identifier travels.
func Deleted(id int64) Notification {
	return Notification{kind: KindDeleted, taskID: id}
}

// snapshot detaches t from any pointer the caller still holds.
func snapshot(t task.Task) task.Task {
	if t.UpdatedAt != nil {
		u := *t.UpdatedAt
		t.UpdatedAt = &u
	}
	return t
}

func (n Notification) Kind() Kind    { return n.kind }
func (n Notification) TaskID() int64 { return n.taskID }

type envelope struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

type deletedData struct {
	ID int64 `json:"id"`
}

func (n Notification) envelope() (envelope, error) {
	switch n.kind {
	case KindCreated, KindUpdated:
		return envelope{Type: n.kind, Data: n.task}, nil
	case KindDeleted:
		return envelope{Type: n.kind, Data: deletedData{ID: n.taskID}}, nil
	default:
		return envelope{}, fmt.Errorf("unknown notification kind %q", n.kind)
	}
}

// Encode renders the wire payload:
//
//	{"type":"task_created","data":{...task...}}
//	{"type":"task_deleted","data":{"id":1}}
//
// A failure here means the canonical task itself is malformed.
func (n Notification) Encode() ([]byte, error) {
	env, err := n.envelope()
	if err != nil {
		return nil, err
	}
	data, err := sonic.ConfigStd.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s notification for task %d: %w", n.kind, n.taskID, err)
	}
	return data, nil
}
