package task

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btouchard/tasklist/internal/store"
)

// Field bounds, counted in characters after trimming.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxAssigneeLen    = 100
	MaxSearchLen      = 200
)

// Status represents where a task sits on the board.
// The constant values are the stable codes persisted by the store; clients
// see the labels returned by Label.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

var statusLabels = map[Status]string{
	StatusTodo:       "To Do",
	StatusInProgress: "In Progress",
	StatusDone:       "Done",
}

// Statuses lists every status in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Label returns the wire representation ("To Do", "In Progress", "Done").
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseStatus accepts a wire label ("In Progress") or, case-insensitively,
// a status code ("in_progress").
func ParseStatus(v string) (Status, error) {
	for s, label := range statusLabels {
		if v == label {
			return s, nil
		}
	}
	code := Status(strings.ToUpper(strings.TrimSpace(v)))
	if code.Valid() {
		return code, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", v)}
}

// MarshalText renders the wire label.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid task status %q", string(s))
	}
	return []byte(s.Label()), nil
}

// UnmarshalText parses a wire label or status code.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Task is the canonical, immutable view of a stored task.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

func fromRecord(r *store.TaskRecord) Task {
	t := Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Assignee:    r.Assignee,
		Status:      Status(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if !r.UpdatedAt.IsZero() {
		u := r.UpdatedAt.UTC()
		t.UpdatedAt = &u
	}
	return t
}

// CreateInput carries the client-supplied fields of a new task.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
}

// normalize trims and escapes every field and checks its bounds.
func (in CreateInput) normalize() (CreateInput, error) {
	var err error
	out := CreateInput{}
	if out.Title, err = cleanField("title", in.Title, MaxTitleLen); err != nil {
		return CreateInput{}, err
	}
	if out.Description, err = cleanField("description", in.Description, MaxDescriptionLen); err != nil {
		return CreateInput{}, err
	}
	if out.Assignee, err = cleanField("assignee", in.Assignee, MaxAssigneeLen); err != nil {
		return CreateInput{}, err
	}
	return out, nil
}

func cleanField(name, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	n := utf8.RuneCountInString(v)
	if n == 0 {
		return "", &ValidationError{Field: name, Message: "must not be empty"}
	}
	if n > max {
		return "", &ValidationError{Field: name, Message: fmt.Sprintf("must be at most %d characters", max)}
	}
	return html.EscapeString(v), nil
}

// Filter specifies criteria for listing tasks.
type Filter struct {
	Status Status // empty means any
	Search string
	Offset int
	Limit  int // 0 selects the service default
}
