package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the referenced task does not exist.
var ErrNotFound = errors.New("task not found")

// ValidationError reports client input that violates a field constraint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// StoreError wraps a persistence failure. No notification is ever emitted
// for an operation that failed with a StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err was caused by the persistence layer.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
