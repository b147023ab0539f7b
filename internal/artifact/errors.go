package artifact

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// PersistenceError wraps local store I/O failures. Callers retry these a
// bounded number of times before treating the operation as fatal.
type PersistenceError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
