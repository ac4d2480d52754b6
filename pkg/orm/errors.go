package orm

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations
var (
	// ErrSessionClosed is returned by every operation on a committed, rolled
	// back or aborted session
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotManaged is returned when an operation needs an instance that belongs
	// to the session's persistence context
	ErrNotManaged = errors.New("entity is not managed by this session")

	// ErrEntityNotFound is returned when a managed entity's row has disappeared
	ErrEntityNotFound = errors.New("entity row not found")

	// ErrTransientReference is returned when a saved entity points at an entity
	// that was never saved
	ErrTransientReference = errors.New("reference to an unsaved entity")

	// ErrUnknownEntity is returned for entities without a registered mapping
	ErrUnknownEntity = errors.New("entity is not mapped")
)

// EntityError attaches the entity key to a session failure
type EntityError struct {
	Op     string
	Entity string
	ID     any
	Err    error
}

func (e *EntityError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s %s#%v: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// IsSessionClosed checks if an error is ErrSessionClosed
func IsSessionClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}

// IsNotManaged checks if an error is ErrNotManaged
func IsNotManaged(err error) bool {
	return errors.Is(err, ErrNotManaged)
}
