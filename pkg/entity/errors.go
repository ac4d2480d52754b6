package entity

import (
	"errors"
	"fmt"
)

// ErrDetached is matched by every DetachedAccessError
var ErrDetached = errors.New("entity is detached from its persistence context")

// DetachedAccessError is returned when a lazy association is accessed after
// the persistence context that produced it ended or was cleared
type DetachedAccessError struct {
	Entity      string
	ID          any
	Association string
}

func (e *DetachedAccessError) Error() string {
	switch {
	case e.Entity != "" && e.Association != "":
		return fmt.Sprintf("lazy load of %s.%s (id %v): %v", e.Entity, e.Association, e.ID, ErrDetached)
	case e.Association != "":
		return fmt.Sprintf("lazy load of %s: %v", e.Association, ErrDetached)
	default:
		return ErrDetached.Error()
	}
}

func (e *DetachedAccessError) Unwrap() error {
	return ErrDetached
}

// IsDetached checks if an error is a DetachedAccessError
func IsDetached(err error) bool {
	return errors.Is(err, ErrDetached)
}
