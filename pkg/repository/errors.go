package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError
	ErrNotFound = errors.New("entity not found")

	// ErrNonUniqueResult is returned when a single-result query matches several rows
	ErrNonUniqueResult = errors.New("query returned more than one result")
)

// NotFoundError is returned by operations that require an existing row
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %v: %v", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNonUniqueResult checks if an error is ErrNonUniqueResult
func IsNonUniqueResult(err error) bool {
	return errors.Is(err, ErrNonUniqueResult)
}
