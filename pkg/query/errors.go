package query

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for query translation
var (
	// ErrBinding is matched by every BindingError
	ErrBinding = errors.New("query parameter binding failed")

	// ErrShape is matched by every ShapeError
	ErrShape = errors.New("query shape mismatch")

	// ErrInvalidQuery is matched by every QueryError
	ErrInvalidQuery = errors.New("invalid query")
)

// BindingError reports supplied arguments that do not match the placeholders
// of a statement. It is raised before anything reaches the backend.
type BindingError struct {
	Method     string
	Missing    []string
	Unexpected []string
	Reason     string
}

func (e *BindingError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	return fmt.Sprintf("%v in %s: %s", ErrBinding, e.Method, strings.Join(parts, "; "))
}

func (e *BindingError) Unwrap() error {
	return ErrBinding
}

// ShapeError reports a descriptor whose result shape does not fit the
// statement or the requested sort, paging or lock
type ShapeError struct {
	Method string
	Shape  Shape
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%v in %s (%s): %s", ErrShape, e.Method, e.Shape, e.Reason)
}

func (e *ShapeError) Unwrap() error {
	return ErrShape
}

// QueryError reports query text or a method name that cannot be translated
type QueryError struct {
	Method string
	Query  string
	Reason string
}

func (e *QueryError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("%v in %s: %s (query %q)", ErrInvalidQuery, e.Method, e.Reason, e.Query)
	}
	return fmt.Sprintf("%v in %s: %s", ErrInvalidQuery, e.Method, e.Reason)
}

func (e *QueryError) Unwrap() error {
	return ErrInvalidQuery
}

// IsBindingError checks if an error is a BindingError
func IsBindingError(err error) bool {
	return errors.Is(err, ErrBinding)
}

// IsShapeError checks if an error is a ShapeError
func IsShapeError(err error) bool {
	return errors.Is(err, ErrShape)
}

// IsQueryError checks if an error is a QueryError
func IsQueryError(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}
