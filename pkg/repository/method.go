package repository

import (
	"context"

	"github.com/ammar0144/persist4go/pkg/orm"
	"github.com/ammar0144/persist4go/pkg/query"
)

// Method is a prepared query method of T, bound per call to arguments and a
// session
type Method[T Entity] struct {
	prepared *query.Prepared
}

// Prepared exposes the underlying prepared descriptor
func (m *Method[T]) Prepared() *query.Prepared {
	return m.prepared
}

func (m *Method[T]) requireShape(allowed ...query.Shape) error {
	shape := m.prepared.Shape()
	for _, s := range allowed {
		if shape == s {
			return nil
		}
	}
	return &query.ShapeError{
		Method: m.prepared.Descriptor().Method,
		Shape:  shape,
		Reason: "result shape does not support this call",
	}
}

// One returns the single matching entity. The boolean is false when nothing
// matches; several matches fail with ErrNonUniqueResult.
func (m *Method[T]) One(ctx context.Context, s *orm.Session, args query.Args) (T, bool, error) {
	var zero T
	if err := m.requireShape(query.ShapeSingle, query.ShapeList); err != nil {
		return zero, false, err
	}
	items, err := m.list(ctx, s, args, nil)
	if err != nil {
		return zero, false, err
	}
	switch len(items) {
	case 0:
		return zero, false, nil
	case 1:
		return items[0], true, nil
	default:
		return zero, false, ErrNonUniqueResult
	}
}

// List returns every matching entity
func (m *Method[T]) List(ctx context.Context, s *orm.Session, args query.Args) ([]T, error) {
	if err := m.requireShape(query.ShapeList, query.ShapeSingle); err != nil {
		return nil, err
	}
	return m.list(ctx, s, args, nil)
}

// ListPaged returns matching entities sorted and limited by page. A nil page
// behaves like List.
func (m *Method[T]) ListPaged(ctx context.Context, s *orm.Session, args query.Args, page *query.Pageable) ([]T, error) {
	if err := m.requireShape(query.ShapeList); err != nil {
		return nil, err
	}
	return m.list(ctx, s, args, page)
}

func (m *Method[T]) list(ctx context.Context, s *orm.Session, args query.Args, page *query.Pageable) ([]T, error) {
	stmt, err := m.prepared.Bind(args, page)
	if err != nil {
		return nil, err
	}
	found, err := s.List(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return cast[T](found)
}

// Page returns one page and the total number of matches. The count statement
// is skipped when the page itself shows the total.
func (m *Method[T]) Page(ctx context.Context, s *orm.Session, args query.Args, page *query.Pageable) (*Page[T], error) {
	if err := m.requireShape(query.ShapePage); err != nil {
		return nil, err
	}
	stmt, err := m.prepared.Bind(args, page)
	if err != nil {
		return nil, err
	}
	found, err := s.List(ctx, stmt)
	if err != nil {
		return nil, err
	}
	content, err := cast[T](found)
	if err != nil {
		return nil, err
	}

	var total int64
	switch {
	case page.Offset() == 0 && len(content) < page.Size:
		total = int64(len(content))
	case len(content) > 0 && len(content) < page.Size:
		total = int64(page.Offset() + len(content))
	default:
		if total, err = s.Count(ctx, stmt.Count); err != nil {
			return nil, err
		}
	}
	return NewPage(content, page, total), nil
}

// Slice returns one page and whether another follows, reading one extra row
// instead of counting
func (m *Method[T]) Slice(ctx context.Context, s *orm.Session, args query.Args, page *query.Pageable) (*Slice[T], error) {
	if err := m.requireShape(query.ShapeSlice); err != nil {
		return nil, err
	}
	stmt, err := m.prepared.Bind(args, page)
	if err != nil {
		return nil, err
	}
	found, err := s.List(ctx, stmt)
	if err != nil {
		return nil, err
	}
	content, err := cast[T](found)
	if err != nil {
		return nil, err
	}
	hasNext := len(content) > page.Size
	if hasNext {
		content = content[:page.Size]
	}
	return NewSlice(content, page, hasNext), nil
}

// Scalars returns projected rows that never become entities
func (m *Method[T]) Scalars(ctx context.Context, s *orm.Session, args query.Args) ([][]any, error) {
	if err := m.requireShape(query.ShapeScalar); err != nil {
		return nil, err
	}
	stmt, err := m.prepared.Bind(args, nil)
	if err != nil {
		return nil, err
	}
	return s.Rows(ctx, stmt)
}

// Count returns the number of matches
func (m *Method[T]) Count(ctx context.Context, s *orm.Session, args query.Args) (int64, error) {
	if err := m.requireShape(query.ShapeCount); err != nil {
		return 0, err
	}
	stmt, err := m.prepared.Bind(args, nil)
	if err != nil {
		return 0, err
	}
	return s.Count(ctx, stmt)
}

// Exists reports whether anything matches
func (m *Method[T]) Exists(ctx context.Context, s *orm.Session, args query.Args) (bool, error) {
	if err := m.requireShape(query.ShapeExists); err != nil {
		return false, err
	}
	stmt, err := m.prepared.Bind(args, nil)
	if err != nil {
		return false, err
	}
	n, err := s.Count(ctx, stmt)
	return n > 0, err
}

// Execute runs a modifying method and returns the number of affected rows.
// Derived deletes remove each loaded entity through the session; explicit
// update and delete text runs as a bulk statement.
func (m *Method[T]) Execute(ctx context.Context, s *orm.Session, args query.Args) (int64, error) {
	if err := m.requireShape(query.ShapeModifying); err != nil {
		return 0, err
	}
	stmt, err := m.prepared.Bind(args, nil)
	if err != nil {
		return 0, err
	}
	return s.Execute(ctx, stmt)
}
