// Package query translates query descriptors into parameterized SQL statements.
//
// A descriptor names its origin in one of three ways, checked in this order:
// explicit query text, a named query registered on the entity mapping, or a
// repository method name parsed with the derived-query grammar
// (findByUsernameAndAgeGreaterThan). Descriptors are prepared once and bound
// many times with different arguments and paging.
package query

import (
	"fmt"
	"strings"
)

// Shape is the result shape a descriptor produces
type Shape int

const (
	// ShapeAuto infers the shape from the method prefix or statement kind
	ShapeAuto Shape = iota
	// ShapeSingle returns at most one entity
	ShapeSingle
	// ShapeList returns an ordered sequence of entities
	ShapeList
	// ShapePage returns one page plus the total element count
	ShapePage
	// ShapeSlice returns one page and whether another follows, without counting
	ShapeSlice
	// ShapeCount returns the number of matching rows
	ShapeCount
	// ShapeExists reports whether any row matches
	ShapeExists
	// ShapeScalar returns projected column values that never become entities
	ShapeScalar
	// ShapeModifying returns the number of affected rows
	ShapeModifying
)

var shapeNames = map[Shape]string{
	ShapeAuto:      "auto",
	ShapeSingle:    "single",
	ShapeList:      "list",
	ShapePage:      "page",
	ShapeSlice:     "slice",
	ShapeCount:     "count",
	ShapeExists:    "exists",
	ShapeScalar:    "scalar",
	ShapeModifying: "modifying",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// ParseShape converts a shape name back to its value
func ParseShape(name string) (Shape, error) {
	for shape, n := range shapeNames {
		if strings.EqualFold(n, name) {
			return shape, nil
		}
	}
	return ShapeAuto, fmt.Errorf("unknown result shape %q", name)
}

// pageable reports whether sort and paging may be appended
func (s Shape) pageable() bool {
	return s == ShapeList || s == ShapePage || s == ShapeSlice
}

// entityResult reports whether rows become managed entities
func (s Shape) entityResult() bool {
	return s == ShapeSingle || s == ShapeList || s == ShapePage || s == ShapeSlice
}

// LockMode is the row lock requested by a read
type LockMode int

const (
	LockNone LockMode = iota
	// LockShared blocks writers until the transaction ends (FOR SHARE)
	LockShared
	// LockExclusive blocks writers and other lockers until the transaction ends (FOR UPDATE)
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	default:
		return "none"
	}
}

// ParseLockMode converts a lock mode name back to its value
func ParseLockMode(name string) (LockMode, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return LockNone, nil
	case "shared", "share", "pessimistic_read":
		return LockShared, nil
	case "exclusive", "update", "pessimistic_write":
		return LockExclusive, nil
	default:
		return LockNone, fmt.Errorf("unknown lock mode %q", name)
	}
}

// Hints adjust how results are materialized
type Hints struct {
	// ReadOnly registers results without a snapshot; they are never flushed
	ReadOnly bool
	// EntityGraph names root associations to join and load eagerly for this query only
	EntityGraph []string
}

// Descriptor is the immutable definition of one repository query method
type Descriptor struct {
	// Entity is the logical name of the root entity
	Entity string
	// Method is the repository method name; derived queries parse it and
	// named queries are looked up by it
	Method string
	// Query is explicit query text, taking precedence over everything else
	Query string
	// CountQuery replaces the derived count statement of a page query
	CountQuery string
	Shape      Shape
	Lock       LockMode
	Hints      Hints
}

// cacheKey is the identity of a descriptor inside the prepared cache
func (d Descriptor) cacheKey() string {
	var b strings.Builder
	for _, part := range []string{
		d.Entity, d.Method, d.Query, d.CountQuery,
		d.Shape.String(), d.Lock.String(),
		fmt.Sprint(d.Hints.ReadOnly), strings.Join(d.Hints.EntityGraph, ","),
	} {
		b.WriteString(part)
		b.WriteByte(0)
	}
	return b.String()
}

// Args are named query arguments
type Args map[string]any

// Direction is a sort direction
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Order sorts by one field of the root entity
type Order struct {
	Field     string
	Direction Direction
}

// Sort is an ordered list of sort orders
type Sort struct {
	Orders []Order
}

// By creates an ascending sort over fields
func By(fields ...string) Sort {
	s := Sort{}
	for _, f := range fields {
		s.Orders = append(s.Orders, Order{Field: f, Direction: Asc})
	}
	return s
}

// Descending returns a copy of the sort with every order descending
func (s Sort) Descending() Sort {
	out := Sort{Orders: make([]Order, len(s.Orders))}
	for i, o := range s.Orders {
		out.Orders[i] = Order{Field: o.Field, Direction: Desc}
	}
	return out
}

// IsSorted reports whether any order is present
func (s Sort) IsSorted() bool {
	return len(s.Orders) > 0
}

// Pageable requests one page of results. A Size of zero means unpaged; the
// sort still applies.
type Pageable struct {
	Page int
	Size int
	Sort Sort
}

// PageRequest creates a pageable for page (zero-based) of size
func PageRequest(page, size int, sort ...Order) *Pageable {
	return &Pageable{Page: page, Size: size, Sort: Sort{Orders: sort}}
}

// Unpaged returns a pageable that only sorts
func Unpaged(sort Sort) *Pageable {
	return &Pageable{Sort: sort}
}

// Offset is the index of the first row of the page
func (p *Pageable) Offset() int {
	if p == nil || p.Size <= 0 {
		return 0
	}
	return p.Page * p.Size
}

// IsPaged reports whether a page size is set
func (p *Pageable) IsPaged() bool {
	return p != nil && p.Size > 0
}

// Next returns the pageable of the following page
func (p *Pageable) Next() *Pageable {
	return &Pageable{Page: p.Page + 1, Size: p.Size, Sort: p.Sort}
}

func (p *Pageable) validate() error {
	if p.Page < 0 {
		return fmt.Errorf("page index must not be negative")
	}
	if p.Size < 0 {
		return fmt.Errorf("page size must not be negative")
	}
	for _, o := range p.Sort.Orders {
		if o.Direction != "" && o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("unknown sort direction %q", o.Direction)
		}
	}
	return nil
}
