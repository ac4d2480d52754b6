package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/orm"
	"github.com/ammar0144/persist4go/pkg/query"
)

// FindOption adjusts a repository read
type FindOption func(*findOptions)

type findOptions struct {
	readOnly bool
	lock     query.LockMode
	graph    []string
	sort     query.Sort
}

// WithEntityGraph loads the named association paths in the same statement
func WithEntityGraph(paths ...string) FindOption {
	return func(o *findOptions) {
		o.graph = append(o.graph, paths...)
	}
}

// WithSort orders FindAll results
func WithSort(sort query.Sort) FindOption {
	return func(o *findOptions) {
		o.sort = sort
	}
}

// WithReadOnly registers loaded entities without snapshots
func WithReadOnly() FindOption {
	return func(o *findOptions) {
		o.readOnly = true
	}
}

// WithLock reads rows with a row lock held until the transaction ends
func WithLock(mode query.LockMode) FindOption {
	return func(o *findOptions) {
		o.lock = mode
	}
}

func collectOptions(opts []FindOption) findOptions {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GenericRepository provides the standard operations of one entity type on top
// of the persistence engine
type GenericRepository[T Entity] struct {
	engine  *orm.Engine
	name    string
	mapping *mapping.Entity
}

// NewGenericRepository creates a repository for T. T must be registered in the
// engine's mapping registry.
func NewGenericRepository[T Entity](engine *orm.Engine) (*GenericRepository[T], error) {
	model, err := newModel[T]()
	if err != nil {
		return nil, err
	}
	name := model.EntityName()
	m, ok := engine.Registry().Lookup(name)
	if !ok {
		return nil, fmt.Errorf("entity type %T (%s) is not mapped", model, name)
	}
	return &GenericRepository[T]{engine: engine, name: name, mapping: m}, nil
}

// MustNewGenericRepository is NewGenericRepository for static wiring; it panics on error
func MustNewGenericRepository[T Entity](engine *orm.Engine) *GenericRepository[T] {
	r, err := NewGenericRepository[T](engine)
	if err != nil {
		panic(fmt.Sprintf("repository: %v", err))
	}
	return r
}

// EntityName returns the logical name of T
func (r *GenericRepository[T]) EntityName() string {
	return r.name
}

// rootQuery is the explicit text selecting every T
func (r *GenericRepository[T]) rootQuery(projection string) string {
	return fmt.Sprintf("select %s from %s x", projection, r.name)
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// FindByID returns the entity with identifier id. The boolean is false when no
// such row exists.
func (r *GenericRepository[T]) FindByID(ctx context.Context, s *orm.Session, id any, opts ...FindOption) (T, bool, error) {
	var zero T
	if id == nil {
		return zero, false, fmt.Errorf("id cannot be nil")
	}
	o := collectOptions(opts)
	found, err := s.FindWith(ctx, r.name, id, orm.FindOptions{
		ReadOnly:    o.readOnly,
		Lock:        o.lock,
		EntityGraph: o.graph,
	})
	if err != nil || found == nil {
		return zero, false, err
	}
	v, ok := found.(T)
	if !ok {
		return zero, false, fmt.Errorf("result %T is not a %T", found, zero)
	}
	return v, true, nil
}

// GetByID is FindByID that fails with NotFoundError when the row is missing
func (r *GenericRepository[T]) GetByID(ctx context.Context, s *orm.Session, id any, opts ...FindOption) (T, error) {
	v, ok, err := r.FindByID(ctx, s, id, opts...)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, &NotFoundError{Entity: r.name, ID: id}
	}
	return v, nil
}

// FindAll returns every entity, optionally sorted and with an entity graph
func (r *GenericRepository[T]) FindAll(ctx context.Context, s *orm.Session, opts ...FindOption) ([]T, error) {
	o := collectOptions(opts)
	method, err := r.findAllMethod(o, query.ShapeList)
	if err != nil {
		return nil, err
	}
	var page *query.Pageable
	if o.sort.IsSorted() {
		page = query.Unpaged(o.sort)
	}
	return method.ListPaged(ctx, s, nil, page)
}

// FindAllPaged returns one page of every entity
func (r *GenericRepository[T]) FindAllPaged(ctx context.Context, s *orm.Session, page *query.Pageable, opts ...FindOption) (*Page[T], error) {
	o := collectOptions(opts)
	method, err := r.findAllMethod(o, query.ShapePage)
	if err != nil {
		return nil, err
	}
	return method.Page(ctx, s, nil, page)
}

func (r *GenericRepository[T]) findAllMethod(o findOptions, shape query.Shape) (*Method[T], error) {
	return r.Define(query.Descriptor{
		Method: "findAll",
		Query:  r.rootQuery("x"),
		Shape:  shape,
		Lock:   o.lock,
		Hints:  query.Hints{ReadOnly: o.readOnly, EntityGraph: o.graph},
	})
}

// Count returns the number of rows
func (r *GenericRepository[T]) Count(ctx context.Context, s *orm.Session) (int64, error) {
	method, err := r.Define(query.Descriptor{
		Method: "count",
		Query:  r.rootQuery("count(x)"),
		Shape:  query.ShapeCount,
	})
	if err != nil {
		return 0, err
	}
	return method.Count(ctx, s, nil)
}

// ExistsByID reports whether a row with identifier id exists without loading it
func (r *GenericRepository[T]) ExistsByID(ctx context.Context, s *orm.Session, id any) (bool, error) {
	if id == nil {
		return false, fmt.Errorf("id cannot be nil")
	}
	method, err := r.Define(query.Descriptor{
		Method: "existsById",
		Query:  fmt.Sprintf("%s where x.%s = :id", r.rootQuery("count(x)"), r.mapping.ID.Field),
		Shape:  query.ShapeExists,
	})
	if err != nil {
		return false, err
	}
	return method.Exists(ctx, s, query.Args{"id": id})
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Save inserts a new entity, keeps a managed one or merges a detached one. The
// returned instance is the managed one.
func (r *GenericRepository[T]) Save(ctx context.Context, s *orm.Session, e T) (T, error) {
	var zero T
	saved, err := s.Save(ctx, e)
	if err != nil {
		return zero, err
	}
	v, ok := saved.(T)
	if !ok {
		return zero, fmt.Errorf("result %T is not a %T", saved, zero)
	}
	return v, nil
}

// SaveAll saves entities in order
func (r *GenericRepository[T]) SaveAll(ctx context.Context, s *orm.Session, entities []T) ([]T, error) {
	out := make([]T, 0, len(entities))
	for i, e := range entities {
		saved, err := r.Save(ctx, s, e)
		if err != nil {
			return nil, fmt.Errorf("save %s %d of %d: %w", r.name, i+1, len(entities), err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// Delete schedules the removal of an entity
func (r *GenericRepository[T]) Delete(ctx context.Context, s *orm.Session, e T) error {
	return s.Delete(ctx, e)
}

// DeleteByID schedules the removal of the entity with identifier id and fails
// with NotFoundError when there is none
func (r *GenericRepository[T]) DeleteByID(ctx context.Context, s *orm.Session, id any) error {
	v, err := r.GetByID(ctx, s, id)
	if err != nil {
		return err
	}
	return s.Delete(ctx, v)
}

// ============================================================================
// QUERY METHODS
// ============================================================================

// Define prepares a query method of T. The descriptor's entity defaults to T.
func (r *GenericRepository[T]) Define(d query.Descriptor) (*Method[T], error) {
	if d.Entity == "" {
		d.Entity = r.name
	}
	if d.Entity != r.name {
		return nil, fmt.Errorf("descriptor targets %s, repository serves %s", d.Entity, r.name)
	}
	prepared, err := r.engine.Translator().Prepare(d)
	if err != nil {
		return nil, err
	}
	return &Method[T]{prepared: prepared}, nil
}

// MustDefine is Define for static wiring; it panics on error
func (r *GenericRepository[T]) MustDefine(d query.Descriptor) *Method[T] {
	m, err := r.Define(d)
	if err != nil {
		panic(fmt.Sprintf("repository %s: %v", r.name, err))
	}
	return m
}

// ============================================================================
// CACHE MANAGEMENT
// ============================================================================

// InvalidateCache drops every cached row of T from the second-level cache
func (r *GenericRepository[T]) InvalidateCache(ctx context.Context) error {
	c := r.engine.Cache()
	if c == nil {
		return nil
	}
	if err := c.EvictRegion(ctx, r.mapping.Table); err != nil {
		return fmt.Errorf("invalidate %s cache: %w", r.name, err)
	}
	return nil
}
