package entity

import (
	"context"
	"fmt"
)

// Kind distinguishes single-valued from collection-valued associations
type Kind int

const (
	ToOne Kind = iota
	ToMany
)

// Loader performs the deferred load of an association. It is bound by the
// engine to the persistence context and owner that produced the holder.
type Loader func(ctx context.Context) ([]Entity, error)

// Association is the engine-facing side of Ref and Collection.
// Application code uses the typed accessors on Ref and Collection instead.
type Association interface {
	// Kind reports whether the holder is single- or collection-valued
	Kind() Kind

	// Loaded reports whether the value is present in memory
	Loaded() bool

	// TargetID returns the identifier of the referenced entity for to-one
	// holders (loaded or not) and nil for collections or null references
	TargetID() any

	// Entities returns the loaded values
	Entities() []Entity

	// Attach replaces the holder content with loaded values
	Attach(values ...Entity) error

	// Append adds loaded values that are not already present (collections only)
	Append(values ...Entity) error

	// Defer marks the holder unloaded; the loader runs on first access
	Defer(id any, loader Loader)
}

type refState uint8

const (
	refNull refState = iota
	refLoaded
	refUnloaded
	// refDangling reads as null but keeps the foreign key of a missing row
	refDangling
)

// Ref holds a to-one association: Null, Loaded(value) or Unloaded(id, loader).
// A reference whose target row is gone reads as null and still reports the
// foreign key it was loaded with, so it is not written back as a change.
// The zero value is a null reference.
type Ref[T Entity] struct {
	state  refState
	value  T
	id     any
	loader Loader
}

// RefTo returns a loaded reference to v
func RefTo[T Entity](v T) Ref[T] {
	var r Ref[T]
	r.Set(v)
	return r
}

// Set points the reference at v
func (r *Ref[T]) Set(v T) {
	r.state = refLoaded
	r.value = v
	r.id = nil
	r.loader = nil
}

// Unset makes the reference null
func (r *Ref[T]) Unset() {
	var zero T
	r.state = refNull
	r.value = zero
	r.id = nil
	r.loader = nil
}

// IsNull reports whether the reference points nowhere
func (r *Ref[T]) IsNull() bool {
	return r.state == refNull || r.state == refDangling
}

// Dangling reports whether the reference names a row that does not exist
func (r *Ref[T]) Dangling() bool {
	return r.state == refDangling
}

// Kind implements Association
func (r *Ref[T]) Kind() Kind {
	return ToOne
}

// Loaded implements Association
func (r *Ref[T]) Loaded() bool {
	return r.state != refUnloaded
}

// Peek returns the value without triggering a load
func (r *Ref[T]) Peek() (T, bool) {
	if r.state == refLoaded {
		return r.value, true
	}
	var zero T
	return zero, false
}

// Get returns the referenced entity, loading it on first access.
// A null reference yields the zero value and no error.
func (r *Ref[T]) Get(ctx context.Context) (T, error) {
	var zero T
	switch r.state {
	case refNull, refDangling:
		return zero, nil
	case refLoaded:
		return r.value, nil
	}

	if r.loader == nil {
		return zero, &DetachedAccessError{ID: r.id, Association: fmt.Sprintf("%T", zero)}
	}

	loaded, err := r.loader(ctx)
	if err != nil {
		return zero, err
	}
	if len(loaded) == 0 {
		r.state = refDangling
		r.loader = nil
		return zero, nil
	}
	if err := r.Attach(loaded[0]); err != nil {
		return zero, err
	}
	return r.value, nil
}

// TargetID implements Association
func (r *Ref[T]) TargetID() any {
	switch r.state {
	case refLoaded:
		return r.value.ID()
	case refUnloaded, refDangling:
		return r.id
	default:
		return nil
	}
}

// Entities implements Association
func (r *Ref[T]) Entities() []Entity {
	if r.state != refLoaded {
		return nil
	}
	return []Entity{r.value}
}

// Attach implements Association
func (r *Ref[T]) Attach(values ...Entity) error {
	switch len(values) {
	case 0:
		r.Unset()
		return nil
	case 1:
		v, ok := values[0].(T)
		if !ok {
			var zero T
			return fmt.Errorf("cannot attach %T to reference of %T", values[0], zero)
		}
		r.Set(v)
		return nil
	default:
		return fmt.Errorf("to-one association cannot hold %d values", len(values))
	}
}

// Append implements Association; references hold a single value
func (r *Ref[T]) Append(values ...Entity) error {
	return r.Attach(values...)
}

// Defer implements Association
func (r *Ref[T]) Defer(id any, loader Loader) {
	var zero T
	if id == nil {
		r.Unset()
		return
	}
	r.state = refUnloaded
	r.value = zero
	r.id = id
	r.loader = loader
}

// Collection holds a to-many association. The zero value is loaded and empty,
// which is what a freshly constructed entity needs.
type Collection[T Entity] struct {
	unloaded bool
	items    []T
	loader   Loader
}

// CollectionOf returns a loaded collection holding items
func CollectionOf[T Entity](items ...T) Collection[T] {
	return Collection[T]{items: append([]T(nil), items...)}
}

// Kind implements Association
func (c *Collection[T]) Kind() Kind {
	return ToMany
}

// Loaded implements Association
func (c *Collection[T]) Loaded() bool {
	return !c.unloaded
}

// Items returns the loaded items without triggering a load
func (c *Collection[T]) Items() []T {
	if c.unloaded {
		return nil
	}
	return c.items
}

// Get returns the items, loading them on first access
func (c *Collection[T]) Get(ctx context.Context) ([]T, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return c.items, nil
}

// Add appends items that are not already present
func (c *Collection[T]) Add(ctx context.Context, items ...T) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	for _, item := range items {
		if c.indexOf(item) < 0 {
			c.items = append(c.items, item)
		}
	}
	return nil
}

// Remove drops items from the collection
func (c *Collection[T]) Remove(ctx context.Context, items ...T) error {
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	for _, item := range items {
		if i := c.indexOf(item); i >= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
	}
	return nil
}

func (c *Collection[T]) ensureLoaded(ctx context.Context) error {
	if !c.unloaded {
		return nil
	}
	if c.loader == nil {
		var zero T
		return &DetachedAccessError{Association: fmt.Sprintf("[]%T", zero)}
	}
	loaded, err := c.loader(ctx)
	if err != nil {
		return err
	}
	return c.Attach(loaded...)
}

func (c *Collection[T]) indexOf(item T) int {
	for i, existing := range c.items {
		if Entity(existing) == Entity(item) {
			return i
		}
	}
	return -1
}

// TargetID implements Association; collections have no single target
func (c *Collection[T]) TargetID() any {
	return nil
}

// Entities implements Association
func (c *Collection[T]) Entities() []Entity {
	if c.unloaded {
		return nil
	}
	out := make([]Entity, len(c.items))
	for i, item := range c.items {
		out[i] = item
	}
	return out
}

// Attach implements Association
func (c *Collection[T]) Attach(values ...Entity) error {
	items := make([]T, 0, len(values))
	for _, v := range values {
		item, ok := v.(T)
		if !ok {
			var zero T
			return fmt.Errorf("cannot attach %T to collection of %T", v, zero)
		}
		items = append(items, item)
	}
	c.unloaded = false
	c.items = items
	c.loader = nil
	return nil
}

// Append implements Association
func (c *Collection[T]) Append(values ...Entity) error {
	if c.unloaded {
		c.unloaded = false
		c.items = nil
		c.loader = nil
	}
	for _, v := range values {
		item, ok := v.(T)
		if !ok {
			var zero T
			return fmt.Errorf("cannot append %T to collection of %T", v, zero)
		}
		if c.indexOf(item) < 0 {
			c.items = append(c.items, item)
		}
	}
	return nil
}

// Defer implements Association
func (c *Collection[T]) Defer(_ any, loader Loader) {
	c.unloaded = true
	c.items = nil
	c.loader = loader
}
