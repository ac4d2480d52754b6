package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/query"
)

// holderKey identifies one association holder of one instance
type holderKey struct {
	owner entity.Entity
	name  string
}

// pendingLoad is an eager association left unfetched by the statement
type pendingLoad struct {
	owner   entity.Entity
	mapping *mapping.Entity
	assoc   *mapping.Association
	id      any
}

// materializer turns the rows of one statement into managed instances
type materializer struct {
	s         *Session
	layout    *query.Layout
	readOnly  bool
	fromCache bool

	// fresh holds the instances created by this result set
	fresh map[entity.Entity]bool
	// started holds the fetched holders already initialized by this result set
	started map[holderKey]bool
	// kept holds fetched holders of existing instances that were already loaded
	kept    map[holderKey]bool
	pending []pendingLoad
	// loaded holds the backend rows of the instances created here
	loaded []loadedRow
}

func (s *Session) newMaterializer(layout *query.Layout, readOnly bool) *materializer {
	return &materializer{
		s:        s,
		layout:   layout,
		readOnly: readOnly,
		fresh:    make(map[entity.Entity]bool),
		started:  make(map[holderKey]bool),
		kept:     make(map[holderKey]bool),
	}
}

// materialize hydrates rows laid out by layout. Root instances repeated by a
// collection fetch join are returned once.
func (s *Session) materialize(ctx context.Context, layout *query.Layout, rows [][]any, readOnly bool) ([]entity.Entity, error) {
	mt := s.newMaterializer(layout, readOnly)
	result, err := mt.rows(rows)
	if err != nil {
		return nil, err
	}
	if err := mt.resolvePending(ctx); err != nil {
		return nil, err
	}
	s.populateCache(ctx, mt.loaded)
	return result, nil
}

func (mt *materializer) rows(rows [][]any) ([]entity.Entity, error) {
	bindings := mt.layout.Bindings
	dedupe := mt.layout.CollectionFetch()
	seen := make(map[entity.Entity]bool)
	width := mt.layout.Width()

	var result []entity.Entity
	for _, row := range rows {
		if len(row) < width {
			return nil, fmt.Errorf("result row has %d columns, layout needs %d", len(row), width)
		}

		instances := make([]entity.Entity, len(bindings))
		for i, b := range bindings {
			values := b.Values(row)
			if values[0] == nil {
				if i == 0 {
					return nil, fmt.Errorf("result row has no %s identifier", b.Entity.Name)
				}
				continue // outer join without a match
			}
			inst, err := mt.hydrate(i, b.Entity, values)
			if err != nil {
				return nil, err
			}
			instances[i] = inst
		}

		for i := 1; i < len(bindings); i++ {
			b := bindings[i]
			parent := instances[b.Parent]
			if parent == nil {
				continue
			}
			if err := mt.attach(parent, b.Association, instances[i]); err != nil {
				return nil, err
			}
		}

		root := instances[0]
		if dedupe {
			if seen[root] {
				continue
			}
			seen[root] = true
		}
		result = append(result, root)
	}
	return result, nil
}

// hydrate returns the managed instance for one binding of a row, creating it
// when the identity map does not hold it yet. Existing instances are never
// overwritten.
func (mt *materializer) hydrate(binding int, m *mapping.Entity, values []any) (entity.Entity, error) {
	s := mt.s
	id := values[0]
	if existing, ok := s.pc.Lookup(m.Name, id); ok {
		s.engine.metrics.identityHits.Add(1)
		return existing, nil
	}

	inst, err := m.New()
	if err != nil {
		return nil, err
	}
	if err := inst.SetID(id); err != nil {
		return nil, fmt.Errorf("hydrate %s id: %w", m.Name, err)
	}
	fields := make(map[string]any, len(m.Fields))
	for i, f := range m.Fields {
		fields[f.Name] = values[1+i]
	}
	if err := inst.Scan(fields); err != nil {
		return nil, fmt.Errorf("hydrate %s#%v: %w", m.Name, id, err)
	}

	offset := 1 + len(m.Fields)
	for i, a := range m.ToOne() {
		holder := inst.Association(a.Name)
		if holder == nil {
			return nil, fmt.Errorf("entity %s does not expose association %s", m.Name, a.Name)
		}
		fk := values[offset+i]
		if fk == nil {
			if err := holder.Attach(); err != nil {
				return nil, err
			}
			continue
		}
		// The placeholder keeps the foreign key visible until a fetch join
		// or the eager pass replaces it with the instance
		holder.Defer(fk, s.referenceLoader(inst, m, a, fk))
		if a.Eager() && !mt.fetched(binding, a.Name) {
			mt.pending = append(mt.pending, pendingLoad{owner: inst, mapping: m, assoc: a, id: fk})
		}
	}

	for i := range m.Associations {
		a := &m.Associations[i]
		if !a.IsCollection() || mt.fetched(binding, a.Name) {
			continue
		}
		holder := inst.Association(a.Name)
		if holder == nil {
			return nil, fmt.Errorf("entity %s does not expose association %s", m.Name, a.Name)
		}
		holder.Defer(nil, s.collectionLoader(inst, m, a))
		if a.Eager() {
			mt.pending = append(mt.pending, pendingLoad{owner: inst, mapping: m, assoc: a})
		}
	}

	s.pc.Register(inst, m, mt.readOnly)
	if !mt.fromCache {
		mt.loaded = append(mt.loaded, loadedRow{mapping: m, values: values})
	}
	mt.fresh[inst] = true
	s.engine.metrics.entitiesLoaded.Add(1)
	return inst, nil
}

func (mt *materializer) fetched(binding int, name string) bool {
	return mt.layout != nil && mt.layout.Fetched(binding, name)
}

// attach places a fetched child into its parent's holder. The first row of a
// result initializes the holder, later rows append to it. Holders of existing
// instances that are already loaded keep their content.
func (mt *materializer) attach(parent entity.Entity, a *mapping.Association, child entity.Entity) error {
	holder := parent.Association(a.Name)
	if holder == nil {
		return fmt.Errorf("entity %s does not expose association %s", parent.EntityName(), a.Name)
	}
	hk := holderKey{owner: parent, name: a.Name}
	if mt.kept[hk] {
		return nil
	}

	if !mt.started[hk] {
		mt.started[hk] = true
		if !mt.fresh[parent] && holder.Loaded() {
			mt.kept[hk] = true
			return nil
		}
		if a.Kind == mapping.ToOne && child == nil {
			return nil
		}
		var err error
		if child == nil {
			err = holder.Attach()
		} else {
			err = holder.Attach(child)
		}
		if err != nil {
			return err
		}
		if a.JoinTable != nil {
			mt.trackLinks(parent, a, child, true)
		}
		return nil
	}

	if child == nil {
		return nil
	}
	if err := holder.Append(child); err != nil {
		return err
	}
	if a.JoinTable != nil {
		mt.trackLinks(parent, a, child, false)
	}
	return nil
}

// trackLinks records fetched join-table content as the flush baseline
func (mt *materializer) trackLinks(parent entity.Entity, a *mapping.Association, child entity.Entity, reset bool) {
	rec, ok := mt.s.pc.recordOf(parent)
	if !ok {
		return
	}
	set, ok := rec.links[a.Name]
	if reset || !ok {
		set = make(linkSet)
		rec.links[a.Name] = set
	}
	if child != nil {
		set[entity.KeyOf(a.Target, child.ID())] = entity.NormalizeID(child.ID())
	}
}

// resolvePending loads eager associations the statement did not join: the
// identity map first, then one select per missing target
func (mt *materializer) resolvePending(ctx context.Context) error {
	s := mt.s
	for _, p := range mt.pending {
		holder := p.owner.Association(p.assoc.Name)
		if holder.Loaded() {
			continue
		}

		if p.assoc.IsCollection() {
			items, err := s.loadCollection(ctx, p.owner, p.mapping, p.assoc)
			if err != nil {
				return err
			}
			if err := holder.Attach(items...); err != nil {
				return err
			}
			continue
		}

		target, ok := s.engine.registry.Lookup(p.assoc.Target)
		if !ok {
			return fmt.Errorf("association %s.%s targets unknown entity %s", p.mapping.Name, p.assoc.Name, p.assoc.Target)
		}
		found, err := s.find(ctx, target, p.id, FindOptions{ReadOnly: mt.readOnly})
		if err != nil {
			return err
		}
		if found == nil {
			// Dangling foreign key; the reference reads as null and keeps the key
			holder.Defer(p.id, noTarget)
			continue
		}
		if err := holder.Attach(found); err != nil {
			return err
		}
	}
	return nil
}

func noTarget(context.Context) ([]entity.Entity, error) {
	return nil, nil
}

// referenceLoader binds the lazy load of a to-one target to this session's
// current persistence context
func (s *Session) referenceLoader(owner entity.Entity, m *mapping.Entity, a *mapping.Association, id any) entity.Loader {
	generation := s.generation
	return func(ctx context.Context) ([]entity.Entity, error) {
		if !s.bound(owner, generation) {
			return nil, &entity.DetachedAccessError{Entity: m.Name, ID: owner.ID(), Association: a.Name}
		}
		target, ok := s.engine.registry.Lookup(a.Target)
		if !ok {
			return nil, fmt.Errorf("association %s.%s targets unknown entity %s", m.Name, a.Name, a.Target)
		}
		s.engine.metrics.lazyLoads.Add(1)

		found, err := s.find(ctx, target, id, FindOptions{ReadOnly: s.isReadOnly(owner)})
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, nil
		}
		return []entity.Entity{found}, nil
	}
}

// collectionLoader binds the lazy load of a to-many association to this
// session's current persistence context
func (s *Session) collectionLoader(owner entity.Entity, m *mapping.Entity, a *mapping.Association) entity.Loader {
	generation := s.generation
	return func(ctx context.Context) ([]entity.Entity, error) {
		if !s.bound(owner, generation) {
			return nil, &entity.DetachedAccessError{Entity: m.Name, ID: owner.ID(), Association: a.Name}
		}
		s.engine.metrics.lazyLoads.Add(1)
		return s.loadCollection(ctx, owner, m, a)
	}
}

// loadCollection selects the members of a to-many association. Join-table
// content becomes the flush baseline of the owner.
func (s *Session) loadCollection(ctx context.Context, owner entity.Entity, m *mapping.Entity, a *mapping.Association) ([]entity.Entity, error) {
	stmt, err := s.engine.translator.SelectCollection(m, a, owner.ID())
	if err != nil {
		return nil, err
	}
	rs, err := s.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	items, err := s.materialize(ctx, stmt.Layout, rs.Rows, s.isReadOnly(owner))
	if err != nil {
		return nil, err
	}

	if a.JoinTable != nil {
		if rec, ok := s.pc.recordOf(owner); ok {
			set := make(linkSet, len(items))
			for _, item := range items {
				set[entity.KeyOf(a.Target, item.ID())] = entity.NormalizeID(item.ID())
			}
			rec.links[a.Name] = set
		}
	}
	return items, nil
}
