package orm

import (
	"bytes"
	"reflect"
	"sort"
	"time"

	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// State is the lifecycle state of an entity relative to a session
type State int

const (
	// Transient instances have never been saved
	Transient State = iota
	// Managed instances belong to the persistence context
	Managed
	// Removed instances are deleted at the next flush
	Removed
	// Detached instances have a persisted identity but no context
	Detached
)

func (s State) String() string {
	switch s {
	case Managed:
		return "managed"
	case Removed:
		return "removed"
	case Detached:
		return "detached"
	default:
		return "transient"
	}
}

// linkSet is the set of target identifiers of a join-table collection
type linkSet map[entity.Key]any

func (l linkSet) clone() linkSet {
	out := make(linkSet, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// record is the identity map's bookkeeping for one instance
type record struct {
	key      entity.Key
	entity   entity.Entity
	mapping  *mapping.Entity
	state    State
	readOnly bool
	// snapshot is the column state as last read or written; nil when read-only
	snapshot map[string]any
	// links holds the known join-table content per association name
	links map[string]linkSet
}

// IdentityMap guarantees one in-memory instance per entity key and keeps the
// snapshots used for dirty checking. It is owned by a single session.
type IdentityMap struct {
	records    map[entity.Key]*record
	byInstance map[entity.Entity]*record
	order      []*record
}

// NewIdentityMap creates an empty identity map
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		records:    make(map[entity.Key]*record),
		byInstance: make(map[entity.Entity]*record),
	}
}

// Register adds e as a managed instance. When the key is already present the
// existing instance is returned with ok set and e is ignored. Read-only
// registrations take no snapshot.
func (im *IdentityMap) Register(e entity.Entity, m *mapping.Entity, readOnly bool) (existing entity.Entity, ok bool) {
	key := entity.KeyOf(m.Name, e.ID())
	if rec, found := im.records[key]; found {
		return rec.entity, true
	}
	rec := &record{
		key:      key,
		entity:   e,
		mapping:  m,
		state:    Managed,
		readOnly: readOnly,
		links:    make(map[string]linkSet),
	}
	if !readOnly {
		rec.snapshot = takeSnapshot(m, e)
	}
	im.records[key] = rec
	im.byInstance[e] = rec
	im.order = append(im.order, rec)
	return e, false
}

// Lookup returns the instance registered under name and id. An absent key is
// not an error.
func (im *IdentityMap) Lookup(name string, id any) (entity.Entity, bool) {
	rec, ok := im.records[entity.KeyOf(name, id)]
	if !ok {
		return nil, false
	}
	return rec.entity, true
}

// Contains reports whether this exact instance is registered
func (im *IdentityMap) Contains(e entity.Entity) bool {
	_, ok := im.byInstance[e]
	return ok
}

// Evict drops the instance registered under name and id
func (im *IdentityMap) Evict(name string, id any) {
	rec, ok := im.records[entity.KeyOf(name, id)]
	if !ok {
		return
	}
	im.drop(rec)
}

func (im *IdentityMap) drop(rec *record) {
	delete(im.records, rec.key)
	delete(im.byInstance, rec.entity)
	for i, r := range im.order {
		if r == rec {
			im.order = append(im.order[:i], im.order[i+1:]...)
			break
		}
	}
}

// Snapshot refreshes the snapshot of a registered, writable instance
func (im *IdentityMap) Snapshot(e entity.Entity) {
	rec, ok := im.byInstance[e]
	if !ok || rec.readOnly {
		return
	}
	rec.snapshot = takeSnapshot(rec.mapping, e)
	for _, a := range rec.mapping.JoinTables() {
		if current, loaded := currentLinks(e, a); loaded {
			rec.links[a.Name] = current
		}
	}
}

// IsDirty reports whether a registered instance differs from its snapshot.
// Read-only and unregistered instances are never dirty.
func (im *IdentityMap) IsDirty(e entity.Entity) bool {
	rec, ok := im.byInstance[e]
	if !ok || rec.readOnly || rec.state != Managed {
		return false
	}
	if cols, _ := changedColumns(rec); len(cols) > 0 {
		return true
	}
	for _, a := range rec.mapping.JoinTables() {
		added, removed, _ := linkDiff(rec, a)
		if len(added) > 0 || len(removed) > 0 {
			return true
		}
	}
	return false
}

// Len returns the number of registered instances
func (im *IdentityMap) Len() int {
	return len(im.order)
}

// Clear drops every instance
func (im *IdentityMap) Clear() {
	im.records = make(map[entity.Key]*record)
	im.byInstance = make(map[entity.Entity]*record)
	im.order = nil
}

func (im *IdentityMap) recordOf(e entity.Entity) (*record, bool) {
	rec, ok := im.byInstance[e]
	return rec, ok
}

// entries returns the records in registration order
func (im *IdentityMap) entries() []*record {
	return append([]*record(nil), im.order...)
}

// ============================================================================
// SNAPSHOTS AND DIRTY CHECKING
// ============================================================================

// takeSnapshot captures scalar columns and to-one foreign keys of e
func takeSnapshot(m *mapping.Entity, e entity.Entity) map[string]any {
	values := e.Values()
	snap := make(map[string]any, len(m.Columns()))
	for _, f := range m.Fields {
		snap[f.Column] = copyValue(values[f.Name])
	}
	for _, a := range m.ToOne() {
		snap[a.Column] = foreignKey(e, a)
	}
	return snap
}

// foreignKey returns the normalized identifier a to-one holder points at
func foreignKey(e entity.Entity, a *mapping.Association) any {
	holder := e.Association(a.Name)
	if holder == nil {
		return nil
	}
	return entity.NormalizeID(holder.TargetID())
}

// changedColumns compares the current state of a record against its snapshot
// and returns the changed columns in mapping order
func changedColumns(rec *record) ([]string, []any) {
	if rec.snapshot == nil {
		return nil, nil
	}
	var cols []string
	var vals []any
	values := rec.entity.Values()
	for _, f := range rec.mapping.Fields {
		v := values[f.Name]
		if !equalValue(rec.snapshot[f.Column], v) {
			cols = append(cols, f.Column)
			vals = append(vals, v)
		}
	}
	for _, a := range rec.mapping.ToOne() {
		fk := foreignKey(rec.entity, a)
		if !equalValue(rec.snapshot[a.Column], fk) {
			cols = append(cols, a.Column)
			vals = append(vals, fk)
		}
	}
	return cols, vals
}

// currentLinks returns the target set of a loaded join-table collection
func currentLinks(e entity.Entity, a *mapping.Association) (linkSet, bool) {
	holder := e.Association(a.Name)
	if holder == nil || !holder.Loaded() {
		return nil, false
	}
	set := make(linkSet)
	for _, target := range holder.Entities() {
		set[entity.KeyOf(a.Target, target.ID())] = entity.NormalizeID(target.ID())
	}
	return set, true
}

// linkDiff compares a loaded join-table collection with its known content.
// Unknown content is reported as replace: every current target is added after
// all existing rows are dropped.
func linkDiff(rec *record, a *mapping.Association) (added, removed []any, replace bool) {
	current, loaded := currentLinks(rec.entity, a)
	if !loaded {
		return nil, nil, false
	}
	known, ok := rec.links[a.Name]
	if !ok {
		return sortedIDs(current), nil, true
	}
	for k, id := range current {
		if _, ok := known[k]; !ok {
			added = append(added, id)
		}
	}
	for k, id := range known {
		if _, ok := current[k]; !ok {
			removed = append(removed, id)
		}
	}
	sortIDs(added)
	sortIDs(removed)
	return added, removed, false
}

func sortedIDs(set linkSet) []any {
	ids := make([]any, 0, len(set))
	for _, id := range set {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// sortIDs orders identifiers so link statements run in a stable order
func sortIDs(ids []any) {
	sort.Slice(ids, func(i, j int) bool {
		a, aok := ids[i].(int64)
		b, bok := ids[j].(int64)
		if aok && bok {
			return a < b
		}
		return entity.KeyOf("", ids[i]).ID < entity.KeyOf("", ids[j]).ID
	})
}

// equalValue compares snapshot values. Times compare by instant, byte slices
// by content and integers regardless of width.
func equalValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if ba, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ba, bb)
	}
	a, b = normalizeNumber(a), normalizeNumber(b)
	return reflect.DeepEqual(a, b)
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return entity.NormalizeID(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func copyValue(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}
