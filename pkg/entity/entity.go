// Package entity defines the contract between application records and the
// persistence engine. Entities expose their state explicitly through
// Values/Scan and their associations through Ref and Collection holders, so the
// engine never needs reflection to read or write them.
package entity

import (
	"fmt"
	"strings"
	"time"
)

// Entity is the minimal contract every persisted record implements
type Entity interface {
	// EntityName returns the logical name used in query text (e.g. "Member")
	// It must match the name the entity is registered under in the mapping
	EntityName() string

	// ID returns the identifier value, or the zero value when unassigned
	ID() any

	// SetID assigns the identifier, converting from the backend representation
	SetID(id any) error

	// Values returns the scalar field values keyed by mapped field name
	// The identifier and association fields are not included
	Values() map[string]any

	// Scan hydrates the scalar fields from values keyed by mapped field name
	Scan(values map[string]any) error

	// Association returns the holder for a declared association, or nil
	Association(name string) Association
}

// Persistable lets entities with caller-assigned identifiers tell the engine
// whether they still need an INSERT. Entities are new iff their freshness
// marker is unset.
type Persistable interface {
	Entity
	IsNew() bool
}

// CreationStamped is implemented by entities whose freshness marker is a
// creation timestamp; the engine sets it right before the INSERT
type CreationStamped interface {
	MarkCreated(at time.Time)
}

// IsNew reports whether e has never been written to the backend.
// Persistable entities decide for themselves; everything else is new while its
// identifier is still the zero value.
func IsNew(e Entity) bool {
	if p, ok := e.(Persistable); ok {
		return p.IsNew()
	}
	return IsZeroID(e.ID())
}

// IsZeroID reports whether id is an unassigned identifier
func IsZeroID(id any) bool {
	switch v := NormalizeID(id).(type) {
	case nil:
		return true
	case int64:
		return v == 0
	case string:
		return v == ""
	case float64:
		return v == 0
	default:
		return false
	}
}

// NormalizeID folds identifier values coming from entities, drivers and cache
// entries into a canonical representation so they compare equal: every integer
// width becomes int64 and byte slices become strings.
func NormalizeID(id any) any {
	switch v := id.(type) {
	case nil:
		return nil
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}

// Key identifies one instance within a persistence context
type Key struct {
	Name string
	ID   string
}

// KeyOf builds the identity key for an entity name and identifier
func KeyOf(name string, id any) Key {
	normalized := NormalizeID(id)
	return Key{Name: name, ID: fmt.Sprintf("%T:%v", normalized, normalized)}
}

// String returns a readable form used in logs and error messages
func (k Key) String() string {
	_, id, found := strings.Cut(k.ID, ":")
	if !found {
		id = k.ID
	}
	return k.Name + "#" + id
}
