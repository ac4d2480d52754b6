// Package mapping holds the declarative mapping table between entities and
// relational tables. The table is built once at startup, either in Go or from
// a YAML document, and handed to the query translator and the materializer.
package mapping

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ammar0144/persist4go/pkg/entity"
)

// IDStrategy tells the engine who assigns identifiers
type IDStrategy string

const (
	// IDGenerated identifiers are assigned by the backend on INSERT
	IDGenerated IDStrategy = "generated"
	// IDAssigned identifiers are set by the caller before the first save
	IDAssigned IDStrategy = "assigned"
)

// FetchMode is the default loading policy of an association
type FetchMode string

const (
	FetchLazy  FetchMode = "lazy"
	FetchEager FetchMode = "eager"
)

// AssociationKind distinguishes to-one from to-many associations
type AssociationKind string

const (
	ToOne  AssociationKind = "to_one"
	ToMany AssociationKind = "to_many"
)

// Field maps an entity field to a column
type Field struct {
	Name   string `json:"name" yaml:"name"`
	Column string `json:"column" yaml:"column"`
}

// ID maps the identifier field
type ID struct {
	Field    string     `json:"field" yaml:"field"`
	Column   string     `json:"column" yaml:"column"`
	Strategy IDStrategy `json:"strategy" yaml:"strategy"`
}

// JoinTable describes the link table of an owning to-many association
type JoinTable struct {
	Table         string `json:"table" yaml:"table"`
	Column        string `json:"column" yaml:"column"`                 // references the owner
	InverseColumn string `json:"inverse_column" yaml:"inverse_column"` // references the target
}

// Association maps a relationship field
//
//   - to_one: Column is the foreign key column on the owner's table
//   - to_many with MappedBy: inverse side of the target's to_one association
//   - to_many with JoinTable: owning side, rows live in the join table
type Association struct {
	Name      string          `json:"name" yaml:"name"`
	Kind      AssociationKind `json:"kind" yaml:"kind"`
	Target    string          `json:"target" yaml:"target"`
	Column    string          `json:"column,omitempty" yaml:"column,omitempty"`
	MappedBy  string          `json:"mapped_by,omitempty" yaml:"mapped_by,omitempty"`
	JoinTable *JoinTable      `json:"join_table,omitempty" yaml:"join_table,omitempty"`
	Fetch     FetchMode       `json:"fetch" yaml:"fetch"`
}

// IsCollection reports whether the association is to-many
func (a *Association) IsCollection() bool {
	return a.Kind == ToMany
}

// Eager reports whether the association is loaded together with its owner
func (a *Association) Eager() bool {
	return a.Fetch == FetchEager
}

// Entity is the mapping of one entity type
type Entity struct {
	Name         string            `json:"name" yaml:"name"`
	Table        string            `json:"table" yaml:"table"`
	ID           ID                `json:"id" yaml:"id"`
	Fields       []Field           `json:"fields" yaml:"fields"`
	Associations []Association     `json:"associations,omitempty" yaml:"associations,omitempty"`
	NamedQueries map[string]string `json:"named_queries,omitempty" yaml:"named_queries,omitempty"`

	factory func() entity.Entity
	columns []string
}

// New creates an empty instance of the entity
func (m *Entity) New() (entity.Entity, error) {
	if m.factory == nil {
		return nil, fmt.Errorf("entity %s has no factory bound", m.Name)
	}
	return m.factory(), nil
}

// Columns returns the selectable columns in hydration order: identifier,
// scalar fields, then to-one foreign keys
func (m *Entity) Columns() []string {
	return m.columns
}

// Field looks up a scalar or identifier field by name, case-insensitively
func (m *Entity) Field(name string) (Field, bool) {
	if strings.EqualFold(name, m.ID.Field) {
		return Field{Name: m.ID.Field, Column: m.ID.Column}, true
	}
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range m.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Association looks up an association by name, case-insensitively
func (m *Entity) Association(name string) (*Association, bool) {
	for i := range m.Associations {
		if strings.EqualFold(m.Associations[i].Name, name) {
			return &m.Associations[i], true
		}
	}
	return nil, false
}

// NamedQuery returns the query text registered for a repository method
func (m *Entity) NamedQuery(method string) (string, bool) {
	if m.NamedQueries == nil {
		return "", false
	}
	q, ok := m.NamedQueries[method]
	return q, ok
}

// ToOne returns the to-one associations in declaration order
func (m *Entity) ToOne() []*Association {
	var out []*Association
	for i := range m.Associations {
		if m.Associations[i].Kind == ToOne {
			out = append(out, &m.Associations[i])
		}
	}
	return out
}

// JoinTables returns the owning to-many associations backed by a join table
func (m *Entity) JoinTables() []*Association {
	var out []*Association
	for i := range m.Associations {
		a := &m.Associations[i]
		if a.Kind == ToMany && a.JoinTable != nil {
			out = append(out, a)
		}
	}
	return out
}

func (m *Entity) applyDefaults() {
	if m.ID.Strategy == "" {
		m.ID.Strategy = IDGenerated
	}
	if m.ID.Field == "" {
		m.ID.Field = "id"
	}
	for i := range m.Associations {
		if m.Associations[i].Fetch == "" {
			// JPA defaults: to-one eager, to-many lazy
			if m.Associations[i].Kind == ToOne {
				m.Associations[i].Fetch = FetchEager
			} else {
				m.Associations[i].Fetch = FetchLazy
			}
		}
	}

	m.columns = m.columns[:0]
	m.columns = append(m.columns, m.ID.Column)
	for _, f := range m.Fields {
		m.columns = append(m.columns, f.Column)
	}
	for _, a := range m.ToOne() {
		m.columns = append(m.columns, a.Column)
	}
}

func (m *Entity) validate() error {
	if m.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if m.Table == "" {
		return fmt.Errorf("entity %s: table is required", m.Name)
	}
	if m.ID.Column == "" {
		return fmt.Errorf("entity %s: id column is required", m.Name)
	}
	if m.ID.Strategy != IDGenerated && m.ID.Strategy != IDAssigned {
		return fmt.Errorf("entity %s: unknown id strategy %q", m.Name, m.ID.Strategy)
	}

	seen := map[string]bool{m.ID.Column: true}
	for _, f := range m.Fields {
		if f.Name == "" || f.Column == "" {
			return fmt.Errorf("entity %s: field name and column are required", m.Name)
		}
		if seen[f.Column] {
			return fmt.Errorf("entity %s: column %s mapped twice", m.Name, f.Column)
		}
		seen[f.Column] = true
	}

	for _, a := range m.Associations {
		if a.Name == "" || a.Target == "" {
			return fmt.Errorf("entity %s: association name and target are required", m.Name)
		}
		if a.Fetch != FetchLazy && a.Fetch != FetchEager {
			return fmt.Errorf("entity %s: association %s has unknown fetch mode %q", m.Name, a.Name, a.Fetch)
		}
		switch a.Kind {
		case ToOne:
			if a.Column == "" {
				return fmt.Errorf("entity %s: to-one association %s needs a column", m.Name, a.Name)
			}
			if seen[a.Column] {
				return fmt.Errorf("entity %s: column %s mapped twice", m.Name, a.Column)
			}
			seen[a.Column] = true
		case ToMany:
			if (a.MappedBy == "") == (a.JoinTable == nil) {
				return fmt.Errorf("entity %s: to-many association %s needs exactly one of mapped_by or join_table", m.Name, a.Name)
			}
			if jt := a.JoinTable; jt != nil && (jt.Table == "" || jt.Column == "" || jt.InverseColumn == "") {
				return fmt.Errorf("entity %s: association %s has an incomplete join table", m.Name, a.Name)
			}
		default:
			return fmt.Errorf("entity %s: association %s has unknown kind %q", m.Name, a.Name, a.Kind)
		}
	}
	return nil
}

// Registry is the mapping table, safe for concurrent reads once built
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register adds an entity mapping. factory creates empty instances for
// hydration; it may be nil for tooling that only translates queries.
func (r *Registry) Register(m Entity, factory func() entity.Entity) error {
	m.Fields = append([]Field(nil), m.Fields...)
	m.Associations = append([]Association(nil), m.Associations...)
	m.applyDefaults()
	if err := m.validate(); err != nil {
		return err
	}

	if factory != nil {
		sample := factory()
		if sample == nil {
			return fmt.Errorf("entity %s: factory returned nil", m.Name)
		}
		if sample.EntityName() != m.Name {
			return fmt.Errorf("entity %s: factory builds %q", m.Name, sample.EntityName())
		}
		if m.ID.Strategy == IDAssigned {
			if _, ok := sample.(entity.Persistable); !ok {
				return fmt.Errorf("entity %s: assigned identifiers require entity.Persistable (%T)", m.Name, sample)
			}
		}
	}
	m.factory = factory

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[m.Name]; exists {
		return fmt.Errorf("entity %s already registered", m.Name)
	}
	copied := m
	r.entities[m.Name] = &copied
	return nil
}

// MustRegister is Register for static mapping tables; it panics on error
func (r *Registry) MustRegister(m Entity, factory func() entity.Entity) {
	if err := r.Register(m, factory); err != nil {
		panic(fmt.Sprintf("mapping: %v", err))
	}
}

// Lookup returns the mapping for a logical entity name
func (r *Registry) Lookup(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entities[name]
	return m, ok
}

// Names returns the registered entity names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks cross-entity references once every entity is registered
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.entities) {
		m := r.entities[name]
		for _, a := range m.Associations {
			target, ok := r.entities[a.Target]
			if !ok {
				return fmt.Errorf("entity %s: association %s targets unknown entity %s", m.Name, a.Name, a.Target)
			}
			if a.Kind == ToMany && a.MappedBy != "" {
				inverse, ok := target.Association(a.MappedBy)
				if !ok || inverse.Kind != ToOne || inverse.Target != m.Name {
					return fmt.Errorf("entity %s: association %s is mapped by %s.%s which is not a to-one back to %s",
						m.Name, a.Name, target.Name, a.MappedBy, m.Name)
				}
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]*Entity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
