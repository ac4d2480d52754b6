package query

import (
	"fmt"
	"strings"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Binding maps a column range of every result row to one entity
type Binding struct {
	Alias  string
	Entity *mapping.Entity
	// Offset is the index of the binding's first column; columns follow
	// mapping.Entity.Columns order
	Offset int
	// Parent is the binding that owns the association, -1 for the root
	Parent int
	// Association is the association of the parent this binding populates
	Association *mapping.Association
}

// Width is the number of columns the binding spans
func (b Binding) Width() int {
	return len(b.Entity.Columns())
}

// Values slices the binding's columns out of a row
func (b Binding) Values(row []any) []any {
	return row[b.Offset : b.Offset+b.Width()]
}

// Layout tells the materializer which columns hydrate which entity.
// Binding 0 is the root; parents always precede their children.
type Layout struct {
	Bindings []Binding
}

// EntityLayout returns the layout of a plain select of one entity
func EntityLayout(m *mapping.Entity) *Layout {
	return newLayout(defaultAlias(m), m)
}

func newLayout(alias string, root *mapping.Entity) *Layout {
	return &Layout{Bindings: []Binding{{Alias: alias, Entity: root, Parent: -1}}}
}

func (l *Layout) add(alias string, m *mapping.Entity, parent int, assoc *mapping.Association) int {
	l.Bindings = append(l.Bindings, Binding{
		Alias:       alias,
		Entity:      m,
		Offset:      l.Width(),
		Parent:      parent,
		Association: assoc,
	})
	return len(l.Bindings) - 1
}

// Width is the total number of columns of a row
func (l *Layout) Width() int {
	w := 0
	for _, b := range l.Bindings {
		w += b.Width()
	}
	return w
}

// Columns returns the qualified select list
func (l *Layout) Columns() []string {
	var cols []string
	for _, b := range l.Bindings {
		for _, c := range b.Entity.Columns() {
			cols = append(cols, b.Alias+"."+c)
		}
	}
	return cols
}

// Fetched reports whether binding i has association name populated by a join
func (l *Layout) Fetched(i int, name string) bool {
	for _, b := range l.Bindings {
		if b.Parent == i && b.Association != nil && b.Association.Name == name {
			return true
		}
	}
	return false
}

// CollectionFetch reports whether any to-many association is joined, which
// multiplies root rows
func (l *Layout) CollectionFetch() bool {
	for _, b := range l.Bindings {
		if b.Association != nil && b.Association.IsCollection() {
			return true
		}
	}
	return false
}

// associationJoins renders the JOIN clauses that reach a's target from the
// parent alias
func associationJoins(reg *mapping.Registry, typ db.JoinType, parentAlias string, parent *mapping.Entity,
	a *mapping.Association, alias string) (*mapping.Entity, []db.JoinClause, error) {
	target, ok := reg.Lookup(a.Target)
	if !ok {
		return nil, nil, fmt.Errorf("association %s.%s targets unknown entity %s", parent.Name, a.Name, a.Target)
	}

	switch {
	case a.Kind == mapping.ToOne:
		return target, []db.JoinClause{{
			Type:      typ,
			Table:     target.Table + " " + alias,
			Condition: fmt.Sprintf("%s.%s = %s.%s", alias, target.ID.Column, parentAlias, a.Column),
		}}, nil

	case a.MappedBy != "":
		inverse, ok := target.Association(a.MappedBy)
		if !ok {
			return nil, nil, fmt.Errorf("association %s.%s is mapped by unknown %s.%s", parent.Name, a.Name, target.Name, a.MappedBy)
		}
		return target, []db.JoinClause{{
			Type:      typ,
			Table:     target.Table + " " + alias,
			Condition: fmt.Sprintf("%s.%s = %s.%s", alias, inverse.Column, parentAlias, parent.ID.Column),
		}}, nil

	default:
		jt := a.JoinTable
		link := alias + "_link"
		return target, []db.JoinClause{
			{
				Type:      typ,
				Table:     jt.Table + " " + link,
				Condition: fmt.Sprintf("%s.%s = %s.%s", link, jt.Column, parentAlias, parent.ID.Column),
			},
			{
				Type:      typ,
				Table:     target.Table + " " + alias,
				Condition: fmt.Sprintf("%s.%s = %s.%s", alias, target.ID.Column, link, jt.InverseColumn),
			},
		}, nil
	}
}

// fetchPlan accumulates fetch joins for one select
type fetchPlan struct {
	reg    *mapping.Registry
	layout *Layout
	joins  []db.JoinClause
	// paths maps association paths ("team", "team.members") to bindings
	paths     map[string]int
	generated int
}

func newFetchPlan(reg *mapping.Registry, alias string, root *mapping.Entity) *fetchPlan {
	return &fetchPlan{
		reg:    reg,
		layout: newLayout(alias, root),
		paths:  map[string]int{"": 0},
	}
}

// fetch joins the association at path below the binding at parentPath.
// Paths already fetched are reused.
func (f *fetchPlan) fetch(parentPath, name, alias string, typ db.JoinType) (int, error) {
	path := name
	if parentPath != "" {
		path = parentPath + "." + name
	}
	if idx, ok := f.paths[path]; ok {
		return idx, nil
	}
	parentIdx, ok := f.paths[parentPath]
	if !ok {
		return 0, fmt.Errorf("association path %s is not fetched", parentPath)
	}
	parent := f.layout.Bindings[parentIdx]
	a, ok := parent.Entity.Association(name)
	if !ok {
		return 0, fmt.Errorf("entity %s has no association %s", parent.Entity.Name, name)
	}
	if alias == "" {
		f.generated++
		alias = fmt.Sprintf("j%d", f.generated)
	}
	target, joins, err := associationJoins(f.reg, typ, parent.Alias, parent.Entity, a, alias)
	if err != nil {
		return 0, err
	}
	f.joins = append(f.joins, joins...)
	idx := f.layout.add(alias, target, parentIdx, a)
	f.paths[path] = idx
	return idx, nil
}

// graph fetches every entity-graph path with left joins
func (f *fetchPlan) graph(paths []string) error {
	for _, p := range paths {
		segments := strings.Split(p, ".")
		parent := ""
		for _, seg := range segments {
			if _, err := f.fetch(parent, seg, "", db.LeftJoin); err != nil {
				return fmt.Errorf("entity graph %q: %w", p, err)
			}
			if parent == "" {
				parent = seg
			} else {
				parent += "." + seg
			}
		}
	}
	return nil
}
