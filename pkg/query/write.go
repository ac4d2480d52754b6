package query

import (
	"fmt"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// SelectByID builds the lookup of one entity, fetching the entity-graph paths
// in the same statement
func (t *Translator) SelectByID(m *mapping.Entity, id any, lock LockMode, graph []string) (*Statement, error) {
	alias := defaultAlias(m)
	fp := newFetchPlan(t.registry, alias, m)
	if err := fp.graph(graph); err != nil {
		return nil, &QueryError{Method: m.Name + ".findById", Reason: err.Error()}
	}

	sql, args := db.NewBuilder(m.Table+" "+alias).
		Select(fp.layout.Columns()...).
		AddJoins(fp.joins...).
		Where(alias+"."+m.ID.Column, db.Equal, id).
		Lock(lockClause(lock)).
		BuildSelect()
	return &Statement{
		SQL:    sql,
		Args:   args,
		Kind:   KindSelect,
		Shape:  ShapeSingle,
		Entity: m,
		Layout: fp.layout,
		Lock:   lock,
	}, nil
}

// SelectCollection builds the load of a to-many association of one owner
func (t *Translator) SelectCollection(owner *mapping.Entity, a *mapping.Association, ownerID any) (*Statement, error) {
	if !a.IsCollection() {
		return nil, fmt.Errorf("association %s.%s is not a collection", owner.Name, a.Name)
	}
	target, ok := t.registry.Lookup(a.Target)
	if !ok {
		return nil, fmt.Errorf("association %s.%s targets unknown entity %s", owner.Name, a.Name, a.Target)
	}
	alias := defaultAlias(target)
	layout := newLayout(alias, target)
	b := db.NewBuilder(target.Table + " " + alias).Select(layout.Columns()...)

	if a.MappedBy != "" {
		inverse, ok := target.Association(a.MappedBy)
		if !ok {
			return nil, fmt.Errorf("association %s.%s is mapped by unknown %s.%s", owner.Name, a.Name, target.Name, a.MappedBy)
		}
		b.Where(alias+"."+inverse.Column, db.Equal, ownerID)
	} else {
		link := alias + "_link"
		b.InnerJoin(a.JoinTable.Table+" "+link, fmt.Sprintf("%s.%s = %s.%s", link, a.JoinTable.InverseColumn, alias, target.ID.Column)).
			Where(link+"."+a.JoinTable.Column, db.Equal, ownerID)
	}
	b.OrderBy(alias+"."+target.ID.Column, false)

	sql, args := b.BuildSelect()
	return &Statement{
		SQL:    sql,
		Args:   args,
		Kind:   KindSelect,
		Shape:  ShapeList,
		Entity: target,
		Layout: layout,
	}, nil
}

// InsertRow builds the INSERT of one entity row
func InsertRow(m *mapping.Entity, columns []string, values []any) *Statement {
	sql, _ := db.NewBuilder(m.Table).BuildInsert(columns)
	return &Statement{SQL: sql, Args: values, Kind: KindInsert, Entity: m}
}

// UpdateRow builds the UPDATE of the changed columns of one entity row
func UpdateRow(m *mapping.Entity, id any, columns []string, values []any) *Statement {
	sql, args := db.NewBuilder(m.Table).
		Where(m.ID.Column, db.Equal, id).
		BuildUpdate(columns, values)
	return &Statement{SQL: sql, Args: args, Kind: KindUpdate, Entity: m}
}

// DeleteRow builds the DELETE of one entity row
func DeleteRow(m *mapping.Entity, id any) *Statement {
	sql, args := db.NewBuilder(m.Table).Where(m.ID.Column, db.Equal, id).BuildDelete()
	return &Statement{SQL: sql, Args: args, Kind: KindDelete, Entity: m}
}

// InsertLink builds the INSERT of one join-table row
func InsertLink(a *mapping.Association, ownerID, targetID any) *Statement {
	jt := a.JoinTable
	sql, _ := db.NewBuilder(jt.Table).BuildInsert([]string{jt.Column, jt.InverseColumn})
	return &Statement{SQL: sql, Args: []any{ownerID, targetID}, Kind: KindInsert}
}

// DeleteLink builds the DELETE of one join-table row
func DeleteLink(a *mapping.Association, ownerID, targetID any) *Statement {
	jt := a.JoinTable
	sql, args := db.NewBuilder(jt.Table).
		Where(jt.Column, db.Equal, ownerID).
		Where(jt.InverseColumn, db.Equal, targetID).
		BuildDelete()
	return &Statement{SQL: sql, Args: args, Kind: KindDelete}
}

// DeleteLinks builds the DELETE of every join-table row of an owner
func DeleteLinks(a *mapping.Association, ownerID any) *Statement {
	jt := a.JoinTable
	sql, args := db.NewBuilder(jt.Table).Where(jt.Column, db.Equal, ownerID).BuildDelete()
	return &Statement{SQL: sql, Args: args, Kind: KindDelete}
}

// LockRow builds the lock probe of one entity row. It returns the identifier
// when the row exists.
func LockRow(m *mapping.Entity, id any, mode LockMode) *Statement {
	sql, args := db.NewBuilder(m.Table).
		Select(m.ID.Column).
		Where(m.ID.Column, db.Equal, id).
		Lock(lockClause(mode)).
		BuildSelect()
	return &Statement{SQL: sql, Args: args, Kind: KindSelect, Shape: ShapeScalar, Entity: m, Columns: 1, Lock: mode}
}
