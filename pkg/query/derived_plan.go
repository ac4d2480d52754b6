package query

import (
	"fmt"
	"strings"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// resolvedClause is a derived clause bound to a column and parameter name
type resolvedClause struct {
	column     string
	comparator Comparator
	param      string
}

// derivedPlan is a parsed method name resolved against the mapping. It is
// rendered through db.Builder once the argument values are known.
type derivedPlan struct {
	query  *DerivedQuery
	root   *mapping.Entity
	alias  string
	fetch  *fetchPlan
	groups [][]resolvedClause
	orders []string
	params []string
}

func defaultAlias(m *mapping.Entity) string {
	return strings.ToLower(m.Name[:1])
}

func planDerived(reg *mapping.Registry, root *mapping.Entity, method string, graph []string) (*derivedPlan, error) {
	q, err := ParseMethod(method)
	if err != nil {
		return nil, err
	}

	plan := &derivedPlan{
		query: q,
		root:  root,
		alias: defaultAlias(root),
	}
	plan.fetch = newFetchPlan(reg, plan.alias, root)
	if q.Action == ActionFind || q.Action == ActionDelete {
		if err := plan.fetch.graph(graph); err != nil {
			return nil, &QueryError{Method: method, Reason: err.Error()}
		}
	}

	used := map[string]int{}
	for _, group := range q.Predicate {
		var resolved []resolvedClause
		for _, c := range group {
			rc, err := plan.resolve(c, used)
			if err != nil {
				return nil, &QueryError{Method: method, Reason: err.Error()}
			}
			resolved = append(resolved, rc)
			if rc.param != "" {
				plan.params = append(plan.params, rc.param)
			}
		}
		plan.groups = append(plan.groups, resolved)
	}

	for _, o := range q.Orders {
		col, err := sortColumn(root, plan.alias, o.Field)
		if err != nil {
			return nil, &QueryError{Method: method, Reason: err.Error()}
		}
		plan.orders = append(plan.orders, col+" "+string(o.Direction))
	}
	return plan, nil
}

// resolve binds a clause to a column. A field that happens to end in a
// comparator keyword (loggedIn) is retried as a plain equality.
func (plan *derivedPlan) resolve(c Clause, used map[string]int) (resolvedClause, error) {
	name, column, ok := fieldColumn(plan.root, c.Field)
	comparator := c.Comparator
	if !ok && c.Raw != c.Field {
		name, column, ok = fieldColumn(plan.root, c.Raw)
		comparator = CompEqual
	}
	if !ok {
		return resolvedClause{}, fmt.Errorf("entity %s has no property %s", plan.root.Name, c.Field)
	}

	rc := resolvedClause{column: plan.alias + "." + column, comparator: comparator}
	if comparator.takesArgument() {
		used[name]++
		rc.param = name
		if n := used[name]; n > 1 {
			rc.param = fmt.Sprintf("%s%d", name, n)
		}
	}
	return rc, nil
}

// fieldColumn resolves a property to its column: scalar fields and the
// identifier first, then to-one associations (team, team_id, teamId) by
// their foreign key
func fieldColumn(m *mapping.Entity, property string) (string, string, bool) {
	if f, ok := m.Field(property); ok {
		return f.Name, f.Column, true
	}
	if a, ok := m.Association(property); ok && a.Kind == mapping.ToOne {
		return a.Name, a.Column, true
	}
	for _, a := range m.ToOne() {
		for _, suffix := range []string{"_id", "Id", "_Id"} {
			if strings.EqualFold(property, a.Name+suffix) {
				return a.Name, a.Column, true
			}
		}
	}
	return "", "", false
}

// sortColumn resolves a sort property of the root entity
func sortColumn(m *mapping.Entity, alias, property string) (string, error) {
	_, column, ok := fieldColumn(m, property)
	if !ok {
		return "", fmt.Errorf("cannot sort %s by unknown property %s", m.Name, property)
	}
	return alias + "." + column, nil
}

// where adds the predicate to b with argument values bound
func (plan *derivedPlan) where(method string, b *db.Builder, args Args) error {
	if len(plan.groups) == 0 {
		return nil
	}
	if len(plan.groups) == 1 {
		for _, rc := range plan.groups[0] {
			op, value, err := rc.condition(method, args)
			if err != nil {
				return err
			}
			b.Where(rc.column, op, value)
		}
		return nil
	}

	var bindErr error
	b.WhereGroup(db.Or, func(or *db.ConditionGroup) {
		for _, group := range plan.groups {
			or.Group(db.And, func(and *db.ConditionGroup) {
				for _, rc := range group {
					op, value, err := rc.condition(method, args)
					if err != nil && bindErr == nil {
						bindErr = err
					}
					and.Where(rc.column, op, value)
				}
			})
		}
	})
	return bindErr
}

// condition maps the comparator to a builder operator and argument value
func (rc resolvedClause) condition(method string, args Args) (db.Operator, any, error) {
	var value any
	if rc.param != "" {
		value = args[rc.param]
		if e, ok := value.(entity.Entity); ok {
			value = e.ID()
		}
	}

	likeValue := func(prefix, suffix string) (db.Operator, any, error) {
		s, err := entity.AsString(value)
		if err != nil {
			return "", nil, &BindingError{Method: method, Reason: fmt.Sprintf("parameter %s: %v", rc.param, err)}
		}
		return db.Like, prefix + s + suffix, nil
	}

	switch rc.comparator {
	case CompEqual:
		if value == nil {
			return db.IsNull, nil, nil
		}
		return db.Equal, value, nil
	case CompNot:
		if value == nil {
			return db.IsNotNull, nil, nil
		}
		return db.NotEqual, value, nil
	case CompGreaterThan:
		return db.GreaterThan, value, nil
	case CompGreaterThanEqual:
		return db.GreaterThanOrEqual, value, nil
	case CompLessThan:
		return db.LessThan, value, nil
	case CompLessThanEqual:
		return db.LessThanOrEqual, value, nil
	case CompBetween:
		items, ok := listValue(value)
		if !ok || len(items) != 2 {
			return "", nil, &BindingError{Method: method, Reason: fmt.Sprintf("parameter %s of Between needs exactly two values", rc.param)}
		}
		return db.Between, items, nil
	case CompIn, CompNotIn:
		if _, ok := listValue(value); !ok {
			value = []any{value}
		}
		if rc.comparator == CompNotIn {
			return db.NotIn, value, nil
		}
		return db.In, value, nil
	case CompLike:
		return db.Like, value, nil
	case CompNotLike:
		return db.NotLike, value, nil
	case CompStartingWith:
		return likeValue("", "%")
	case CompEndingWith:
		return likeValue("%", "")
	case CompContaining:
		return likeValue("%", "%")
	case CompIsNull:
		return db.IsNull, nil, nil
	case CompIsNotNull:
		return db.IsNotNull, nil, nil
	case CompTrue:
		return db.Equal, true, nil
	case CompFalse:
		return db.Equal, false, nil
	default:
		return "", nil, fmt.Errorf("unsupported comparator %d", rc.comparator)
	}
}

// render builds the entity select of a find or delete method
func (plan *derivedPlan) render(method string, args Args, orders []string, limit, offset int, lock db.LockClause) (string, []any, error) {
	b := db.NewBuilder(plan.root.Table + " " + plan.alias).
		Select(plan.fetch.layout.Columns()...).
		AddJoins(plan.fetch.joins...)
	if plan.query.Distinct {
		b.Distinct()
	}
	if err := plan.where(method, b, args); err != nil {
		return "", nil, err
	}
	b.OrderByRaw(plan.orders...).OrderByRaw(orders...)
	if limit == 0 && plan.query.Limit > 0 {
		limit = plan.query.Limit
	}
	b.Limit(limit).Offset(offset).Lock(lock)
	sql, values := b.BuildSelect()
	return sql, values, nil
}

// renderCount builds the count statement of count, exists and page methods
func (plan *derivedPlan) renderCount(method string, args Args) (string, []any, error) {
	selectList := "COUNT(*)"
	if plan.query.Distinct {
		selectList = fmt.Sprintf("COUNT(DISTINCT %s.%s)", plan.alias, plan.root.ID.Column)
	}
	b := db.NewBuilder(plan.root.Table + " " + plan.alias).Select(selectList)
	if err := plan.where(method, b, args); err != nil {
		return "", nil, err
	}
	sql, values := b.BuildSelect()
	return sql, values, nil
}
