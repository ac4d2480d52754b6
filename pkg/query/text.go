package query

import (
	"fmt"
	"strings"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Kind is the kind of SQL statement
type Kind int

const (
	KindSelect Kind = iota
	KindUpdate
	KindDelete
	KindInsert
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindInsert:
		return "insert"
	default:
		return "select"
	}
}

type projection int

const (
	projEntity projection = iota
	projFields
	projCount
)

// textPlan is a parsed query text, ready to render with arguments
type textPlan struct {
	kind       Kind
	root       *mapping.Entity
	alias      string
	projection projection
	distinct   bool
	selectList template
	scalars    int
	fetch      *fetchPlan
	where      template
	order      template
	set        template
	toManyJoin bool
}

type aliasRef struct {
	entity  *mapping.Entity
	path    string
	fetched bool
}

var reservedAliases = map[string]bool{
	"where": true, "set": true, "join": true, "left": true, "inner": true,
	"order": true, "as": true, "on": true, "group": true, "fetch": true, "outer": true,
}

type textParser struct {
	reg     *mapping.Registry
	method  string
	query   string
	toks    []token
	pos     int
	plan    *textPlan
	aliases map[string]*aliasRef
}

// parseText parses explicit or named query text. graph lists entity-graph
// association paths to fetch on top of the joins in the text.
func parseText(reg *mapping.Registry, method, query string, graph []string) (*textPlan, error) {
	toks, err := lex(query)
	if err != nil {
		return nil, &QueryError{Method: method, Query: query, Reason: err.Error()}
	}
	if len(toks) == 0 {
		return nil, &QueryError{Method: method, Query: query, Reason: "empty query"}
	}

	p := &textParser{
		reg:     reg,
		method:  method,
		query:   query,
		toks:    toks,
		plan:    &textPlan{},
		aliases: map[string]*aliasRef{},
	}

	switch {
	case toks[0].is("select"):
		err = p.parseSelect(graph)
	case toks[0].is("update"):
		err = p.parseUpdate()
	case toks[0].is("delete"):
		err = p.parseDelete()
	default:
		err = p.fail("query must start with select, update or delete")
	}
	if err != nil {
		return nil, err
	}
	return p.plan, nil
}

func (p *textParser) fail(format string, args ...any) error {
	return &QueryError{Method: p.method, Query: p.query, Reason: fmt.Sprintf(format, args...)}
}

func (p *textParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *textParser) accept(kw string) bool {
	if t, ok := p.peek(); ok && t.is(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *textParser) expect(kw string) error {
	if !p.accept(kw) {
		return p.fail("expected %s", kw)
	}
	return nil
}

// entityClause parses "<Entity> [as] [alias]"
func (p *textParser) entityClause() error {
	t, ok := p.peek()
	if !ok || t.kind != tokIdent {
		return p.fail("expected entity name")
	}
	p.pos++
	root, ok := p.reg.Lookup(t.text)
	if !ok {
		return p.fail("unknown entity %s", t.text)
	}
	p.plan.root = root

	explicitAs := p.accept("as")
	if next, ok := p.peek(); ok && next.kind == tokIdent && !reservedAliases[strings.ToLower(next.text)] {
		p.plan.alias = next.text
		p.pos++
	} else if explicitAs {
		return p.fail("expected alias after as")
	}
	if p.plan.alias != "" {
		p.aliases[p.plan.alias] = &aliasRef{entity: root, fetched: true}
	}
	return nil
}

func (p *textParser) parseSelect(graph []string) error {
	p.plan.kind = KindSelect

	fromIdx := -1
	depth := 0
	for i, t := range p.toks {
		switch {
		case t.kind == tokSymbol && t.text == "(":
			depth++
		case t.kind == tokSymbol && t.text == ")":
			depth--
		case depth == 0 && t.is("from"):
			fromIdx = i
		}
		if fromIdx >= 0 {
			break
		}
	}
	if fromIdx < 0 {
		return p.fail("select without from")
	}

	p.pos = fromIdx + 1
	if err := p.entityClause(); err != nil {
		return err
	}
	if p.plan.alias == "" {
		p.plan.alias = defaultAlias(p.plan.root)
		p.aliases[p.plan.alias] = &aliasRef{entity: p.plan.root, fetched: true}
	}
	p.plan.fetch = newFetchPlan(p.reg, p.plan.alias, p.plan.root)

	if err := p.parseJoins(); err != nil {
		return err
	}
	if p.accept("where") {
		if err := p.translateUntilOrder(&p.plan.where); err != nil {
			return err
		}
	}
	if p.accept("order") {
		if err := p.expect("by"); err != nil {
			return err
		}
		if err := p.translate(p.toks[p.pos:], &p.plan.order, true); err != nil {
			return err
		}
		p.pos = len(p.toks)
	}
	if t, ok := p.peek(); ok {
		return p.fail("unexpected %q at offset %d", t.text, t.pos)
	}

	if err := p.parseProjection(p.toks[1:fromIdx]); err != nil {
		return err
	}
	if p.plan.projection == projEntity && len(graph) > 0 {
		if err := p.plan.fetch.graph(graph); err != nil {
			return p.fail("%v", err)
		}
	}
	return nil
}

func (p *textParser) parseJoins() error {
	for {
		typ := db.InnerJoin
		t, ok := p.peek()
		if !ok {
			return nil
		}
		switch {
		case t.is("left"):
			p.pos++
			p.accept("outer")
			typ = db.LeftJoin
			if err := p.expect("join"); err != nil {
				return err
			}
		case t.is("inner"):
			p.pos++
			if err := p.expect("join"); err != nil {
				return err
			}
		case t.is("join"):
			p.pos++
		default:
			return nil
		}

		fetch := p.accept("fetch")
		pathTok, ok := p.peek()
		if !ok || pathTok.kind != tokPath {
			return p.fail("expected alias.association after join")
		}
		p.pos++
		parentAlias, assocName, _ := strings.Cut(pathTok.text, ".")
		if strings.Contains(assocName, ".") {
			return p.fail("join path %s must name one association", pathTok.text)
		}
		parent, ok := p.aliases[parentAlias]
		if !ok {
			return p.fail("unknown alias %s", parentAlias)
		}
		assoc, ok := parent.entity.Association(assocName)
		if !ok {
			return p.fail("entity %s has no association %s", parent.entity.Name, assocName)
		}

		alias := ""
		explicitAs := p.accept("as")
		if next, ok := p.peek(); ok && next.kind == tokIdent && !reservedAliases[strings.ToLower(next.text)] {
			alias = next.text
			p.pos++
		} else if explicitAs {
			return p.fail("expected alias after as")
		}
		if _, taken := p.aliases[alias]; taken && alias != "" {
			return p.fail("alias %s declared twice", alias)
		}
		if assoc.IsCollection() {
			p.plan.toManyJoin = true
		}

		fp := p.plan.fetch
		if fetch {
			if !parent.fetched {
				return p.fail("fetch join from %s requires %s to be fetched", pathTok.text, parentAlias)
			}
			idx, err := fp.fetch(parent.path, assoc.Name, alias, typ)
			if err != nil {
				return p.fail("%v", err)
			}
			b := fp.layout.Bindings[idx]
			path := assoc.Name
			if parent.path != "" {
				path = parent.path + "." + assoc.Name
			}
			p.aliases[b.Alias] = &aliasRef{entity: b.Entity, path: path, fetched: true}
			continue
		}

		if alias == "" {
			fp.generated++
			alias = fmt.Sprintf("j%d", fp.generated)
		}
		target, joins, err := associationJoins(p.reg, typ, parentAlias, parent.entity, assoc, alias)
		if err != nil {
			return p.fail("%v", err)
		}
		fp.joins = append(fp.joins, joins...)
		p.aliases[alias] = &aliasRef{entity: target}
	}
}

func (p *textParser) parseProjection(toks []token) error {
	plan := p.plan
	if len(toks) > 0 && toks[0].is("distinct") {
		plan.distinct = true
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return p.fail("empty select list")
	}

	if len(toks) == 1 && toks[0].kind == tokIdent {
		ref, ok := p.aliases[toks[0].text]
		if !ok {
			return p.fail("unknown alias %s in select list", toks[0].text)
		}
		if ref.entity != plan.root || toks[0].text != plan.alias {
			return p.fail("only the root alias %s can be selected as an entity", plan.alias)
		}
		plan.projection = projEntity
		return nil
	}

	if toks[0].is("new") {
		return p.fail("constructor projections are not supported")
	}

	if toks[0].is("count") && len(toks) >= 3 && toks[1].text == "(" && toks[len(toks)-1].text == ")" {
		inner := toks[2 : len(toks)-1]
		distinct := false
		if len(inner) > 0 && inner[0].is("distinct") {
			distinct = true
			inner = inner[1:]
		}
		if len(inner) != 1 {
			return p.fail("count takes one alias, path or *")
		}
		target := "*"
		switch inner[0].kind {
		case tokSymbol:
			if inner[0].text != "*" {
				return p.fail("count takes one alias, path or *")
			}
		case tokIdent:
			ref, ok := p.aliases[inner[0].text]
			if !ok {
				return p.fail("unknown alias %s", inner[0].text)
			}
			target = inner[0].text + "." + ref.entity.ID.Column
		case tokPath:
			col, err := p.resolvePath(inner[0].text, true)
			if err != nil {
				return err
			}
			target = col
		default:
			return p.fail("count takes one alias, path or *")
		}
		if distinct {
			target = "DISTINCT " + target
		}
		plan.projection = projCount
		plan.selectList.literal("COUNT(" + target + ")")
		plan.scalars = 1
		return nil
	}

	plan.projection = projFields
	plan.scalars = 1
	depth := 0
	for _, t := range toks {
		if t.kind == tokSymbol {
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
			case ",":
				if depth == 0 {
					plan.scalars++
				}
			}
		}
	}
	return p.translate(toks, &plan.selectList, true)
}

func (p *textParser) parseUpdate() error {
	p.plan.kind = KindUpdate
	p.pos = 1
	if err := p.entityClause(); err != nil {
		return err
	}
	if err := p.expect("set"); err != nil {
		return err
	}

	start := p.pos
	depth := 0
	for ; p.pos < len(p.toks); p.pos++ {
		t := p.toks[p.pos]
		if t.kind == tokSymbol && t.text == "(" {
			depth++
		} else if t.kind == tokSymbol && t.text == ")" {
			depth--
		} else if depth == 0 && t.is("where") {
			break
		}
	}
	if p.pos == start {
		return p.fail("update without assignments")
	}
	if err := p.translate(p.toks[start:p.pos], &p.plan.set, false); err != nil {
		return err
	}
	return p.parseWriteWhere()
}

func (p *textParser) parseDelete() error {
	p.plan.kind = KindDelete
	p.pos = 1
	p.accept("from")
	if err := p.entityClause(); err != nil {
		return err
	}
	return p.parseWriteWhere()
}

func (p *textParser) parseWriteWhere() error {
	if p.accept("where") {
		if err := p.translate(p.toks[p.pos:], &p.plan.where, false); err != nil {
			return err
		}
		p.pos = len(p.toks)
	}
	if t, ok := p.peek(); ok {
		return p.fail("unexpected %q at offset %d", t.text, t.pos)
	}
	return nil
}

// translateUntilOrder translates a where clause that may be followed by order by
func (p *textParser) translateUntilOrder(t *template) error {
	start := p.pos
	depth := 0
	for ; p.pos < len(p.toks); p.pos++ {
		tok := p.toks[p.pos]
		if tok.kind == tokSymbol && tok.text == "(" {
			depth++
		} else if tok.kind == tokSymbol && tok.text == ")" {
			depth--
		} else if depth == 0 && tok.is("order") && p.pos+1 < len(p.toks) && p.toks[p.pos+1].is("by") {
			break
		}
	}
	if p.pos == start {
		return p.fail("empty where clause")
	}
	return p.translate(p.toks[start:p.pos], t, true)
}

// translate rewrites entity paths to columns and named parameters to
// placeholders; every other token is copied. qualify keeps table aliases,
// which update and delete statements drop.
func (p *textParser) translate(toks []token, t *template, qualify bool) error {
	for i, tok := range toks {
		if i > 0 && tok.space {
			t.literal(" ")
		}
		switch tok.kind {
		case tokPath:
			col, err := p.resolvePath(tok.text, qualify)
			if err != nil {
				return err
			}
			t.literal(col)

		case tokParam:
			wrap := i > 0 && toks[i-1].is("in")
			t.placeholder(tok.text, -1, wrap)

		case tokIdent:
			if ref, ok := p.aliases[tok.text]; ok {
				if qualify {
					t.literal(tok.text + "." + ref.entity.ID.Column)
				} else {
					t.literal(ref.entity.ID.Column)
				}
				continue
			}
			if !qualify && p.plan.alias == "" {
				if f, ok := p.plan.root.Field(tok.text); ok {
					t.literal(f.Column)
					continue
				}
			}
			t.literal(tok.text)

		default:
			t.literal(tok.text)
		}
	}
	return nil
}

// resolvePath maps alias.field, alias.association and alias.association.id
// to a column
func (p *textParser) resolvePath(path string, qualify bool) (string, error) {
	segments := strings.Split(path, ".")
	ref, ok := p.aliases[segments[0]]
	if !ok {
		return "", p.fail("unknown alias %s in %s", segments[0], path)
	}

	column := ""
	switch len(segments) {
	case 2:
		if f, ok := ref.entity.Field(segments[1]); ok {
			column = f.Column
		} else if a, ok := ref.entity.Association(segments[1]); ok && a.Kind == mapping.ToOne {
			column = a.Column
		} else {
			return "", p.fail("entity %s has no field %s", ref.entity.Name, segments[1])
		}
	case 3:
		a, ok := ref.entity.Association(segments[1])
		if !ok || a.Kind != mapping.ToOne {
			return "", p.fail("%s does not name a to-one association", path)
		}
		target, ok := p.reg.Lookup(a.Target)
		if !ok || !strings.EqualFold(segments[2], target.ID.Field) {
			return "", p.fail("path %s navigates past the foreign key; join the association instead", path)
		}
		column = a.Column
	default:
		return "", p.fail("path %s is too deep; join the association instead", path)
	}

	if qualify {
		return segments[0] + "." + column, nil
	}
	return column, nil
}

// render builds the main statement of the plan
func (plan *textPlan) render(method string, args Args, orders []string, limit, offset int, lock db.LockClause) (string, []any, error) {
	var t template
	switch plan.kind {
	case KindUpdate:
		t.literal("UPDATE " + plan.root.Table + " SET ")
		t.parts = append(t.parts, plan.set.parts...)
		plan.appendWhere(&t)
		return t.render(method, args)
	case KindDelete:
		t.literal("DELETE FROM " + plan.root.Table)
		plan.appendWhere(&t)
		return t.render(method, args)
	}

	t.literal("SELECT ")
	if plan.distinct {
		t.literal("DISTINCT ")
	}
	if plan.projection == projEntity {
		t.literal(strings.Join(plan.fetch.layout.Columns(), ", "))
	} else {
		t.parts = append(t.parts, plan.selectList.parts...)
	}
	plan.appendFrom(&t)
	plan.appendWhere(&t)

	switch {
	case !plan.order.empty():
		t.literal(" ORDER BY ")
		t.parts = append(t.parts, plan.order.parts...)
		if len(orders) > 0 {
			t.literal(", " + strings.Join(orders, ", "))
		}
	case len(orders) > 0:
		t.literal(" ORDER BY " + strings.Join(orders, ", "))
	}
	if limit > 0 {
		t.literal(fmt.Sprintf(" LIMIT %d", limit))
	}
	if offset > 0 {
		t.literal(fmt.Sprintf(" OFFSET %d", offset))
	}
	if lock != db.NoLock {
		t.literal(" " + string(lock))
	}
	return t.render(method, args)
}

// renderCount derives the count statement: the projection becomes a count,
// fetch columns and ordering are dropped
func (plan *textPlan) renderCount(method string, args Args) (string, []any, error) {
	if plan.projection == projCount {
		return plan.render(method, args, nil, 0, 0, db.NoLock)
	}
	var t template
	if plan.toManyJoin || plan.distinct {
		t.literal(fmt.Sprintf("SELECT COUNT(DISTINCT %s.%s)", plan.alias, plan.root.ID.Column))
	} else {
		t.literal("SELECT COUNT(*)")
	}
	plan.appendFrom(&t)
	plan.appendWhere(&t)
	return t.render(method, args)
}

func (plan *textPlan) appendFrom(t *template) {
	t.literal(" FROM " + plan.root.Table + " " + plan.alias)
	for _, j := range plan.fetch.joins {
		t.literal(" " + j.SQL())
	}
}

func (plan *textPlan) appendWhere(t *template) {
	if plan.where.empty() {
		return
	}
	t.literal(" WHERE ")
	t.parts = append(t.parts, plan.where.parts...)
}

// params lists every placeholder the plan references
func (plan *textPlan) params() []string {
	var all template
	for _, part := range [][]part{plan.selectList.parts, plan.set.parts, plan.where.parts, plan.order.parts} {
		all.parts = append(all.parts, part...)
	}
	return all.params()
}
