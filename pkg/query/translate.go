package query

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Origin is where a prepared statement's text came from
type Origin int

const (
	OriginExplicit Origin = iota
	OriginNamed
	OriginDerived
)

func (o Origin) String() string {
	switch o {
	case OriginNamed:
		return "named"
	case OriginDerived:
		return "derived"
	default:
		return "explicit"
	}
}

// Statement is a translated statement ready for the backend
type Statement struct {
	SQL    string
	Args   []any
	Kind   Kind
	Shape  Shape
	Entity *mapping.Entity
	// Layout maps columns to entities for entity results; nil otherwise
	Layout *Layout
	// Columns is the number of projected values of a scalar result
	Columns int
	// Count is the count statement of a page query
	Count *Statement
	Lock  LockMode
	// ReadOnly registers results without snapshots
	ReadOnly bool
	// Page is the requested page of page and slice queries
	Page *Pageable
	// RemoveLoaded marks a derived delete: the selected entities are removed
	// one by one through the persistence context
	RemoveLoaded bool
}

// Translator turns descriptors into statements. It is safe for concurrent use
// and memoises prepared descriptors.
type Translator struct {
	registry *mapping.Registry

	mu       sync.RWMutex
	prepared map[uint64]*Prepared
}

// NewTranslator creates a translator over a mapping registry
func NewTranslator(registry *mapping.Registry) *Translator {
	return &Translator{
		registry: registry,
		prepared: make(map[uint64]*Prepared),
	}
}

// Registry returns the mapping registry the translator resolves against
func (t *Translator) Registry() *mapping.Registry {
	return t.registry
}

// Translate prepares d and binds it in one step
func (t *Translator) Translate(d Descriptor, args Args, page *Pageable) (*Statement, error) {
	p, err := t.Prepare(d)
	if err != nil {
		return nil, err
	}
	return p.Bind(args, page)
}

// Prepare parses and validates a descriptor. Results are cached by descriptor
// content, so repeated calls with an equal descriptor are cheap.
func (t *Translator) Prepare(d Descriptor) (*Prepared, error) {
	key := d.cacheKey()
	hash := xxhash.Sum64String(key)

	t.mu.RLock()
	cached, ok := t.prepared[hash]
	t.mu.RUnlock()
	if ok && cached.key == key {
		return cached, nil
	}

	p, err := t.prepare(d)
	if err != nil {
		return nil, err
	}
	p.key = key

	t.mu.Lock()
	if _, taken := t.prepared[hash]; !taken {
		t.prepared[hash] = p
	}
	t.mu.Unlock()
	return p, nil
}

// plan is the common surface of derived and text plans
type plan interface {
	render(method string, args Args, orders []string, limit, offset int, lock db.LockClause) (string, []any, error)
	renderCount(method string, args Args) (string, []any, error)
}

// Prepared is a validated descriptor waiting for arguments
type Prepared struct {
	key        string
	desc       Descriptor
	entity     *mapping.Entity
	origin     Origin
	shape      Shape
	kind       Kind
	main       plan
	count      plan
	layout     *Layout
	scalars    int
	sortAlias  string
	params     []string
	countOnly  []string
	limit      int
	collection bool
}

func (t *Translator) prepare(d Descriptor) (*Prepared, error) {
	method := d.Method
	if method == "" {
		method = d.Entity + ".query"
	}
	root, ok := t.registry.Lookup(d.Entity)
	if !ok {
		return nil, &QueryError{Method: method, Reason: fmt.Sprintf("unknown entity %s", d.Entity)}
	}

	p := &Prepared{desc: d, entity: root, shape: d.Shape}

	// Explicit text wins over a named query, which wins over the method name
	text := d.Query
	switch {
	case text != "":
		p.origin = OriginExplicit
	case d.Method != "":
		if named, ok := root.NamedQuery(d.Method); ok {
			text = named
			p.origin = OriginNamed
		} else {
			p.origin = OriginDerived
		}
	default:
		return nil, &QueryError{Method: method, Reason: "descriptor has neither query text nor method name"}
	}

	if p.origin == OriginDerived {
		if err := p.prepareDerived(t.registry, method); err != nil {
			return nil, err
		}
	} else {
		if err := p.prepareText(t.registry, method, text); err != nil {
			return nil, err
		}
	}

	if d.CountQuery != "" {
		if p.shape != ShapePage {
			return nil, &ShapeError{Method: method, Shape: p.shape, Reason: "a count query only applies to page queries"}
		}
		cp, err := parseText(t.registry, method, d.CountQuery, nil)
		if err != nil {
			return nil, err
		}
		if cp.kind != KindSelect || cp.projection == projEntity {
			return nil, &QueryError{Method: method, Query: d.CountQuery, Reason: "count query must select a count"}
		}
		p.count = cp
		p.countOnly = cp.params()
	}

	if err := p.validateShape(method); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prepared) prepareDerived(reg *mapping.Registry, method string) error {
	dp, err := planDerived(reg, p.entity, p.desc.Method, p.desc.Hints.EntityGraph)
	if err != nil {
		return err
	}
	p.main = dp
	p.count = dp
	p.kind = KindSelect
	p.layout = dp.fetch.layout
	p.sortAlias = dp.alias
	p.params = append([]string(nil), dp.params...)
	sort.Strings(p.params)
	p.limit = dp.query.Limit
	p.collection = dp.fetch.layout.CollectionFetch()

	inferred := map[Action]Shape{
		ActionFind:   ShapeList,
		ActionCount:  ShapeCount,
		ActionExists: ShapeExists,
		ActionDelete: ShapeModifying,
	}[dp.query.Action]
	if p.shape == ShapeAuto {
		p.shape = inferred
	}

	switch dp.query.Action {
	case ActionFind:
		if !p.shape.entityResult() {
			return &ShapeError{Method: method, Shape: p.shape, Reason: "find methods return entities"}
		}
	default:
		if p.shape != inferred {
			return &ShapeError{Method: method, Shape: p.shape, Reason: fmt.Sprintf("%s methods return %s", dp.query.Action, inferred)}
		}
	}
	return nil
}

func (p *Prepared) prepareText(reg *mapping.Registry, method, text string) error {
	tp, err := parseText(reg, method, text, p.desc.Hints.EntityGraph)
	if err != nil {
		return err
	}
	if tp.root != p.entity {
		return &QueryError{Method: method, Query: text, Reason: fmt.Sprintf("query targets %s, not %s", tp.root.Name, p.entity.Name)}
	}
	p.main = tp
	p.count = tp
	p.kind = tp.kind
	p.sortAlias = tp.alias
	p.params = tp.params()
	p.scalars = tp.scalars
	if tp.kind == KindSelect && tp.projection == projEntity {
		p.layout = tp.fetch.layout
		p.collection = tp.fetch.layout.CollectionFetch()
	}

	if p.shape == ShapeAuto {
		switch {
		case tp.kind != KindSelect:
			p.shape = ShapeModifying
		case tp.projection == projEntity:
			p.shape = ShapeList
		case tp.projection == projCount:
			p.shape = ShapeCount
		default:
			p.shape = ShapeScalar
		}
	}

	fail := func(reason string) error {
		return &ShapeError{Method: method, Shape: p.shape, Reason: reason}
	}
	if tp.kind != KindSelect {
		if p.shape != ShapeModifying {
			return fail(fmt.Sprintf("%s statements only support the modifying shape", tp.kind))
		}
		return nil
	}
	switch tp.projection {
	case projEntity:
		if !p.shape.entityResult() && p.shape != ShapeCount && p.shape != ShapeExists {
			return fail("entity selects return entities, counts or existence")
		}
	case projCount:
		if p.shape != ShapeCount && p.shape != ShapeExists && p.shape != ShapeScalar {
			return fail("count selects return a count")
		}
	case projFields:
		if p.shape != ShapeScalar {
			return fail("field projections return scalar rows")
		}
	}
	return nil
}

func (p *Prepared) validateShape(method string) error {
	fail := func(reason string) error {
		return &ShapeError{Method: method, Shape: p.shape, Reason: reason}
	}
	if p.desc.Lock != LockNone && p.kind != KindSelect {
		return fail("locks only apply to select statements")
	}
	if p.shape == ShapePage || p.shape == ShapeSlice {
		if p.collection {
			return fail("paging cannot be combined with a collection fetch join")
		}
		if p.limit > 0 {
			return fail("a First/Top row limit cannot be combined with paging")
		}
	}
	return nil
}

// Descriptor returns the descriptor the statement was prepared from
func (p *Prepared) Descriptor() Descriptor {
	return p.desc
}

// Entity returns the root entity mapping
func (p *Prepared) Entity() *mapping.Entity {
	return p.entity
}

// Shape returns the declared or inferred result shape
func (p *Prepared) Shape() Shape {
	return p.shape
}

// Origin reports whether the text was explicit, named or derived
func (p *Prepared) Origin() Origin {
	return p.origin
}

// Kind returns the statement kind
func (p *Prepared) Kind() Kind {
	return p.kind
}

// Params returns the parameter names the statement expects
func (p *Prepared) Params() []string {
	names := append([]string(nil), p.params...)
	for _, name := range p.countOnly {
		if !contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Bind renders the statement with argument values and an optional page
// request. Binding and shape violations are reported before anything reaches
// the backend.
func (p *Prepared) Bind(args Args, page *Pageable) (*Statement, error) {
	method := p.desc.Method
	if method == "" {
		method = p.desc.Entity + ".query"
	}
	shapeErr := func(reason string) error {
		return &ShapeError{Method: method, Shape: p.shape, Reason: reason}
	}

	if page != nil {
		if !p.shape.pageable() {
			return nil, shapeErr("sort and paging require a list, page or slice result")
		}
		if err := page.validate(); err != nil {
			return nil, shapeErr(err.Error())
		}
		if page.IsPaged() && p.limit > 0 {
			return nil, shapeErr("a First/Top row limit cannot be combined with paging")
		}
	}
	if (p.shape == ShapePage || p.shape == ShapeSlice) && !page.IsPaged() {
		return nil, shapeErr("page and slice results need a page size")
	}

	if err := p.checkArgs(method, args); err != nil {
		return nil, err
	}

	var orders []string
	if page != nil {
		for _, o := range page.Sort.Orders {
			col, err := sortColumn(p.entity, p.sortAlias, o.Field)
			if err != nil {
				return nil, &QueryError{Method: method, Reason: err.Error()}
			}
			dir := o.Direction
			if dir == "" {
				dir = Asc
			}
			orders = append(orders, col+" "+string(dir))
		}
	}

	stmt := &Statement{
		Kind:     p.kind,
		Shape:    p.shape,
		Entity:   p.entity,
		Lock:     p.desc.Lock,
		ReadOnly: p.desc.Hints.ReadOnly,
		Columns:  p.scalars,
	}

	var err error
	switch p.shape {
	case ShapeCount, ShapeExists:
		stmt.SQL, stmt.Args, err = p.main.renderCount(method, args)
		stmt.Columns = 1
	default:
		limit, offset := 0, 0
		if page.IsPaged() {
			limit, offset = page.Size, page.Offset()
			if p.shape == ShapeSlice {
				// One extra row tells whether another slice follows
				limit++
			}
		}
		stmt.SQL, stmt.Args, err = p.main.render(method, args, orders, limit, offset, lockClause(p.desc.Lock))
		stmt.Layout = p.layout
		stmt.Page = page
		stmt.RemoveLoaded = p.origin == OriginDerived && p.shape == ShapeModifying
	}
	if err != nil {
		return nil, err
	}

	if p.shape == ShapePage {
		count := &Statement{Kind: KindSelect, Shape: ShapeCount, Entity: p.entity, Columns: 1}
		count.SQL, count.Args, err = p.count.renderCount(method, args)
		if err != nil {
			return nil, err
		}
		stmt.Count = count
	}
	return stmt, nil
}

func (p *Prepared) checkArgs(method string, args Args) error {
	expected := p.Params()
	var missing, unexpected []string
	for _, name := range expected {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range args {
		if !contains(expected, name) {
			unexpected = append(unexpected, name)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(unexpected)
	return &BindingError{Method: method, Missing: missing, Unexpected: unexpected}
}

func lockClause(mode LockMode) db.LockClause {
	switch mode {
	case LockShared:
		return db.ForShare
	case LockExclusive:
		return db.ForUpdate
	default:
		return db.NoLock
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
