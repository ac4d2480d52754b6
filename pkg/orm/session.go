package orm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/query"
)

// FindOptions adjust a single lookup
type FindOptions struct {
	// ReadOnly registers a newly loaded instance without a snapshot. An
	// instance that is already managed is returned as it is.
	ReadOnly bool
	// Lock reads the row with FOR SHARE or FOR UPDATE inside the transaction
	Lock query.LockMode
	// EntityGraph names associations to load in the same statement
	EntityGraph []string
}

// Session is one unit of work: a backend transaction plus the persistence
// context of every instance read or written through it. A session must not be
// shared between goroutines.
type Session struct {
	engine *Engine
	id     uuid.UUID
	tx     db.Tx
	pc     *IdentityMap
	// generation invalidates lazy loaders whenever the context is cleared
	generation uint64
	closed     bool
	// touched holds the tables written in this transaction; their cache
	// entries are bypassed until commit
	touched map[string]bool
	pending *evictions
	// stamp is the cache invalidation sequence taken before the transaction
	// began; stamped is false when no stamp could be taken, which disables
	// cache fills for the session
	stamp   int64
	stamped bool
	logger  *slog.Logger
}

// ID returns the session identifier used in logs
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Engine returns the engine that opened the session
func (s *Session) Engine() *Engine {
	return s.engine
}

// Translator returns the engine's query translator
func (s *Session) Translator() *query.Translator {
	return s.engine.translator
}

// Closed reports whether the session was committed, rolled back or aborted
func (s *Session) Closed() bool {
	return s.closed
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) mappingOf(e entity.Entity) (*mapping.Entity, error) {
	if e == nil {
		return nil, fmt.Errorf("entity is nil")
	}
	m, ok := s.engine.registry.Lookup(e.EntityName())
	if !ok {
		return nil, &EntityError{Op: "map", Entity: e.EntityName(), Err: ErrUnknownEntity}
	}
	return m, nil
}

// bound reports whether a loader created at generation may still run for owner
func (s *Session) bound(owner entity.Entity, generation uint64) bool {
	return !s.closed && s.generation == generation && s.pc.Contains(owner)
}

func (s *Session) isReadOnly(e entity.Entity) bool {
	rec, ok := s.pc.recordOf(e)
	return ok && rec.readOnly
}

// ============================================================================
// BACKEND ACCESS
// ============================================================================

func (s *Session) query(ctx context.Context, stmt *query.Statement) (*db.RowSet, error) {
	ctx, cancel := s.engine.withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	rs, err := s.tx.Query(ctx, stmt.SQL, stmt.Args...)
	s.engine.metrics.RecordStatement(time.Since(start))
	return rs, err
}

func (s *Session) exec(ctx context.Context, stmt *query.Statement) (db.Result, error) {
	ctx, cancel := s.engine.withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := s.tx.Exec(ctx, stmt.SQL, stmt.Args...)
	s.engine.metrics.RecordStatement(time.Since(start))
	return res, err
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// Find returns the managed instance of name with identifier id, or nil when no
// such row exists
func (s *Session) Find(ctx context.Context, name string, id any) (entity.Entity, error) {
	return s.FindWith(ctx, name, id, FindOptions{})
}

// FindWith is Find with a read-only hint, a row lock or an entity graph
func (s *Session) FindWith(ctx context.Context, name string, id any, opts FindOptions) (entity.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if entity.IsZeroID(id) {
		return nil, fmt.Errorf("find %s: identifier is required", name)
	}
	m, ok := s.engine.registry.Lookup(name)
	if !ok {
		return nil, &EntityError{Op: "find", Entity: name, ID: id, Err: ErrUnknownEntity}
	}
	if opts.Lock != query.LockNone {
		if err := s.autoFlush(ctx); err != nil {
			return nil, err
		}
	}
	return s.find(ctx, m, id, opts)
}

func (s *Session) find(ctx context.Context, m *mapping.Entity, id any, opts FindOptions) (entity.Entity, error) {
	if existing, ok := s.pc.Lookup(m.Name, id); ok {
		rec, _ := s.pc.recordOf(existing)
		if rec.state == Removed {
			return nil, nil
		}
		s.engine.metrics.identityHits.Add(1)
		if opts.Lock != query.LockNone {
			if err := s.lockRow(ctx, rec, opts.Lock); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	if found, ok := s.findCached(ctx, m, id, opts); ok {
		return found, nil
	}

	stmt, err := s.engine.translator.SelectByID(m, id, opts.Lock, opts.EntityGraph)
	if err != nil {
		return nil, err
	}
	rs, err := s.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	found, err := s.materialize(ctx, stmt.Layout, rs.Rows, opts.ReadOnly)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// findCached consults the shared cache. Locked reads, entity graphs and tables
// written in this transaction always go to the backend. Cache failures are
// logged and treated as misses.
func (s *Session) findCached(ctx context.Context, m *mapping.Entity, id any, opts FindOptions) (entity.Entity, bool) {
	c := s.engine.cache
	if c == nil || opts.Lock != query.LockNone || len(opts.EntityGraph) > 0 || s.touched[m.Table] {
		return nil, false
	}

	columns, hit, err := c.GetEntry(ctx, m.Table, entity.NormalizeID(id))
	if err != nil {
		s.engine.metrics.cacheErrors.Add(1)
		s.logger.WarnContext(ctx, "cache read failed", "table", m.Table, "id", id, "error", err)
		return nil, false
	}
	if !hit {
		s.engine.metrics.cacheMisses.Add(1)
		return nil, false
	}
	s.engine.metrics.cacheHits.Add(1)

	mt := s.newMaterializer(query.EntityLayout(m), opts.ReadOnly)
	mt.fromCache = true
	found, err := mt.rows([][]any{cacheRow(m, columns)})
	if err == nil {
		err = mt.resolvePending(ctx)
	}
	if err != nil || len(found) == 0 {
		s.logger.WarnContext(ctx, "cache entry unusable", "table", m.Table, "id", id, "error", err)
		return nil, false
	}
	return found[0], true
}

// List runs an entity statement and returns managed instances in row order
func (s *Session) List(ctx context.Context, stmt *query.Statement) ([]entity.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if stmt.Layout == nil {
		return nil, fmt.Errorf("statement for %s does not return entities", stmt.Entity.Name)
	}
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	rs, err := s.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, stmt.Layout, rs.Rows, stmt.ReadOnly)
}

// Rows runs a scalar statement. Values are returned as the driver produced them
// and never touch the persistence context.
func (s *Session) Rows(ctx context.Context, stmt *query.Statement) ([][]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	rs, err := s.query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return rs.Rows, nil
}

// Count runs a count statement
func (s *Session) Count(ctx context.Context, stmt *query.Statement) (int64, error) {
	rows, err := s.Rows(ctx, stmt)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, err := entity.AsInt64(rows[0][0])
	if err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	return n, nil
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Save makes e managed. A transient instance is inserted right away, a managed
// one is left as is and a detached one is merged into the managed copy, which
// is returned.
func (s *Session) Save(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	m, err := s.mappingOf(e)
	if err != nil {
		return nil, err
	}

	if rec, ok := s.pc.recordOf(e); ok {
		if rec.state == Removed {
			rec.state = Managed
		}
		return e, nil
	}
	if entity.IsNew(e) {
		if err := s.insert(ctx, m, e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return s.merge(ctx, m, e)
}

func (s *Session) insert(ctx context.Context, m *mapping.Entity, e entity.Entity) error {
	if err := s.checkReferences(m, e); err != nil {
		return err
	}
	if m.ID.Strategy == mapping.IDAssigned && entity.IsZeroID(e.ID()) {
		return &EntityError{Op: "save", Entity: m.Name, Err: fmt.Errorf("assigned identifier is not set")}
	}
	if stamped, ok := e.(entity.CreationStamped); ok {
		stamped.MarkCreated(time.Now())
	}

	var cols []string
	var vals []any
	if !entity.IsZeroID(e.ID()) {
		cols = append(cols, m.ID.Column)
		vals = append(vals, e.ID())
	}
	values := e.Values()
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
		vals = append(vals, values[f.Name])
	}
	for _, a := range m.ToOne() {
		cols = append(cols, a.Column)
		vals = append(vals, foreignKey(e, a))
	}

	res, err := s.exec(ctx, query.InsertRow(m, cols, vals))
	if err != nil {
		return err
	}
	if entity.IsZeroID(e.ID()) {
		if !res.HasInsertID {
			return &EntityError{Op: "save", Entity: m.Name, Err: fmt.Errorf("backend returned no generated identifier")}
		}
		if err := e.SetID(res.LastInsertID); err != nil {
			return &EntityError{Op: "save", Entity: m.Name, ID: res.LastInsertID, Err: err}
		}
	}

	s.pc.Register(e, m, false)
	rec, _ := s.pc.recordOf(e)
	s.touched[m.Table] = true
	s.pending.entry(rec.key, m.Table, entity.NormalizeID(e.ID()))

	for _, a := range m.JoinTables() {
		current, loaded := currentLinks(e, a)
		if !loaded {
			continue
		}
		for _, targetID := range sortedIDs(current) {
			if _, err := s.exec(ctx, query.InsertLink(a, e.ID(), targetID)); err != nil {
				return err
			}
		}
		rec.links[a.Name] = current
	}
	return nil
}

// checkReferences rejects references to instances that have no row yet
func (s *Session) checkReferences(m *mapping.Entity, e entity.Entity) error {
	transient := func(target entity.Entity) bool {
		return entity.IsZeroID(target.ID()) || (entity.IsNew(target) && !s.pc.Contains(target))
	}
	for i := range m.Associations {
		a := &m.Associations[i]
		if a.IsCollection() && a.JoinTable == nil {
			continue
		}
		holder := e.Association(a.Name)
		if holder == nil || !holder.Loaded() {
			continue
		}
		for _, target := range holder.Entities() {
			if transient(target) {
				return &EntityError{Op: "save", Entity: m.Name, ID: e.ID(),
					Err: fmt.Errorf("%w: %s.%s", ErrTransientReference, m.Name, a.Name)}
			}
		}
	}
	return nil
}

// merge copies the state of a detached instance onto the managed copy. When
// the row no longer exists the instance is inserted with its identifier.
func (s *Session) merge(ctx context.Context, m *mapping.Entity, e entity.Entity) (entity.Entity, error) {
	if existing, ok := s.pc.Lookup(m.Name, e.ID()); ok {
		if rec, _ := s.pc.recordOf(existing); rec.state == Removed {
			return nil, &EntityError{Op: "merge", Entity: m.Name, ID: e.ID(), Err: fmt.Errorf("entity is scheduled for removal")}
		}
	}
	managed, err := s.find(ctx, m, e.ID(), FindOptions{})
	if err != nil {
		return nil, err
	}
	if managed == nil {
		if err := s.insert(ctx, m, e); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err := s.checkReferences(m, e); err != nil {
		return nil, err
	}

	if err := managed.Scan(e.Values()); err != nil {
		return nil, &EntityError{Op: "merge", Entity: m.Name, ID: e.ID(), Err: err}
	}
	for _, a := range m.ToOne() {
		if err := s.mergeReference(managed, m, a, e.Association(a.Name)); err != nil {
			return nil, err
		}
	}
	for _, a := range m.JoinTables() {
		src := e.Association(a.Name)
		if src == nil || !src.Loaded() {
			continue
		}
		rec, _ := s.pc.recordOf(managed)
		if _, known := rec.links[a.Name]; !known {
			if _, err := s.loadCollection(ctx, managed, m, a); err != nil {
				return nil, err
			}
		}
		items := make([]entity.Entity, 0, len(src.Entities()))
		for _, item := range src.Entities() {
			if inst, ok := s.pc.Lookup(a.Target, item.ID()); ok {
				item = inst
			}
			items = append(items, item)
		}
		if err := managed.Association(a.Name).Attach(items...); err != nil {
			return nil, err
		}
	}
	return managed, nil
}

func (s *Session) mergeReference(managed entity.Entity, m *mapping.Entity, a *mapping.Association, src entity.Association) error {
	dst := managed.Association(a.Name)
	if src == nil || dst == nil {
		return nil
	}
	id := src.TargetID()
	switch {
	case id == nil:
		return dst.Attach()
	case src.Loaded() && len(src.Entities()) == 1:
		value := src.Entities()[0]
		if inst, ok := s.pc.Lookup(a.Target, id); ok {
			value = inst
		}
		return dst.Attach(value)
	default:
		if entity.NormalizeID(dst.TargetID()) != entity.NormalizeID(id) {
			dst.Defer(id, s.referenceLoader(managed, m, a, id))
		}
		return nil
	}
}

// Delete schedules the removal of e's row for the next flush. Transient
// instances and rows that no longer exist are ignored.
func (s *Session) Delete(ctx context.Context, e entity.Entity) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	m, err := s.mappingOf(e)
	if err != nil {
		return err
	}

	rec, ok := s.pc.recordOf(e)
	if !ok {
		if entity.IsNew(e) && !s.hasKey(m, e) {
			return nil
		}
		managed, err := s.find(ctx, m, e.ID(), FindOptions{})
		if err != nil {
			return err
		}
		if managed == nil {
			return nil
		}
		rec, _ = s.pc.recordOf(managed)
	}
	rec.state = Removed
	return nil
}

func (s *Session) hasKey(m *mapping.Entity, e entity.Entity) bool {
	if entity.IsZeroID(e.ID()) {
		return false
	}
	_, ok := s.pc.Lookup(m.Name, e.ID())
	return ok
}

// Lock acquires a row lock on a managed instance for the rest of the
// transaction
func (s *Session) Lock(ctx context.Context, e entity.Entity, mode query.LockMode) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	rec, ok := s.pc.recordOf(e)
	if !ok || rec.state != Managed {
		return &EntityError{Op: "lock", Entity: e.EntityName(), ID: e.ID(), Err: ErrNotManaged}
	}
	if mode == query.LockNone {
		return nil
	}
	if err := s.autoFlush(ctx); err != nil {
		return err
	}
	return s.lockRow(ctx, rec, mode)
}

func (s *Session) lockRow(ctx context.Context, rec *record, mode query.LockMode) error {
	rs, err := s.query(ctx, query.LockRow(rec.mapping, rec.entity.ID(), mode))
	if err != nil {
		return err
	}
	if rs.Len() == 0 {
		return &EntityError{Op: "lock", Entity: rec.mapping.Name, ID: rec.entity.ID(), Err: ErrEntityNotFound}
	}
	return nil
}

// Execute runs a modifying statement. Derived deletes remove every selected
// entity through the persistence context; explicit update and delete text runs
// as a bulk statement. It returns the number of affected rows.
func (s *Session) Execute(ctx context.Context, stmt *query.Statement) (int64, error) {
	if !stmt.RemoveLoaded {
		return s.ExecuteBulk(ctx, stmt)
	}
	found, err := s.List(ctx, stmt)
	if err != nil {
		return 0, err
	}
	for _, e := range found {
		if err := s.Delete(ctx, e); err != nil {
			return 0, err
		}
	}
	return int64(len(found)), nil
}

// ExecuteBulk flushes pending changes, runs one update or delete statement and
// clears the persistence context. The entity's cache region is evicted at
// commit and bypassed until then.
func (s *Session) ExecuteBulk(ctx context.Context, stmt *query.Statement) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if stmt.Kind != query.KindUpdate && stmt.Kind != query.KindDelete {
		return 0, fmt.Errorf("bulk execution needs an update or delete statement, got %s", stmt.Kind)
	}
	if err := s.autoFlush(ctx); err != nil {
		return 0, err
	}

	res, err := s.exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	table := stmt.Entity.Table
	s.touched[table] = true
	s.pending.region(table)
	s.Clear()

	s.logger.DebugContext(ctx, "bulk statement executed", "table", table, "rows", res.RowsAffected)
	return res.RowsAffected, nil
}

// ============================================================================
// CONTEXT MANAGEMENT
// ============================================================================

// State reports the lifecycle state of e relative to this session
func (s *Session) State(e entity.Entity) State {
	if rec, ok := s.pc.recordOf(e); ok {
		return rec.state
	}
	if entity.IsNew(e) {
		return Transient
	}
	return Detached
}

// Contains reports whether e is managed or removed in this session
func (s *Session) Contains(e entity.Entity) bool {
	return s.pc.Contains(e)
}

// IsDirty reports whether a managed instance has unflushed changes
func (s *Session) IsDirty(e entity.Entity) bool {
	return s.pc.IsDirty(e)
}

// Detach removes e from the persistence context. Its pending changes are
// dropped and its lazy associations can no longer load.
func (s *Session) Detach(e entity.Entity) {
	if rec, ok := s.pc.recordOf(e); ok {
		s.pc.drop(rec)
	}
}

// Clear detaches every instance without flushing
func (s *Session) Clear() {
	s.pc.Clear()
	s.generation++
}

// SetReadOnly toggles dirty checking for a managed instance. Turning it off
// takes a fresh snapshot, so earlier in-memory changes are not flushed and
// only later ones are.
func (s *Session) SetReadOnly(e entity.Entity, readOnly bool) error {
	rec, ok := s.pc.recordOf(e)
	if !ok {
		return &EntityError{Op: "set read-only", Entity: e.EntityName(), ID: e.ID(), Err: ErrNotManaged}
	}
	if rec.readOnly == readOnly {
		return nil
	}
	rec.readOnly = readOnly
	if readOnly {
		rec.snapshot = nil
		return nil
	}
	s.pc.Snapshot(e)
	return nil
}

// ============================================================================
// TRANSACTION BOUNDARIES
// ============================================================================

// Flush writes pending changes. A failed flush rolls the transaction back and
// closes the session.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.autoFlush(ctx)
}

func (s *Session) autoFlush(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		s.abort(ctx, err)
		return err
	}
	return nil
}

// Commit flushes, commits the transaction, evicts the cache entries of written
// rows and detaches every instance
func (s *Session) Commit(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.autoFlush(ctx); err != nil {
		return err
	}

	if err := s.tx.Commit(); err != nil {
		s.close()
		s.engine.metrics.rollbacks.Add(1)
		return err
	}
	s.engine.metrics.commits.Add(1)
	s.applyEvictions(ctx)
	s.close()
	return nil
}

// Rollback discards the transaction and detaches every instance. Rolling back
// a closed session does nothing.
func (s *Session) Rollback() error {
	if s.closed {
		return nil
	}
	err := s.tx.Rollback()
	s.close()
	s.engine.metrics.rollbacks.Add(1)
	return err
}

func (s *Session) abort(ctx context.Context, cause error) {
	if s.closed {
		return
	}
	s.logger.WarnContext(ctx, "flush failed, rolling back", "error", cause)
	if err := s.tx.Rollback(); err != nil {
		s.logger.WarnContext(ctx, "rollback failed", "error", err)
	}
	s.close()
	s.engine.metrics.rollbacks.Add(1)
}

func (s *Session) close() {
	s.closed = true
	s.generation++
	s.pc.Clear()
}

// populateCache offers rows read from the backend to the shared cache. Tables
// this session wrote are skipped because their rows may be uncommitted.
// Failures only cost cache hits, so they are logged and counted.
func (s *Session) populateCache(ctx context.Context, loaded []loadedRow) {
	c := s.engine.cache
	if c == nil || !s.stamped {
		return
	}
	for _, row := range loaded {
		table := row.mapping.Table
		if s.touched[table] {
			continue
		}
		id := entity.NormalizeID(row.values[0])
		if err := c.PutEntry(ctx, table, id, s.stamp, rowColumns(row.mapping, row.values)); err != nil {
			s.engine.metrics.cacheErrors.Add(1)
			s.logger.WarnContext(ctx, "cache fill failed", "table", table, "id", id, "error", err)
		}
	}
}

// applyEvictions runs after a successful commit and drops the entries of
// every row this transaction inserted, updated or deleted
func (s *Session) applyEvictions(ctx context.Context) {
	c := s.engine.cache
	if c == nil {
		return
	}
	fail := func(op string, err error) {
		s.engine.metrics.cacheErrors.Add(1)
		s.logger.WarnContext(ctx, "cache eviction failed", "op", op, "error", err)
	}

	for region := range s.pending.regions {
		if err := c.EvictRegion(ctx, region); err != nil {
			fail("evict region", err)
		}
	}
	for _, ref := range s.pending.entries {
		if s.pending.regions[ref.region] {
			continue
		}
		if err := c.EvictEntry(ctx, ref.region, ref.id); err != nil {
			fail("evict", err)
		}
	}
}
