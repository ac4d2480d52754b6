package testkit

import (
	"context"
	"strings"
	"sync"

	"github.com/ammar0144/persist4go/pkg/db"
)

// Statement is one recorded backend call
type Statement struct {
	SQL  string
	Args []any
}

// Recorder wraps a backend and records every statement it runs. SQLite has no
// row locks, so lock suffixes are recorded but stripped before execution.
type Recorder struct {
	inner db.Backend

	mu         sync.Mutex
	statements []Statement
	failPrefix string
	failErr    error
}

// NewRecorder wraps inner
func NewRecorder(inner db.Backend) *Recorder {
	return &Recorder{inner: inner}
}

// Begin implements db.Backend
func (r *Recorder) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := r.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingTx{inner: tx, rec: r}, nil
}

func (r *Recorder) record(sql string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, Statement{SQL: sql, Args: append([]any(nil), args...)})
}

// FailOn makes every later Exec whose SQL starts with prefix return err
// without reaching the database
func (r *Recorder) FailOn(prefix string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPrefix = prefix
	r.failErr = err
}

func (r *Recorder) injected(sql string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil && strings.HasPrefix(sql, r.failPrefix) {
		return r.failErr
	}
	return nil
}

// Statements returns the recorded statements in order
func (r *Recorder) Statements() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Statement(nil), r.statements...)
}

// SQL returns the recorded statement texts in order
func (r *Recorder) SQL() []string {
	stmts := r.Statements()
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.SQL
	}
	return out
}

// Reset forgets the recorded statements
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = nil
}

// Count returns the number of statements starting with prefix
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, sql := range r.SQL() {
		if strings.HasPrefix(sql, prefix) {
			n++
		}
	}
	return n
}

// Contains reports whether any statement contains substr
func (r *Recorder) Contains(substr string) bool {
	for _, sql := range r.SQL() {
		if strings.Contains(sql, substr) {
			return true
		}
	}
	return false
}

type recordingTx struct {
	inner db.Tx
	rec   *Recorder
}

func (t *recordingTx) Query(ctx context.Context, query string, args ...any) (*db.RowSet, error) {
	t.rec.record(query, args)
	return t.inner.Query(ctx, query, args...)
}

func (t *recordingTx) Exec(ctx context.Context, query string, args ...any) (db.Result, error) {
	t.rec.record(query, args)
	if err := t.rec.injected(query); err != nil {
		return db.Result{}, err
	}
	return t.inner.Exec(ctx, query, args...)
}

func (t *recordingTx) Commit() error {
	return t.inner.Commit()
}

func (t *recordingTx) Rollback() error {
	return t.inner.Rollback()
}
