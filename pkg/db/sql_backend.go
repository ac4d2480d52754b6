package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLBackend executes statements through database/sql. It backs the embedded
// SQLite store and any other database/sql driver.
type SQLBackend struct {
	db *sql.DB
	// rowLocks is false for SQLite, which rejects FOR UPDATE and FOR SHARE
	rowLocks bool
}

// NewSQLBackend wraps an open database handle whose driver accepts row locks
func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db, rowLocks: true}
}

// OpenSQLite opens a SQLite database through the pure-Go modernc driver.
// In-memory databases are pinned to one connection so every transaction sees
// the same database. SQLite has no row locks; locking reads fail with
// ErrLockUnsupported.
func OpenSQLite(dsn string) (*SQLBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLBackend{db: sqlDB}, nil
}

// RowLocks reports whether locking reads reach the database
func (b *SQLBackend) RowLocks() bool {
	return b.rowLocks
}

// DB returns the underlying handle
func (b *SQLBackend) DB() *sql.DB {
	return b.db
}

// Close closes the underlying handle
func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Begin starts a transaction
func (b *SQLBackend) Begin(ctx context.Context) (Tx, error) {
	if b.db == nil {
		return nil, fmt.Errorf("sql backend: database not initialized")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", classify(err))
	}
	return &sqlTx{tx: tx, rowLocks: b.rowLocks}, nil
}

type sqlTx struct {
	tx       *sql.Tx
	rowLocks bool
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	if !t.rowLocks {
		if clause := lockClauseOf(query); clause != NoLock {
			return nil, fmt.Errorf("%w: sqlite cannot run %s", ErrLockUnsupported, clause)
		}
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return readRows(rows)
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, classify(err)
	}
	return toResult(res)
}

func (t *sqlTx) Commit() error {
	return classify(t.tx.Commit())
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

// lockClauseOf returns the row-lock suffix of a rendered SELECT
func lockClauseOf(query string) LockClause {
	for _, clause := range []LockClause{ForUpdate, ForShare} {
		if strings.HasSuffix(query, " "+string(clause)) {
			return clause
		}
	}
	return NoLock
}
