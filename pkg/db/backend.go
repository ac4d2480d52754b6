package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Backend is the relational execution interface consumed by the persistence
// engine. One Tx carries every statement of a unit of work.
type Backend interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single logical database connection inside a transaction
type Tx interface {
	// Query runs a row-returning statement and reads the whole row set
	Query(ctx context.Context, query string, args ...any) (*RowSet, error)

	// Exec runs a statement that returns no rows
	Exec(ctx context.Context, query string, args ...any) (Result, error)

	Commit() error
	Rollback() error
}

// RowSet is a fully read result set; values are whatever the driver returned
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Result describes the effect of an Exec
type Result struct {
	RowsAffected int64
	LastInsertID int64
	HasInsertID  bool
}

// readRows drains rows into a RowSet and closes them
func readRows(rows *sql.Rows) (*RowSet, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	rs := &RowSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			// Drivers may reuse byte buffers between rows
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return rs, nil
}

// toResult converts a driver result, tolerating drivers without insert ids
func toResult(res sql.Result) (Result, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("rows affected: %w", err)
	}
	out := Result{RowsAffected: affected}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
		out.HasInsertID = true
	}
	return out, nil
}
