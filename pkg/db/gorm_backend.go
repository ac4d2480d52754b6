package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// GormBackend executes statements through a GORM connection pool
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend wraps a GORM handle
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

// Begin starts a transaction on a dedicated connection
func (b *GormBackend) Begin(ctx context.Context) (Tx, error) {
	if b.db == nil {
		return nil, fmt.Errorf("gorm backend: database not initialized")
	}
	tx := b.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", classify(tx.Error))
	}
	return &gormTx{tx: tx}, nil
}

type gormTx struct {
	tx *gorm.DB
}

func (t *gormTx) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	rows, err := t.tx.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, classify(err)
	}
	return readRows(rows)
}

func (t *gormTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	// The connection pool of a transaction is its *sql.Tx; going through it keeps
	// the driver's last-insert id, which gorm's Exec discards
	res, err := t.tx.Statement.ConnPool.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, classify(err)
	}
	return toResult(res)
}

func (t *gormTx) Commit() error {
	return classify(t.tx.Commit().Error)
}

func (t *gormTx) Rollback() error {
	return t.tx.Rollback().Error
}
