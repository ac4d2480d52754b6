package repository

import (
	"context"

	"github.com/ammar0144/persist4go/pkg/orm"
	"github.com/ammar0144/persist4go/pkg/query"
)

// Repository defines the generic repository interface. Every operation runs
// inside the session it is given.
type Repository[T Entity] interface {
	// Queries (Read Operations - Identity Map, then Cache, then Backend)
	FindByID(ctx context.Context, s *orm.Session, id any, opts ...FindOption) (T, bool, error)
	GetByID(ctx context.Context, s *orm.Session, id any, opts ...FindOption) (T, error)
	FindAll(ctx context.Context, s *orm.Session, opts ...FindOption) ([]T, error)
	FindAllPaged(ctx context.Context, s *orm.Session, page *query.Pageable, opts ...FindOption) (*Page[T], error)
	Count(ctx context.Context, s *orm.Session) (int64, error)
	ExistsByID(ctx context.Context, s *orm.Session, id any) (bool, error)

	// Commands (Write Operations - Flushed at Commit)
	Save(ctx context.Context, s *orm.Session, e T) (T, error)
	SaveAll(ctx context.Context, s *orm.Session, entities []T) ([]T, error)
	Delete(ctx context.Context, s *orm.Session, e T) error
	DeleteByID(ctx context.Context, s *orm.Session, id any) error

	// Query Methods
	Define(d query.Descriptor) (*Method[T], error)

	// Cache Management
	InvalidateCache(ctx context.Context) error
}
