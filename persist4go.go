// Package persist4go is an object-relational persistence engine with a
// persistence context, a query translator for derived, named and explicit
// queries, and an optional Redis second-level cache.
package persist4go

import (
	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/config"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/orm"
	"github.com/ammar0144/persist4go/pkg/query"
	"github.com/ammar0144/persist4go/pkg/repository"
)

// Config represents the full deployment configuration
type Config = config.Config

// LoadConfig reads a YAML file and PERSIST4GO_* environment overrides
func LoadConfig(path string) (Config, error) {
	return config.Load(config.LoadOptions{Path: path})
}

// Open connects everything cfg describes
func Open(cfg Config) (*config.Stack, error) {
	return config.Open(cfg)
}

// DatabaseConfig represents MySQL configuration
type DatabaseConfig = db.Config

// NewManager creates a new MySQL connection manager
func NewManager(config *DatabaseConfig) (*db.Manager, error) {
	return db.NewManager(config)
}

// CacheConfig represents Redis second-level cache configuration
type CacheConfig = cache.Config

// NewCacheManager creates a new Redis-backed entity cache
func NewCacheManager(config *CacheConfig) (*cache.Manager, error) {
	return cache.NewManager(config)
}

// Entity interface that every mapped entity implements
type Entity = entity.Entity

// Registry is the mapping table between entities and tables
type Registry = mapping.Registry

// NewRegistry creates an empty mapping table
func NewRegistry() *Registry {
	return mapping.NewRegistry()
}

// Engine owns the mapping, the query translator and the shared cache
type Engine = orm.Engine

// Session is one unit of work inside one transaction
type Session = orm.Session

// NewEngine creates a persistence engine over a backend
func NewEngine(backend db.Backend, registry *Registry, opts ...orm.Option) (*Engine, error) {
	return orm.NewEngine(backend, registry, opts...)
}

// Descriptor defines a repository query method
type Descriptor = query.Descriptor

// Repository provides the generic repository interface
type Repository[T Entity] interface {
	repository.Repository[T]
}

// NewRepository creates a repository for T. T must be registered in the
// engine's mapping registry.
func NewRepository[T Entity](engine *Engine) (Repository[T], error) {
	r, err := repository.NewGenericRepository[T](engine)
	if err != nil {
		return nil, err
	}
	return r, nil
}
