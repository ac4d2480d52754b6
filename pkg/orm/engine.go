// Package orm is the unit-of-work core: sessions own a persistence context
// (identity map plus snapshots) on top of one backend transaction, hydrate
// query results into managed entities and flush changes at commit.
package orm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/query"
)

// Engine opens sessions against a backend. It is safe for concurrent use; the
// sessions it opens are not.
type Engine struct {
	backend    db.Backend
	registry   *mapping.Registry
	translator *query.Translator
	cache      SecondLevelCache
	metrics    *Metrics
	logger     *slog.Logger
	config     Config
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCache enables the shared second-level cache
func WithCache(cache SecondLevelCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithConfig replaces the engine configuration
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithQueryTimeout bounds every backend call
func WithQueryTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.config.QueryTimeout = timeout
	}
}

// WithTranslator shares a translator, and with it the prepared-query cache,
// between engines
func WithTranslator(t *query.Translator) Option {
	return func(e *Engine) {
		e.translator = t
	}
}

// NewEngine creates an engine over a backend and a validated mapping registry
func NewEngine(backend db.Backend, registry *mapping.Registry, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("mapping registry is required")
	}
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	e := &Engine{
		backend:  backend,
		registry: registry,
		metrics:  NewMetrics(),
		logger:   slog.Default(),
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if e.translator == nil {
		e.translator = query.NewTranslator(registry)
	} else if e.translator.Registry() != registry {
		return nil, fmt.Errorf("translator resolves against a different mapping registry")
	}
	if !e.config.SecondLevelCache {
		e.cache = nil
	}
	return e, nil
}

// Registry returns the mapping registry
func (e *Engine) Registry() *mapping.Registry {
	return e.registry
}

// Translator returns the query translator
func (e *Engine) Translator() *query.Translator {
	return e.translator
}

// Cache returns the second-level cache, or nil when disabled
func (e *Engine) Cache() SecondLevelCache {
	return e.cache
}

// GetMetrics returns current engine metrics
func (e *Engine) GetMetrics() MetricsSnapshot {
	return e.metrics.GetSnapshot()
}

// ResetMetrics resets all engine metrics
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
}

// Begin opens a backend transaction and a fresh persistence context. The
// transaction lives as long as ctx; the query timeout applies per statement.
func (e *Engine) Begin(ctx context.Context) (*Session, error) {
	id := uuid.New()
	logger := e.logger.With("session", id.String())

	// The stamp must precede every read of the transaction
	var stamp int64
	stamped := false
	if e.cache != nil {
		var err error
		if stamp, err = e.cache.Stamp(ctx); err != nil {
			e.metrics.cacheErrors.Add(1)
			logger.WarnContext(ctx, "cache stamp failed, fills disabled for session", "error", err)
		} else {
			stamped = true
		}
	}

	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	e.metrics.sessions.Add(1)

	s := &Session{
		engine:  e,
		id:      id,
		tx:      tx,
		pc:      NewIdentityMap(),
		touched: make(map[string]bool),
		pending: newEvictions(),
		stamp:   stamp,
		stamped: stamped,
		logger:  logger,
	}
	return s, nil
}

// InTransaction runs fn inside a session. The session commits when fn returns
// nil and rolls back otherwise; fn's error is returned unchanged.
func (e *Engine) InTransaction(ctx context.Context, fn func(s *Session) error) error {
	s, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		if rbErr := s.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	return s.Commit(ctx)
}

// withQueryTimeout wraps a context with the configured query timeout
func (e *Engine) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.QueryTimeout > 0 {
		return context.WithTimeout(ctx, e.config.QueryTimeout)
	}
	// Return context without timeout if not configured
	return ctx, func() {}
}
