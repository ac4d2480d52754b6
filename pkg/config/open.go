package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/logging"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/orm"
)

// ErrUnreachable is matched when the backend or the cache cannot be contacted
var ErrUnreachable = errors.New("unreachable")

// Stack holds the opened resources of a configuration
type Stack struct {
	config  Config
	logger  *slog.Logger
	backend db.Backend
	cache   *cache.Manager

	mysql     *db.Manager
	sqlite    *db.SQLBackend
	logCloser io.Closer
}

// Open builds the logger, connects the configured backend and, when enabled,
// the Redis cache
func Open(cfg Config) (*Stack, error) {
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	s := &Stack{config: cfg, logger: logger, logCloser: logCloser}

	var raw db.Backend
	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite:
		s.sqlite, err = db.OpenSQLite(cfg.SQLite.DSN)
		raw = s.sqlite
	default:
		database := cfg.Database
		s.mysql, err = db.NewManager(&database)
		if s.mysql != nil {
			raw = s.mysql.Backend()
		}
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s backend: %w: %w", cfg.Driver, ErrUnreachable, err)
	}
	s.backend = db.Instrument(raw, cfg.Database.Logging, logger.With("component", "db"))

	if cfg.Cache.Enabled {
		cacheCfg := cfg.Cache
		s.cache, err = cache.NewManager(&cacheCfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.cache.SetLogger(logger.With("component", "cache"))
	}

	logger.Debug("stack opened", "driver", cfg.Driver, "cache", cfg.Cache.Enabled)
	return s, nil
}

// Logger returns the configured logger
func (s *Stack) Logger() *slog.Logger {
	return s.logger
}

// Backend returns the instrumented relational backend
func (s *Stack) Backend() db.Backend {
	return s.backend
}

// Cache returns the Redis cache, or nil when it is disabled
func (s *Stack) Cache() *cache.Manager {
	return s.cache
}

// Engine creates a persistence engine over the stack
func (s *Stack) Engine(registry *mapping.Registry) (*orm.Engine, error) {
	opts := []orm.Option{
		orm.WithLogger(s.logger.With("component", "orm")),
		orm.WithConfig(s.config.Engine),
	}
	if s.cache != nil {
		opts = append(opts, orm.WithCache(s.cache))
	}
	return orm.NewEngine(s.backend, registry, opts...)
}

// Ping checks the backend and, when enabled, the cache
func (s *Stack) Ping(ctx context.Context) error {
	switch {
	case s.mysql != nil:
		if err := s.mysql.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w: %w", ErrUnreachable, err)
		}
	case s.sqlite != nil:
		if err := s.sqlite.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w: %w", ErrUnreachable, err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w: %w", ErrUnreachable, err)
		}
	}
	return nil
}

// Close releases every opened resource
func (s *Stack) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.mysql != nil {
		errs = append(errs, s.mysql.Close())
	}
	if s.sqlite != nil {
		errs = append(errs, s.sqlite.Close())
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	return errors.Join(errs...)
}
