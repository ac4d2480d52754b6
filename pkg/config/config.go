// Package config loads the application configuration of a persist4go
// deployment: the relational backend, the second-level cache, the engine and
// logging.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ammar0144/persist4go/pkg/cache"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/logging"
	"github.com/ammar0144/persist4go/pkg/orm"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PERSIST4GO_"

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config is the full configuration of one deployment
type Config struct {
	// Driver selects the relational backend: mysql or sqlite
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`

	// Mapping is the path of the YAML mapping document
	Mapping string `json:"mapping" yaml:"mapping" env:"MAPPING"`

	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite" envPrefix:"SQLITE_"`
	Database db.Config      `json:"database" yaml:"database" envPrefix:"DB_"`
	Cache    cache.Config   `json:"cache" yaml:"cache" envPrefix:"CACHE_"`
	Engine   orm.Config     `json:"engine" yaml:"engine" envPrefix:"ENGINE_"`
	Logging  logging.Config `json:"logging" yaml:"logging" envPrefix:"LOG_"`
}

// SQLiteConfig configures the embedded backend
type SQLiteConfig struct {
	DSN string `json:"dsn" yaml:"dsn" env:"DSN"`
}

// LoadOptions controls where configuration comes from
type LoadOptions struct {
	// Path of a YAML file; empty skips the file
	Path string
	// Env replaces the process environment when non-nil
	Env map[string]string
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Driver:   DriverMySQL,
		SQLite:   SQLiteConfig{DSN: "file:persist4go.db?_pragma=busy_timeout(5000)"},
		Database: *db.DefaultConfig("localhost", "persist4go", "root", ""),
		Cache:    *cache.DefaultConfig(),
		Engine:   orm.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// Load reads the file, applies PERSIST4GO_* environment overrides and
// validates the result. Later sources win.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.Path != "" {
		if err := loadFile(opts.Path, &cfg); err != nil {
			return Config{}, err
		}
	}

	envOpts := env.Options{Prefix: EnvPrefix}
	if opts.Env != nil {
		envOpts.Environment = opts.Env
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every section that the selected driver uses
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Driver) {
	case DriverMySQL:
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLite.DSN) == "" {
			errs = append(errs, fmt.Errorf("sqlite: dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}

	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
