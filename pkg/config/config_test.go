package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/persist4go/pkg/mapping"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DriverMySQL, cfg.Driver)
	require.False(t, cfg.Cache.Enabled)
	require.Equal(t, 30*time.Second, cfg.Engine.QueryTimeout)
}

func TestLoadFileOverDefault(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
driver: sqlite
sqlite:
  dsn: "file::memory:"
engine:
  query_timeout: 5s
  log_flushes: true
logging:
  level: debug
  format: json
`)

	cfg, err := Load(LoadOptions{Path: path, Env: map[string]string{}})
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.Driver)
	require.Equal(t, "file::memory:", cfg.SQLite.DSN)
	require.Equal(t, 5*time.Second, cfg.Engine.QueryTimeout)
	require.True(t, cfg.Engine.LogFlushes)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, 3306, cfg.Database.Port)
}

func TestLoadEnvOverFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
database:
  host: db.internal
  port: 3306
  database: shop
  username: app
`)

	cfg, err := Load(LoadOptions{
		Path: path,
		Env: map[string]string{
			"PERSIST4GO_DB_HOST":                   "db.replica",
			"PERSIST4GO_DB_PASSWORD":               "secret",
			"PERSIST4GO_CACHE_ENABLED":             "true",
			"PERSIST4GO_CACHE_KEY_PREFIX":          "shop",
			"PERSIST4GO_ENGINE_SECOND_LEVEL_CACHE": "false",
			"PERSIST4GO_LOG_LEVEL":                 "warn",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "db.replica", cfg.Database.Host)
	require.Equal(t, "shop", cfg.Database.Database)
	require.Equal(t, "secret", cfg.Database.Password)
	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, "shop", cfg.Cache.KeyPrefix)
	require.False(t, cfg.Engine.SecondLevelCache)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
engine:
  query_timeot: 5s
`)

	_, err := Load(LoadOptions{Path: path, Env: map[string]string{}})
	require.Error(t, err)
}

func TestLoadRejectsInvalidSections(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadOptions{Env: map[string]string{
		"PERSIST4GO_DRIVER":    "postgres",
		"PERSIST4GO_LOG_LEVEL": "loud",
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown driver")
	require.Contains(t, err.Error(), "logging")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestOpenSQLiteStack(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Driver = DriverSQLite
	cfg.SQLite.DSN = ":memory:"
	cfg.Logging.File = filepath.Join(t.TempDir(), "persist4go.log")

	stack, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, stack.Close()) })

	require.NoError(t, stack.Ping(context.Background()))
	require.Nil(t, stack.Cache())

	registry := mapping.NewRegistry()
	registry.MustRegister(mapping.Entity{
		Name:   "Tag",
		Table:  "tag",
		ID:     mapping.ID{Field: "id", Column: "tag_id"},
		Fields: []mapping.Field{{Name: "label", Column: "label"}},
	}, nil)

	engine, err := stack.Engine(registry)
	require.NoError(t, err)
	require.Nil(t, engine.Cache())
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "persist4go.yaml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}
