package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestBuildSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func() *Builder
		sql   string
		args  []interface{}
	}{
		{
			name: "plain",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id", "m.username")
			},
			sql: "SELECT m.member_id, m.username FROM member m",
		},
		{
			name: "conditions and paging",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").
					Where("m.age", GreaterThanOrEqual, 18).
					Where("m.username", Like, "an%").
					OrderBy("m.username", true).
					Limit(10).Offset(20)
			},
			sql:  "SELECT m.member_id FROM member m WHERE m.age >= ? AND m.username LIKE ? ORDER BY m.username DESC LIMIT 10 OFFSET 20",
			args: []interface{}{18, "an%"},
		},
		{
			name: "or group",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").
					WhereGroup(Or, func(g *ConditionGroup) {
						g.Where("m.username", Equal, "ann").Where("m.age", Equal, 3)
					})
			},
			sql:  "SELECT m.member_id FROM member m WHERE (m.username = ? OR m.age = ?)",
			args: []interface{}{"ann", 3},
		},
		{
			name: "join and lock",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Distinct().
					InnerJoin("team t", "t.team_id = m.team_id").
					Where("t.name", IsNotNull, nil).
					Lock(ForUpdate)
			},
			sql: "SELECT DISTINCT m.member_id FROM member m INNER JOIN team t ON t.team_id = m.team_id WHERE t.name IS NOT NULL FOR UPDATE",
		},
		{
			name: "in list",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Where("m.age", In, []int{1, 2, 3})
			},
			sql:  "SELECT m.member_id FROM member m WHERE m.age IN (?, ?, ?)",
			args: []interface{}{1, 2, 3},
		},
		{
			name: "empty in never matches",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Where("m.age", In, []int{})
			},
			sql: "SELECT m.member_id FROM member m WHERE 1 = 0",
		},
		{
			name: "empty not in always matches",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Where("m.age", NotIn, nil)
			},
			sql: "SELECT m.member_id FROM member m WHERE 1 = 1",
		},
		{
			name: "between",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Where("m.age", Between, []int{10, 20})
			},
			sql:  "SELECT m.member_id FROM member m WHERE m.age BETWEEN ? AND ?",
			args: []interface{}{10, 20},
		},
		{
			name: "malformed between",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Where("m.age", Between, []int{10})
			},
			sql: "SELECT m.member_id FROM member m WHERE 1 = 0",
		},
		{
			name: "negative paging is ignored",
			build: func() *Builder {
				return NewBuilder("member m").Select("m.member_id").Limit(-1).Offset(-5)
			},
			sql: "SELECT m.member_id FROM member m",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sql, args := tt.build().BuildSelect()
			require.Equal(t, tt.sql, sql)
			require.Equal(t, tt.args, args)
		})
	}
}

func TestBuildWriteStatements(t *testing.T) {
	t.Parallel()

	sql, n := NewBuilder("member").BuildInsert([]string{"username", "age"})
	require.Equal(t, "INSERT INTO member (username, age) VALUES (?, ?)", sql)
	require.Equal(t, 2, n)

	sql, args := NewBuilder("member").Where("member_id", Equal, int64(4)).
		BuildUpdate([]string{"age"}, []interface{}{31})
	require.Equal(t, "UPDATE member SET age = ? WHERE member_id = ?", sql)
	require.Equal(t, []interface{}{31, int64(4)}, args)

	sql, args = NewBuilder("member_tag").
		Where("member_id", Equal, int64(4)).
		Where("tag_id", Equal, int64(9)).
		BuildDelete()
	require.Equal(t, "DELETE FROM member_tag WHERE member_id = ? AND tag_id = ?", sql)
	require.Equal(t, []interface{}{int64(4), int64(9)}, args)

	b := NewBuilder("member")
	require.False(t, b.HasConditions())
	sql, args = b.BuildDelete()
	require.Equal(t, "DELETE FROM member", sql)
	require.Nil(t, args)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.NoError(t, classify(nil))

	timeout := classify(fmt.Errorf("select: %w", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}))
	require.True(t, IsLockTimeout(timeout))
	require.False(t, IsDeadlock(timeout))
	var driverErr *mysql.MySQLError
	require.ErrorAs(t, timeout, &driverErr)
	require.Equal(t, uint16(1205), driverErr.Number)

	deadlock := classify(&mysql.MySQLError{Number: 1213})
	require.True(t, IsDeadlock(deadlock))
	require.Contains(t, deadlock.Error(), "deadlock detected")

	// already classified errors pass through untouched
	require.Same(t, timeout, classify(timeout))

	other := &mysql.MySQLError{Number: 1062}
	require.Same(t, other, classify(other))
	plain := errors.New("boom")
	require.Equal(t, plain, classify(plain))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig("localhost", "app", "root", "").Validate())

	notPEM := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a certificate"), 0o600))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no host", func(c *Config) { c.Host = "" }, "database host is required"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port must be between"},
		{"no database", func(c *Config) { c.Database = "" }, "database name is required"},
		{"no user", func(c *Config) { c.Username = "" }, "database username is required"},
		{"no pool", func(c *Config) { c.MaxOpenConns = 0 }, "max_open_conns"},
		{"idle over open", func(c *Config) { c.MaxIdleConns = 50 }, "max_idle_conns"},
		{"negative lock wait", func(c *Config) { c.LockWaitTimeout = -time.Second }, "timeouts cannot be negative"},
		{"unknown timezone", func(c *Config) { c.TimeZone = "Mars/Olympus" }, "unknown timezone"},
		{"slow log without threshold", func(c *Config) { c.Logging.LogSlowQueries = true }, "slow_query_threshold"},
		{"missing ca file", func(c *Config) {
			c.SSL.Enabled = true
			c.SSL.CAFile = filepath.Join(os.TempDir(), "persist4go-missing", "ca.pem")
		}, "CA file not accessible"},
		{"cert without key", func(c *Config) {
			c.SSL.Enabled = true
			c.SSL.CertFile = "client.pem"
		}, "both CertFile and KeyFile"},
		{"ca file without certificate", func(c *Config) {
			c.SSL.Enabled = true
			c.SSL.CAFile = notPEM
		}, "holds no PEM certificate"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig("localhost", "app", "root", "")
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)

			_, err := NewManager(cfg)
			require.ErrorContains(t, err, "invalid config")
		})
	}

	_, err := NewManager(nil)
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig("db.internal", "app", "svc", "secret")
	cfg.LockWaitTimeout = 4500 * time.Millisecond
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	require.Contains(t, dsn, "svc:secret@tcp(db.internal:3306)/app?")
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "charset=utf8mb4")
	require.Contains(t, dsn, "innodb_lock_wait_timeout=5")

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "app", parsed.DBName)
	require.True(t, parsed.ParseTime)

	cfg.LockWaitTimeout = 0
	cfg.SSL = SSLConfig{Enabled: true, SkipVerify: true}
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	require.NotContains(t, dsn, "innodb_lock_wait_timeout")
	require.Contains(t, dsn, "tls=skip-verify")

	cfg.SSL = SSLConfig{Enabled: true, ServerName: "db.internal"}
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	require.Contains(t, dsn, "tls="+cfg.tlsName())

	cfg.TimeZone = "Mars/Olympus"
	_, err = cfg.DSN()
	require.ErrorContains(t, err, "unknown timezone")
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	backend := openMemory(t)
	ctx := context.Background()

	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "CREATE TABLE team (team_id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL)")
	require.NoError(t, err)

	insert, _ := NewBuilder("team").BuildInsert([]string{"name"})
	res, err := tx.Exec(ctx, insert, "core")
	require.NoError(t, err)
	require.True(t, res.HasInsertID)
	require.Equal(t, int64(1), res.LastInsertID)
	require.Equal(t, int64(1), res.RowsAffected)
	require.NoError(t, tx.Commit())

	tx, err = backend.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	sql, args := NewBuilder("team t").Select("t.team_id", "t.name").Where("t.name", Equal, "core").BuildSelect()
	rs, err := tx.Query(ctx, sql, args...)
	require.NoError(t, err)
	require.Equal(t, []string{"team_id", "name"}, rs.Columns)
	require.Equal(t, 1, rs.Len())
	require.Equal(t, int64(1), rs.Rows[0][0])
	require.Equal(t, "core", rs.Rows[0][1])

	var empty *RowSet
	require.Zero(t, empty.Len())
}

func TestSQLiteRejectsRowLocks(t *testing.T) {
	t.Parallel()

	backend := openMemory(t)
	require.False(t, backend.RowLocks())
	require.True(t, NewSQLBackend(backend.DB()).RowLocks())
	ctx := context.Background()

	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	for _, clause := range []LockClause{ForUpdate, ForShare} {
		sql, args := NewBuilder("sqlite_master").Select("name").Lock(clause).BuildSelect()
		_, err := tx.Query(ctx, sql, args...)
		require.True(t, IsLockUnsupported(err), "%s: %v", clause, err)
		require.ErrorContains(t, err, string(clause))
	}

	// the transaction is still usable
	rs, err := tx.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
}

func TestOpenSQLiteRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite("  ")
	require.ErrorContains(t, err, "sqlite dsn is required")

	var closed *SQLBackend
	require.NoError(t, closed.Close())
	_, err = NewSQLBackend(nil).Begin(context.Background())
	require.Error(t, err)
}

func TestInstrumentLogsStatements(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	backend := Instrument(openMemory(t), LoggingConfig{LogQueries: true, LogQueryParameters: true}, logger)
	ctx := context.Background()

	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	_, err = tx.Exec(ctx, "CREATE TABLE tag (tag_id INTEGER PRIMARY KEY, label TEXT)")
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO tag (tag_id, label) VALUES (?, ?)", 7, "red")
	require.NoError(t, err)
	rs, err := tx.Query(ctx, "SELECT label FROM tag WHERE tag_id = ?", 7)
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())

	out := buf.String()
	require.Contains(t, out, "msg=statement")
	require.Contains(t, out, "INSERT INTO tag")
	require.Contains(t, out, "params=")

	buf.Reset()
	_, err = tx.Query(ctx, "SELECT label FROM missing")
	require.Error(t, err)
	require.Contains(t, buf.String(), "statement failed")
	require.Contains(t, buf.String(), "level=ERROR")
}

func TestInstrumentFlagsSlowStatements(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := LoggingConfig{LogSlowQueries: true, SlowQueryThreshold: time.Nanosecond}
	backend := Instrument(openMemory(t), cfg, logger)
	ctx := context.Background()

	tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	_, err = tx.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "slow statement")
	require.NotContains(t, buf.String(), "params=")
}

func openMemory(t *testing.T) *SQLBackend {
	t.Helper()
	backend, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}
