package testkit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/logging"
	"github.com/ammar0144/persist4go/pkg/orm"
)

// Env is an engine over a private SQLite database
type Env struct {
	SQLite   *db.SQLBackend
	Recorder *Recorder
	Cache    *MemoryCache
	Engine   *orm.Engine
}

// Open creates the schema in a fresh in-memory database and an engine with a
// MemoryCache. Options are applied after the defaults.
func Open(t testing.TB, opts ...orm.Option) *Env {
	t.Helper()
	return open(t, ":memory:", opts)
}

// OpenFile is Open over a WAL database file with foreign keys enforced.
// Unlike the in-memory database it serves concurrent transactions.
func OpenFile(t testing.TB, opts ...orm.Option) *Env {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "persist4go.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	return open(t, dsn, opts)
}

func open(t testing.TB, dsn string, opts []orm.Option) *Env {
	t.Helper()

	sqlite, err := db.OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	for _, ddl := range Schema {
		_, err := sqlite.DB().Exec(ddl)
		require.NoError(t, err)
	}

	logger := logging.NewWithWriter(io.Discard, "text", slog.LevelDebug)
	recorder := NewRecorder(db.Instrument(sqlite, db.LoggingConfig{LogQueries: true}, logger))
	memory := NewMemoryCache()

	all := append([]orm.Option{orm.WithLogger(logger), orm.WithCache(memory)}, opts...)
	engine, err := orm.NewEngine(recorder, Registry(), all...)
	require.NoError(t, err)

	return &Env{SQLite: sqlite, Recorder: recorder, Cache: memory, Engine: engine}
}

// Begin opens a session and rolls it back at cleanup when the test left it open
func (e *Env) Begin(t testing.TB) *orm.Session {
	t.Helper()
	s, err := e.Engine.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Rollback() })
	return s
}

// Exec runs a statement outside the engine
func (e *Env) Exec(t testing.TB, sql string, args ...any) {
	t.Helper()
	_, err := e.SQLite.DB().Exec(sql, args...)
	require.NoError(t, err)
}

// QueryInt runs a single-value query outside the engine
func (e *Env) QueryInt(t testing.TB, sql string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.SQLite.DB().QueryRow(sql, args...).Scan(&n))
	return n
}

// QueryString runs a single-value query outside the engine
func (e *Env) QueryString(t testing.TB, sql string, args ...any) string {
	t.Helper()
	var s string
	require.NoError(t, e.SQLite.DB().QueryRow(sql, args...).Scan(&s))
	return s
}

// SeedTeam inserts a team row and returns its identifier
func (e *Env) SeedTeam(t testing.TB, name string) int64 {
	t.Helper()
	res, err := e.SQLite.DB().Exec("INSERT INTO team (name) VALUES (?)", name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// SeedMember inserts a member row; a zero teamID stores NULL
func (e *Env) SeedMember(t testing.TB, username string, age int, teamID int64) int64 {
	t.Helper()
	var team any
	if teamID != 0 {
		team = teamID
	}
	res, err := e.SQLite.DB().Exec("INSERT INTO member (username, age, team_id) VALUES (?, ?, ?)", username, age, team)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// SeedTag inserts a tag row and returns its identifier
func (e *Env) SeedTag(t testing.TB, label string) int64 {
	t.Helper()
	res, err := e.SQLite.DB().Exec("INSERT INTO tag (label) VALUES (?)", label)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// Link inserts a member_tag row
func (e *Env) Link(t testing.TB, memberID, tagID int64) {
	t.Helper()
	e.Exec(t, "INSERT INTO member_tag (member_id, tag_id) VALUES (?, ?)", memberID, tagID)
}
