package query_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/persist4go/internal/testkit"
	"github.com/ammar0144/persist4go/pkg/query"
)

const memberColumns = "SELECT m.member_id, m.username, m.age, m.team_id FROM member m"

func TestParseMethod(t *testing.T) {
	t.Parallel()

	q, err := query.ParseMethod("findDistinctTop3ByUsernameAndAgeGreaterThanOrderByAgeDescUsername")
	require.NoError(t, err)
	require.Equal(t, query.ActionFind, q.Action)
	require.True(t, q.Distinct)
	require.Equal(t, 3, q.Limit)
	require.Equal(t, [][]query.Clause{{
		{Raw: "username", Field: "username", Comparator: query.CompEqual},
		{Raw: "ageGreaterThan", Field: "age", Comparator: query.CompGreaterThan},
	}}, q.Predicate)
	require.Equal(t, []query.Order{
		{Field: "age", Direction: query.Desc},
		{Field: "username", Direction: query.Asc},
	}, q.Orders)

	q, err = query.ParseMethod("existsByUsernameOrAgeIsLessThanEqual")
	require.NoError(t, err)
	require.Equal(t, query.ActionExists, q.Action)
	require.Len(t, q.Predicate, 2)
	require.Equal(t, "age", q.Predicate[1][0].Field)
	require.Equal(t, query.CompLessThanEqual, q.Predicate[1][0].Comparator)

	q, err = query.ParseMethod("findFirstByOrderByAgeDesc")
	require.NoError(t, err)
	require.Equal(t, 1, q.Limit)
	require.Empty(t, q.Predicate)

	q, err = query.ParseMethod("removeByTeamIsNull")
	require.NoError(t, err)
	require.Equal(t, query.ActionDelete, q.Action)
	require.Equal(t, query.CompIsNull, q.Predicate[0][0].Comparator)
}

func TestParseMethodRejectsMalformedNames(t *testing.T) {
	t.Parallel()

	for _, method := range []string{
		"fetchByUsername",
		"countTop3ByAge",
		"deleteFirstByAge",
		"findTop0ByAge",
		"findByUsernameOrderByDesc",
	} {
		_, err := query.ParseMethod(method)
		require.True(t, query.IsQueryError(err), method)
	}
}

func TestDerivedStatements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		args   query.Args
		where  string
		values []any
	}{
		{
			name:   "and",
			method: "findByUsernameAndAgeGreaterThan",
			args:   query.Args{"username": "ann", "age": 20},
			where:  " WHERE m.username = ? AND m.age > ?",
			values: []any{"ann", 20},
		},
		{
			name:   "or",
			method: "findByUsernameOrAge",
			args:   query.Args{"username": "ann", "age": 20},
			where:  " WHERE ((m.username = ?) OR (m.age = ?))",
			values: []any{"ann", 20},
		},
		{
			name:   "in",
			method: "findByAgeIn",
			args:   query.Args{"age": []int{1, 2, 3}},
			where:  " WHERE m.age IN (?, ?, ?)",
			values: []any{1, 2, 3},
		},
		{
			name:   "between",
			method: "findByAgeBetween",
			args:   query.Args{"age": []int{10, 20}},
			where:  " WHERE m.age BETWEEN ? AND ?",
			values: []any{10, 20},
		},
		{
			name:   "starting with",
			method: "findByUsernameStartingWith",
			args:   query.Args{"username": "an"},
			where:  " WHERE m.username LIKE ?",
			values: []any{"an%"},
		},
		{
			name:   "containing",
			method: "findByUsernameContaining",
			args:   query.Args{"username": "n"},
			where:  " WHERE m.username LIKE ?",
			values: []any{"%n%"},
		},
		{
			name:   "null argument",
			method: "findByUsername",
			args:   query.Args{"username": nil},
			where:  " WHERE m.username IS NULL",
		},
		{
			name:   "is null keyword",
			method: "findByTeamIsNull",
			where:  " WHERE m.team_id IS NULL",
		},
		{
			name:   "entity argument binds its identifier",
			method: "findByTeam",
			args:   query.Args{"team": &testkit.Team{TeamID: 4}},
			where:  " WHERE m.team_id = ?",
			values: []any{int64(4)},
		},
		{
			name:   "repeated property",
			method: "findByAgeGreaterThanAndAgeLessThan",
			args:   query.Args{"age": 10, "age2": 20},
			where:  " WHERE m.age > ? AND m.age < ?",
			values: []any{10, 20},
		},
	}

	translator := query.NewTranslator(testkit.Registry())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stmt, err := translator.Translate(query.Descriptor{Entity: "Member", Method: tt.method}, tt.args, nil)
			require.NoError(t, err)
			require.Equal(t, memberColumns+tt.where, stmt.SQL)
			if tt.values == nil {
				require.Empty(t, stmt.Args)
			} else {
				require.Equal(t, tt.values, stmt.Args)
			}
			require.Equal(t, query.ShapeList, stmt.Shape)
		})
	}
}

func TestDerivedOrderingAndLimit(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())

	stmt, err := translator.Translate(query.Descriptor{Entity: "Member", Method: "findTop2ByOrderByAgeDesc"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, memberColumns+" ORDER BY m.age DESC LIMIT 2", stmt.SQL)

	stmt, err = translator.Translate(
		query.Descriptor{Entity: "Member", Method: "findByAgeOrderByUsername"},
		query.Args{"age": 3},
		query.Unpaged(query.By("id").Descending()),
	)
	require.NoError(t, err)
	require.Equal(t, memberColumns+" WHERE m.age = ? ORDER BY m.username ASC, m.member_id DESC", stmt.SQL)

	_, err = translator.Translate(
		query.Descriptor{Entity: "Member", Method: "findTop2ByAge"},
		query.Args{"age": 3},
		query.PageRequest(0, 10),
	)
	require.True(t, query.IsShapeError(err))

	_, err = translator.Prepare(query.Descriptor{Entity: "Member", Method: "findFirst3ByAge", Shape: query.ShapePage})
	require.True(t, query.IsShapeError(err))
}

func TestDerivedCountAndExists(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())

	stmt, err := translator.Translate(query.Descriptor{Entity: "Member", Method: "countByAgeGreaterThan"}, query.Args{"age": 1}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*) FROM member m WHERE m.age > ?", stmt.SQL)
	require.Equal(t, query.ShapeCount, stmt.Shape)

	stmt, err = translator.Translate(query.Descriptor{Entity: "Member", Method: "existsByUsername"}, query.Args{"username": "a"}, nil)
	require.NoError(t, err)
	require.Equal(t, query.ShapeExists, stmt.Shape)
	require.Equal(t, 1, stmt.Columns)

	_, err = translator.Prepare(query.Descriptor{Entity: "Member", Method: "countByAge", Shape: query.ShapeList})
	require.True(t, query.IsShapeError(err))

	_, err = translator.Prepare(query.Descriptor{Entity: "Member", Method: "findByAge", Shape: query.ShapeCount})
	require.True(t, query.IsShapeError(err))
}

func TestDerivedDeleteRemovesLoadedEntities(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	stmt, err := translator.Translate(query.Descriptor{Entity: "Member", Method: "deleteByAge"}, query.Args{"age": 3}, nil)
	require.NoError(t, err)
	require.Equal(t, query.ShapeModifying, stmt.Shape)
	require.True(t, stmt.RemoveLoaded)
	require.Equal(t, memberColumns+" WHERE m.age = ?", stmt.SQL)
}

func TestBindingErrors(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	p, err := translator.Prepare(query.Descriptor{Entity: "Member", Method: "findByUsernameAndAge"})
	require.NoError(t, err)
	require.Equal(t, []string{"age", "username"}, p.Params())

	_, err = p.Bind(query.Args{"username": "ann", "age": 3, "team": 1, "extra": 2}, nil)
	var bindErr *query.BindingError
	require.ErrorAs(t, err, &bindErr)
	require.Empty(t, bindErr.Missing)
	require.Equal(t, []string{"extra", "team"}, bindErr.Unexpected)

	_, err = p.Bind(query.Args{}, nil)
	require.ErrorAs(t, err, &bindErr)
	require.Equal(t, []string{"age", "username"}, bindErr.Missing)

	between, err := translator.Prepare(query.Descriptor{Entity: "Member", Method: "findByAgeBetween"})
	require.NoError(t, err)
	_, err = between.Bind(query.Args{"age": 5}, nil)
	require.True(t, query.IsBindingError(err))
}

func TestExplicitSelect(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	d := query.Descriptor{
		Entity: "Member",
		Method: "adults",
		Query:  "select m from Member m where m.age >= :min and m.username in :names order by m.username",
	}

	stmt, err := translator.Translate(d, query.Args{"min": 18, "names": []string{"ann", "bob"}}, nil)
	require.NoError(t, err)
	require.Equal(t, memberColumns+" WHERE m.age >= ? and m.username in (?, ?) ORDER BY m.username", stmt.SQL)
	require.Equal(t, []any{18, "ann", "bob"}, stmt.Args)
	require.Equal(t, query.ShapeList, stmt.Shape)

	// an empty list matches nothing
	stmt, err = translator.Translate(d, query.Args{"min": 18, "names": []string{}}, nil)
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, "m.username in (NULL)")
	require.Equal(t, []any{18}, stmt.Args)

	// request sorting follows the sorting of the text
	stmt, err = translator.Translate(d, query.Args{"min": 18, "names": "ann"}, query.PageRequest(1, 5, query.Order{Field: "age", Direction: query.Desc}))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(stmt.SQL, "ORDER BY m.username, m.age DESC LIMIT 5 OFFSET 5"), stmt.SQL)
}

func TestNamedQueryJoin(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	p, err := translator.Prepare(query.Descriptor{Entity: "Member", Method: "findByTeamName"})
	require.NoError(t, err)
	require.Equal(t, query.OriginNamed, p.Origin())

	stmt, err := p.Bind(query.Args{"name": "core"}, nil)
	require.NoError(t, err)
	require.Equal(t, memberColumns+" INNER JOIN team t ON t.team_id = m.team_id WHERE t.name = ?", stmt.SQL)

	// explicit text wins over the named query
	p, err = translator.Prepare(query.Descriptor{Entity: "Member", Method: "findByTeamName", Query: "select m from Member m"})
	require.NoError(t, err)
	require.Equal(t, query.OriginExplicit, p.Origin())
}

func TestFetchJoinsAndEntityGraphs(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())

	stmt, err := translator.Translate(query.Descriptor{
		Entity: "Member",
		Method: "findByAge",
		Hints:  query.Hints{EntityGraph: []string{"team"}},
	}, query.Args{"age": 3}, nil)
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, "LEFT JOIN team j1 ON j1.team_id = m.team_id")
	require.Len(t, stmt.Layout.Bindings, 2)
	require.False(t, stmt.Layout.CollectionFetch())

	stmt, err = translator.Translate(query.Descriptor{
		Entity: "Member",
		Query:  "select distinct m from Member m left join fetch m.tags t",
	}, nil, nil)
	require.NoError(t, err)
	require.True(t, stmt.Layout.CollectionFetch())
	require.True(t, strings.HasPrefix(stmt.SQL, "SELECT DISTINCT m.member_id"))

	_, err = translator.Prepare(query.Descriptor{
		Entity: "Member",
		Query:  "select m from Member m join fetch m.tags t",
		Shape:  query.ShapeSlice,
	})
	require.True(t, query.IsShapeError(err))

	_, err = translator.Prepare(query.Descriptor{
		Entity: "Member",
		Method: "findByAge",
		Hints:  query.Hints{EntityGraph: []string{"nickname"}},
	})
	require.True(t, query.IsQueryError(err))
}

func TestPageCountStatements(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	page := query.PageRequest(0, 10)

	stmt, err := translator.Translate(query.Descriptor{
		Entity: "Member",
		Query:  "select m from Member m join m.tags t where t.label = :label",
		Shape:  query.ShapePage,
	}, query.Args{"label": "red"}, page)
	require.NoError(t, err)
	require.NotNil(t, stmt.Count)
	require.True(t, strings.HasPrefix(stmt.Count.SQL, "SELECT COUNT(DISTINCT m.member_id) FROM member m INNER JOIN member_tag"), stmt.Count.SQL)
	require.Equal(t, []any{"red"}, stmt.Count.Args)

	stmt, err = translator.Translate(query.Descriptor{
		Entity:     "Member",
		Query:      "select m from Member m where m.age > :age",
		CountQuery: "select count(m) from Member m where m.age > :age",
		Shape:      query.ShapePage,
	}, query.Args{"age": 3}, page)
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(m.member_id) FROM member m WHERE m.age > ?", stmt.Count.SQL)

	_, err = translator.Prepare(query.Descriptor{
		Entity:     "Member",
		Query:      "select m from Member m",
		CountQuery: "select count(m) from Member m",
	})
	require.True(t, query.IsShapeError(err))

	_, err = translator.Translate(query.Descriptor{Entity: "Member", Method: "findByAge", Shape: query.ShapePage}, query.Args{"age": 1}, nil)
	require.True(t, query.IsShapeError(err))
}

func TestBulkStatements(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())

	stmt, err := translator.Translate(query.Descriptor{
		Entity: "Member",
		Query:  "update Member m set m.age = m.age + 1 where m.age >= :age",
	}, query.Args{"age": 18}, nil)
	require.NoError(t, err)
	require.Equal(t, "UPDATE member SET age = age + 1 WHERE age >= ?", stmt.SQL)
	require.Equal(t, query.KindUpdate, stmt.Kind)
	require.Equal(t, query.ShapeModifying, stmt.Shape)
	require.False(t, stmt.RemoveLoaded)

	stmt, err = translator.Translate(query.Descriptor{
		Entity: "Member",
		Query:  "delete from Member m where m.username = :username",
	}, query.Args{"username": "ann"}, nil)
	require.NoError(t, err)
	require.Equal(t, "DELETE FROM member WHERE username = ?", stmt.SQL)

	_, err = translator.Prepare(query.Descriptor{
		Entity: "Member",
		Query:  "update Member m set m.age = 0",
		Lock:   query.LockExclusive,
	})
	require.True(t, query.IsShapeError(err))

	_, err = translator.Prepare(query.Descriptor{
		Entity: "Member",
		Query:  "delete from Member m",
		Shape:  query.ShapeList,
	})
	require.True(t, query.IsShapeError(err))
}

func TestLockSuffix(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())

	stmt, err := translator.Translate(query.Descriptor{Entity: "Member", Method: "findByUsername", Lock: query.LockExclusive}, query.Args{"username": "a"}, nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(stmt.SQL, "WHERE m.username = ? FOR UPDATE"), stmt.SQL)
	require.Equal(t, query.LockExclusive, stmt.Lock)

	stmt, err = translator.Translate(query.Descriptor{Entity: "Member", Query: "select m from Member m", Lock: query.LockShared}, nil, query.PageRequest(0, 2))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(stmt.SQL, "LIMIT 2 FOR SHARE"), stmt.SQL)
}

func TestScalarProjection(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())

	stmt, err := translator.Translate(query.Descriptor{
		Entity: "Member",
		Query:  "select m.username, m.age from Member m where m.team.id = :team",
	}, query.Args{"team": 1}, nil)
	require.NoError(t, err)
	require.Equal(t, "SELECT m.username, m.age FROM member m WHERE m.team_id = ?", stmt.SQL)
	require.Equal(t, query.ShapeScalar, stmt.Shape)
	require.Equal(t, 2, stmt.Columns)
	require.Nil(t, stmt.Layout)

	_, err = translator.Prepare(query.Descriptor{
		Entity: "Member",
		Query:  "select m.username from Member m",
		Shape:  query.ShapeList,
	})
	require.True(t, query.IsShapeError(err))
}

func TestInvalidQueries(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	for _, d := range []query.Descriptor{
		{Entity: "Ghost", Method: "findByName"},
		{Entity: "Member"},
		{Entity: "Member", Method: "findByNickname"},
		{Entity: "Member", Query: "select m from Member m where m.age = ?"},
		{Entity: "Member", Query: "select g from Ghost g"},
		{Entity: "Member", Query: "select t from Team t"},
		{Entity: "Member", Query: "select m from Member m where m.team.name = :name"},
		{Entity: "Member", Query: "select m from Member m where m.username = 'open"},
		{Entity: "Member", Query: "insert into member values (1)"},
	} {
		_, err := translator.Prepare(d)
		require.True(t, query.IsQueryError(err), "%+v: %v", d, err)
	}
}

func TestPrepareIsMemoised(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	d := query.Descriptor{Entity: "Member", Method: "findByUsername"}

	first, err := translator.Prepare(d)
	require.NoError(t, err)
	second, err := translator.Prepare(d)
	require.NoError(t, err)
	require.Same(t, first, second)

	d.Lock = query.LockShared
	locked, err := translator.Prepare(d)
	require.NoError(t, err)
	require.NotSame(t, first, locked)
}

func TestPageableValidation(t *testing.T) {
	t.Parallel()

	translator := query.NewTranslator(testkit.Registry())
	p, err := translator.Prepare(query.Descriptor{Entity: "Member", Method: "findByAge"})
	require.NoError(t, err)

	_, err = p.Bind(query.Args{"age": 1}, query.PageRequest(-1, 10))
	require.True(t, query.IsShapeError(err))

	_, err = p.Bind(query.Args{"age": 1}, query.PageRequest(0, 10, query.Order{Field: "nickname"}))
	require.Error(t, err)

	require.Equal(t, 20, query.PageRequest(2, 10).Offset())
	require.Zero(t, query.Unpaged(query.By("age")).Offset())
	require.Equal(t, 3, query.PageRequest(2, 10).Next().Page)
}

func TestParseNames(t *testing.T) {
	t.Parallel()

	shape, err := query.ParseShape("PAGE")
	require.NoError(t, err)
	require.Equal(t, query.ShapePage, shape)
	_, err = query.ParseShape("stream")
	require.Error(t, err)

	for name, want := range map[string]query.LockMode{
		"":                  query.LockNone,
		"share":             query.LockShared,
		"pessimistic_write": query.LockExclusive,
		"UPDATE":            query.LockExclusive,
	} {
		got, err := query.ParseLockMode(name)
		require.NoError(t, err)
		require.Equal(t, want, got, name)
	}
	_, err = query.ParseLockMode("optimistic")
	require.Error(t, err)
}
