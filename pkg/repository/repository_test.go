package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/persist4go/internal/testkit"
	"github.com/ammar0144/persist4go/pkg/orm"
	"github.com/ammar0144/persist4go/pkg/query"
	"github.com/ammar0144/persist4go/pkg/repository"
)

func TestFindAllPagedCountsOnlyWhenNeeded(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	for i, name := range []string{"ann", "bob", "cid", "dan", "eve"} {
		env.SeedMember(t, name, 20+i, 0)
	}
	ctx := context.Background()
	s := env.Begin(t)

	first, err := members.FindAllPaged(ctx, s, query.PageRequest(0, 3, query.Order{Field: "username", Direction: query.Desc}))
	require.NoError(t, err)
	require.Equal(t, []string{"eve", "dan", "cid"}, usernames(first.Content))
	require.Equal(t, int64(5), first.TotalElements)
	require.Equal(t, 2, first.TotalPages)
	require.True(t, first.IsFirst())
	require.True(t, first.HasNext())
	require.Equal(t, 1, env.Recorder.Count("SELECT COUNT(*)"))
	require.True(t, env.Recorder.Contains("ORDER BY x.username DESC LIMIT 3"))

	second, err := members.FindAllPaged(ctx, s, first.NextPageable())
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "ann"}, usernames(second.Content))
	require.Equal(t, int64(5), second.TotalElements)
	require.False(t, second.HasNext())
	require.True(t, second.HasPrevious())
	require.Equal(t, 1, env.Recorder.Count("SELECT COUNT(*)"))
	require.True(t, env.Recorder.Contains("LIMIT 3 OFFSET 3"))
}

func TestSliceReadsOneExtraRow(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	for _, name := range []string{"ann", "bob", "cid"} {
		env.SeedMember(t, name, 30, 0)
	}
	ctx := context.Background()
	s := env.Begin(t)

	method, err := members.Define(query.Descriptor{Method: "findByAgeGreaterThan", Shape: query.ShapeSlice})
	require.NoError(t, err)

	slice, err := method.Slice(ctx, s, query.Args{"age": 18}, query.PageRequest(0, 2, query.By("username").Orders...))
	require.NoError(t, err)
	require.Equal(t, []string{"ann", "bob"}, usernames(slice.Content))
	require.True(t, slice.HasNext())
	require.True(t, env.Recorder.Contains("LIMIT 3"))
	require.Zero(t, env.Recorder.Count("SELECT COUNT"))

	last, err := method.Slice(ctx, s, query.Args{"age": 18}, slice.NextPageable())
	require.NoError(t, err)
	require.Equal(t, []string{"cid"}, usernames(last.Content))
	require.True(t, last.IsLast())
}

func TestOneRejectsSeveralMatches(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	env.SeedMember(t, "ann", 30, 0)
	env.SeedMember(t, "bob", 30, 0)
	ctx := context.Background()
	s := env.Begin(t)

	byAge := members.MustDefine(query.Descriptor{Method: "findByAge"})
	_, _, err := byAge.One(ctx, s, query.Args{"age": 30})
	require.True(t, repository.IsNonUniqueResult(err))

	byName := members.MustDefine(query.Descriptor{Method: "findByUsername"})
	found, ok, err := byName.One(ctx, s, query.Args{"username": "bob"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", found.Username)

	_, ok, err = byName.One(ctx, s, query.Args{"username": "zed"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetByIDReportsNotFound(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	ctx := context.Background()
	s := env.Begin(t)

	_, err := members.GetByID(ctx, s, int64(7))
	require.True(t, repository.IsNotFound(err))
	require.Contains(t, err.Error(), "Member with id 7")

	err = members.DeleteByID(ctx, s, int64(7))
	require.True(t, repository.IsNotFound(err))
}

func TestCountAndExists(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	id := env.SeedMember(t, "ann", 30, 0)
	env.SeedMember(t, "bob", 40, 0)
	ctx := context.Background()
	s := env.Begin(t)

	n, err := members.Count(ctx, s)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	exists, err := members.ExistsByID(ctx, s, id)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = members.ExistsByID(ctx, s, int64(999))
	require.NoError(t, err)
	require.False(t, exists)

	older := members.MustDefine(query.Descriptor{Method: "countByAgeGreaterThanEqual"})
	n, err = older.Count(ctx, s, query.Args{"age": 35})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	named := members.MustDefine(query.Descriptor{Method: "existsByUsername"})
	exists, err = named.Exists(ctx, s, query.Args{"username": "bob"})
	require.NoError(t, err)
	require.True(t, exists)

	// counting never touches the persistence context
	require.Zero(t, env.Engine.GetMetrics().EntitiesLoaded)
}

func TestNamedQueryAndScalars(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	core := env.SeedTeam(t, "core")
	env.SeedMember(t, "ann", 30, core)
	env.SeedMember(t, "bob", 40, 0)
	ctx := context.Background()
	s := env.Begin(t)

	byTeam := members.MustDefine(query.Descriptor{Method: "findByTeamName"})
	require.Equal(t, query.OriginNamed, byTeam.Prepared().Origin())
	found, err := byTeam.List(ctx, s, query.Args{"name": "core"})
	require.NoError(t, err)
	require.Equal(t, []string{"ann"}, usernames(found))

	projection := members.MustDefine(query.Descriptor{
		Method: "namesAndAges",
		Query:  "select m.username, m.age from Member m where m.age > :age order by m.username",
		Shape:  query.ShapeScalar,
	})
	rows, err := projection.Scalars(ctx, s, query.Args{"age": 0})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "ann", rows[0][0])
	require.EqualValues(t, 40, rows[1][1])
}

func TestShapeMismatchIsRejected(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	ctx := context.Background()
	s := env.Begin(t)

	list := members.MustDefine(query.Descriptor{Method: "findByAge"})
	_, err := list.Page(ctx, s, query.Args{"age": 1}, query.PageRequest(0, 10))
	require.True(t, query.IsShapeError(err))

	_, err = members.Define(query.Descriptor{
		Query: "select m from Member m join fetch m.tags t",
		Shape: query.ShapePage,
	})
	require.True(t, query.IsShapeError(err))

	_, err = members.Define(query.Descriptor{Entity: "Team", Method: "findByName"})
	require.Error(t, err)
}

func TestMissingArgumentFailsBeforeBackend(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	ctx := context.Background()
	s := env.Begin(t)

	method := members.MustDefine(query.Descriptor{Method: "findByUsernameAndAge"})
	_, err := method.List(ctx, s, query.Args{"username": "ann"})
	require.True(t, query.IsBindingError(err))

	var bindErr *query.BindingError
	require.ErrorAs(t, err, &bindErr)
	require.Equal(t, []string{"age"}, bindErr.Missing)
	require.Empty(t, env.Recorder.SQL())
}

func TestSaveAllAndFindAllSorted(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	ctx := context.Background()

	err := env.Engine.InTransaction(ctx, func(s *orm.Session) error {
		_, err := members.SaveAll(ctx, s, []*testkit.Member{
			{Username: "cid", Age: 3},
			{Username: "ann", Age: 1},
			{Username: "bob", Age: 2},
		})
		return err
	})
	require.NoError(t, err)

	s := env.Begin(t)
	all, err := members.FindAll(ctx, s, repository.WithSort(query.By("username")))
	require.NoError(t, err)
	require.Equal(t, []string{"ann", "bob", "cid"}, usernames(all))
}

func TestFindByIDWithEntityGraph(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	core := env.SeedTeam(t, "core")
	id := env.SeedMember(t, "ann", 30, core)
	ctx := context.Background()
	s := env.Begin(t)

	member, ok, err := members.FindByID(ctx, s, id, repository.WithEntityGraph("team"), repository.WithReadOnly())
	require.NoError(t, err)
	require.True(t, ok)
	team, loaded := member.Team.Peek()
	require.True(t, loaded)
	require.Equal(t, "core", team.Name)
	require.False(t, s.IsDirty(member))
}

func TestDerivedDeleteThroughMethod(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	env.SeedMember(t, "ann", 10, 0)
	env.SeedMember(t, "bob", 50, 0)
	ctx := context.Background()

	err := env.Engine.InTransaction(ctx, func(s *orm.Session) error {
		n, err := members.MustDefine(query.Descriptor{Method: "deleteByAgeGreaterThan"}).
			Execute(ctx, s, query.Args{"age": 20})
		if err != nil {
			return err
		}
		require.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "ann", env.QueryString(t, "SELECT username FROM member"))
}

func TestInvalidateCacheEvictsRegion(t *testing.T) {
	t.Parallel()

	env, members := setup(t)
	require.NoError(t, members.InvalidateCache(context.Background()))
	require.Equal(t, int64(1), env.Cache.RegionEvictions.Load())
}

func TestPageMapping(t *testing.T) {
	t.Parallel()

	page := repository.NewPage([]int{1, 2}, query.PageRequest(1, 2), 5)
	require.Equal(t, 3, page.TotalPages)
	require.True(t, page.HasNext())
	require.Equal(t, 2, page.NumberOfElements())

	doubled := repository.MapPage(page, func(v int) int { return v * 2 })
	require.Equal(t, []int{2, 4}, doubled.Content)
	require.Equal(t, page.TotalElements, doubled.TotalElements)

	empty := repository.NewPage[int](nil, query.PageRequest(0, 10), 0)
	require.Zero(t, empty.TotalPages)
	require.True(t, empty.IsLast())
}

func setup(t *testing.T) (*testkit.Env, *repository.GenericRepository[*testkit.Member]) {
	t.Helper()
	env := testkit.Open(t)
	members, err := repository.NewGenericRepository[*testkit.Member](env.Engine)
	require.NoError(t, err)
	return env, members
}

func usernames(members []*testkit.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Username
	}
	return out
}
