package mapping_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/persist4go/internal/testkit"
	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

func TestRegisterAppliesDefaults(t *testing.T) {
	t.Parallel()

	reg := mapping.NewRegistry()
	require.NoError(t, reg.Register(mapping.Entity{
		Name:   "Member",
		Table:  "member",
		ID:     mapping.ID{Column: "member_id"},
		Fields: []mapping.Field{{Name: "username", Column: "username"}},
		Associations: []mapping.Association{
			{Name: "team", Kind: mapping.ToOne, Target: "Team", Column: "team_id"},
			{Name: "tags", Kind: mapping.ToMany, Target: "Tag", JoinTable: &mapping.JoinTable{
				Table: "member_tag", Column: "member_id", InverseColumn: "tag_id",
			}},
		},
	}, nil))

	m, ok := reg.Lookup("Member")
	require.True(t, ok)
	require.Equal(t, mapping.IDGenerated, m.ID.Strategy)
	require.Equal(t, "id", m.ID.Field)
	require.Equal(t, []string{"member_id", "username", "team_id"}, m.Columns())

	team, ok := m.Association("TEAM")
	require.True(t, ok)
	require.True(t, team.Eager())
	tags, _ := m.Association("tags")
	require.False(t, tags.Eager())
	require.True(t, tags.IsCollection())
	require.Len(t, m.ToOne(), 1)
	require.Len(t, m.JoinTables(), 1)

	f, ok := m.Field("UserName")
	require.True(t, ok)
	require.Equal(t, "username", f.Column)
	id, ok := m.Field("id")
	require.True(t, ok)
	require.Equal(t, "member_id", id.Column)

	_, err := m.New()
	require.Error(t, err)
}

func TestRegisterRejectsInvalidMappings(t *testing.T) {
	t.Parallel()

	base := func() mapping.Entity {
		return mapping.Entity{Name: "Tag", Table: "tag", ID: mapping.ID{Column: "tag_id"}}
	}

	tests := []struct {
		name   string
		mutate func(*mapping.Entity)
		want   string
	}{
		{"no table", func(m *mapping.Entity) { m.Table = "" }, "table is required"},
		{"no id column", func(m *mapping.Entity) { m.ID.Column = "" }, "id column is required"},
		{"unknown strategy", func(m *mapping.Entity) { m.ID.Strategy = "sequence" }, "unknown id strategy"},
		{"column mapped twice", func(m *mapping.Entity) {
			m.Fields = []mapping.Field{{Name: "label", Column: "tag_id"}}
		}, "mapped twice"},
		{"to-one without column", func(m *mapping.Entity) {
			m.Associations = []mapping.Association{{Name: "owner", Kind: mapping.ToOne, Target: "Member"}}
		}, "needs a column"},
		{"to-many with both sides", func(m *mapping.Entity) {
			m.Associations = []mapping.Association{{Name: "members", Kind: mapping.ToMany, Target: "Member",
				MappedBy: "tag", JoinTable: &mapping.JoinTable{Table: "x", Column: "a", InverseColumn: "b"}}}
		}, "exactly one of mapped_by or join_table"},
		{"incomplete join table", func(m *mapping.Entity) {
			m.Associations = []mapping.Association{{Name: "members", Kind: mapping.ToMany, Target: "Member",
				JoinTable: &mapping.JoinTable{Table: "member_tag"}}}
		}, "incomplete join table"},
		{"unknown fetch mode", func(m *mapping.Entity) {
			m.Associations = []mapping.Association{{Name: "owner", Kind: mapping.ToOne, Target: "Member",
				Column: "owner_id", Fetch: "batch"}}
		}, "unknown fetch mode"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := base()
			tt.mutate(&m)
			err := mapping.NewRegistry().Register(m, nil)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRegisterChecksFactory(t *testing.T) {
	t.Parallel()

	reg := mapping.NewRegistry()
	tag := mapping.Entity{Name: "Tag", Table: "tag", ID: mapping.ID{Column: "tag_id"}}

	err := reg.Register(tag, func() entity.Entity { return &testkit.Team{} })
	require.ErrorContains(t, err, `factory builds "Team"`)

	tag.ID.Strategy = mapping.IDAssigned
	err = reg.Register(tag, func() entity.Entity { return &testkit.Tag{} })
	require.ErrorContains(t, err, "entity.Persistable")

	tag.ID.Strategy = mapping.IDGenerated
	require.NoError(t, reg.Register(tag, func() entity.Entity { return &testkit.Tag{} }))
	require.ErrorContains(t, reg.Register(tag, nil), "already registered")

	m, _ := reg.Lookup("Tag")
	instance, err := m.New()
	require.NoError(t, err)
	require.IsType(t, &testkit.Tag{}, instance)
}

func TestValidateCrossReferences(t *testing.T) {
	t.Parallel()

	reg := mapping.NewRegistry()
	reg.MustRegister(mapping.Entity{
		Name:  "Team",
		Table: "team",
		ID:    mapping.ID{Column: "team_id"},
		Associations: []mapping.Association{
			{Name: "members", Kind: mapping.ToMany, Target: "Member", MappedBy: "club"},
		},
	}, nil)
	require.ErrorContains(t, reg.Validate(), "targets unknown entity Member")

	reg.MustRegister(mapping.Entity{
		Name:  "Member",
		Table: "member",
		ID:    mapping.ID{Column: "member_id"},
		Associations: []mapping.Association{
			{Name: "team", Kind: mapping.ToOne, Target: "Team", Column: "team_id"},
		},
	}, nil)
	require.ErrorContains(t, reg.Validate(), "mapped by Member.club")

	require.Equal(t, []string{"Member", "Team"}, reg.Names())
	require.NoError(t, testkit.Registry().Validate())
}

const memberDocument = `
entities:
  - name: Team
    table: team
    id: {column: team_id}
    fields:
      - {name: name, column: name}
    associations:
      - {name: members, kind: to_many, target: Member, mapped_by: team}
  - name: Member
    table: member
    id: {field: id, column: member_id}
    fields:
      - {name: username, column: username}
      - {name: age, column: age}
    associations:
      - {name: team, kind: to_one, target: Team, column: team_id, fetch: lazy}
    named_queries:
      findAdults: select m from Member m where m.age >= 18
`

func TestLoadDocument(t *testing.T) {
	t.Parallel()

	doc, err := mapping.LoadDocument(strings.NewReader(memberDocument))
	require.NoError(t, err)
	require.Len(t, doc.Entities, 2)

	reg := mapping.NewRegistry()
	require.NoError(t, reg.RegisterDocument(doc, map[string]func() entity.Entity{
		"Team": func() entity.Entity { return &testkit.Team{} },
	}))

	member, ok := reg.Lookup("Member")
	require.True(t, ok)
	q, ok := member.NamedQuery("findAdults")
	require.True(t, ok)
	require.Contains(t, q, "m.age >= 18")
	team, _ := member.Association("team")
	require.Equal(t, mapping.FetchLazy, team.Fetch)

	teamMapping, _ := reg.Lookup("Team")
	_, err = teamMapping.New()
	require.NoError(t, err)
	_, err = member.New()
	require.Error(t, err)
}

func TestLoadDocumentRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := mapping.LoadDocument(strings.NewReader(`
entities:
  - name: Tag
    tabel: tag
`))
	require.ErrorContains(t, err, "tabel")

	_, err = mapping.LoadDocument(strings.NewReader("entities: []\n"))
	require.ErrorContains(t, err, "no entities")
}

func TestLoadDocumentFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(memberDocument), 0o600))

	doc, err := mapping.LoadDocumentFile(path)
	require.NoError(t, err)
	require.Equal(t, "Team", doc.Entities[0].Name)

	_, err = mapping.LoadDocumentFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
