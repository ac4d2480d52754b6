// Package testkit provides the entities, schema and backends shared by the
// engine and repository tests. Everything runs against an in-memory SQLite
// database through the same backend the application uses.
package testkit

import (
	"fmt"
	"time"

	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Member belongs to at most one team and carries any number of tags
type Member struct {
	MemberID int64
	Username string
	Age      int
	Team     entity.Ref[*Team]
	Tags     entity.Collection[*Tag]
}

func (m *Member) EntityName() string { return "Member" }
func (m *Member) ID() any            { return m.MemberID }

func (m *Member) SetID(id any) error {
	v, err := entity.AsInt64(id)
	if err != nil {
		return err
	}
	m.MemberID = v
	return nil
}

func (m *Member) Values() map[string]any {
	return map[string]any{"username": m.Username, "age": m.Age}
}

func (m *Member) Scan(values map[string]any) error {
	username, err := entity.AsString(values["username"])
	if err != nil {
		return fmt.Errorf("username: %w", err)
	}
	age, err := entity.AsInt(values["age"])
	if err != nil {
		return fmt.Errorf("age: %w", err)
	}
	m.Username = username
	m.Age = age
	return nil
}

func (m *Member) Association(name string) entity.Association {
	switch name {
	case "team":
		return &m.Team
	case "tags":
		return &m.Tags
	}
	return nil
}

// Team is the inverse side of Member.team
type Team struct {
	TeamID  int64
	Name    string
	Members entity.Collection[*Member]
}

func (t *Team) EntityName() string { return "Team" }
func (t *Team) ID() any            { return t.TeamID }

func (t *Team) SetID(id any) error {
	v, err := entity.AsInt64(id)
	if err != nil {
		return err
	}
	t.TeamID = v
	return nil
}

func (t *Team) Values() map[string]any {
	return map[string]any{"name": t.Name}
}

func (t *Team) Scan(values map[string]any) error {
	name, err := entity.AsString(values["name"])
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	t.Name = name
	return nil
}

func (t *Team) Association(name string) entity.Association {
	if name == "members" {
		return &t.Members
	}
	return nil
}

// Tag is linked to members through the member_tag join table
type Tag struct {
	TagID int64
	Label string
}

func (t *Tag) EntityName() string { return "Tag" }
func (t *Tag) ID() any            { return t.TagID }

func (t *Tag) SetID(id any) error {
	v, err := entity.AsInt64(id)
	if err != nil {
		return err
	}
	t.TagID = v
	return nil
}

func (t *Tag) Values() map[string]any {
	return map[string]any{"label": t.Label}
}

func (t *Tag) Scan(values map[string]any) error {
	label, err := entity.AsString(values["label"])
	if err != nil {
		return fmt.Errorf("label: %w", err)
	}
	t.Label = label
	return nil
}

func (t *Tag) Association(string) entity.Association { return nil }

// Item has a caller-assigned identifier; its creation timestamp tells the
// engine whether the row exists
type Item struct {
	ItemID      string
	Name        string
	CreatedDate time.Time
}

func (i *Item) EntityName() string { return "Item" }
func (i *Item) ID() any            { return i.ItemID }

func (i *Item) SetID(id any) error {
	v, err := entity.AsString(id)
	if err != nil {
		return err
	}
	i.ItemID = v
	return nil
}

func (i *Item) IsNew() bool { return i.CreatedDate.IsZero() }

func (i *Item) MarkCreated(at time.Time) { i.CreatedDate = at.UTC().Truncate(time.Second) }

func (i *Item) Values() map[string]any {
	return map[string]any{"name": i.Name, "createdDate": entity.NullableTime(i.CreatedDate)}
}

func (i *Item) Scan(values map[string]any) error {
	name, err := entity.AsString(values["name"])
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	i.Name = name
	if values["createdDate"] == nil {
		i.CreatedDate = time.Time{}
		return nil
	}
	created, err := entity.AsTime(values["createdDate"])
	if err != nil {
		return fmt.Errorf("createdDate: %w", err)
	}
	i.CreatedDate = created
	return nil
}

func (i *Item) Association(string) entity.Association { return nil }

// Mappings returns the mapping table of the test entities
func Mappings() []mapping.Entity {
	return []mapping.Entity{
		{
			Name:  "Member",
			Table: "member",
			ID:    mapping.ID{Field: "id", Column: "member_id"},
			Fields: []mapping.Field{
				{Name: "username", Column: "username"},
				{Name: "age", Column: "age"},
			},
			Associations: []mapping.Association{
				{Name: "team", Kind: mapping.ToOne, Target: "Team", Column: "team_id", Fetch: mapping.FetchLazy},
				{Name: "tags", Kind: mapping.ToMany, Target: "Tag", JoinTable: &mapping.JoinTable{
					Table: "member_tag", Column: "member_id", InverseColumn: "tag_id",
				}},
			},
			NamedQueries: map[string]string{
				"findByTeamName": "select m from Member m join m.team t where t.name = :name",
			},
		},
		{
			Name:   "Team",
			Table:  "team",
			ID:     mapping.ID{Field: "id", Column: "team_id"},
			Fields: []mapping.Field{{Name: "name", Column: "name"}},
			Associations: []mapping.Association{
				{Name: "members", Kind: mapping.ToMany, Target: "Member", MappedBy: "team"},
			},
		},
		{
			Name:   "Tag",
			Table:  "tag",
			ID:     mapping.ID{Field: "id", Column: "tag_id"},
			Fields: []mapping.Field{{Name: "label", Column: "label"}},
		},
		{
			Name:  "Item",
			Table: "item",
			ID:    mapping.ID{Field: "id", Column: "item_id", Strategy: mapping.IDAssigned},
			Fields: []mapping.Field{
				{Name: "name", Column: "name"},
				{Name: "createdDate", Column: "created_date"},
			},
		},
	}
}

// Factories returns the constructors of the test entities by name
func Factories() map[string]func() entity.Entity {
	return map[string]func() entity.Entity{
		"Member": func() entity.Entity { return &Member{} },
		"Team":   func() entity.Entity { return &Team{} },
		"Tag":    func() entity.Entity { return &Tag{} },
		"Item":   func() entity.Entity { return &Item{} },
	}
}

// Registry returns a validated registry of the test entities
func Registry() *mapping.Registry {
	reg := mapping.NewRegistry()
	factories := Factories()
	for _, m := range Mappings() {
		reg.MustRegister(m, factories[m.Name])
	}
	if err := reg.Validate(); err != nil {
		panic(fmt.Sprintf("testkit: %v", err))
	}
	return reg
}
