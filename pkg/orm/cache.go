package orm

import (
	"context"

	"github.com/ammar0144/persist4go/pkg/entity"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// SecondLevelCache is a cache of entity rows shared by all sessions of an
// engine. Regions are named after tables. Implementations must be safe for
// concurrent use; cache.Manager is the Redis implementation.
//
// Entries are only ever filled from rows read from the backend. A session
// takes a stamp before its transaction starts and presents it with every
// PutEntry; an entry or region evicted after that stamp refuses the put, so a
// row read from an older snapshot never replaces a committed change.
type SecondLevelCache interface {
	Stamp(ctx context.Context) (int64, error)
	GetEntry(ctx context.Context, region string, id any) (map[string]any, bool, error)
	// PutEntry stores columns unless an entry exists or the entry or its
	// region was evicted after stamp
	PutEntry(ctx context.Context, region string, id any, stamp int64, columns map[string]any) error
	EvictEntry(ctx context.Context, region string, id any) error
	EvictRegion(ctx context.Context, region string) error
}

// rowColumns builds a cache entry from the values of one entity binding:
// identifier, scalar and to-one foreign key columns in mapping order
func rowColumns(m *mapping.Entity, values []any) map[string]any {
	cols := make(map[string]any, len(m.Columns()))
	for i, c := range m.Columns() {
		v := values[i]
		if i == 0 {
			v = entity.NormalizeID(v)
		}
		cols[c] = v
	}
	return cols
}

// loadedRow is an entity binding read from the backend
type loadedRow struct {
	mapping *mapping.Entity
	values  []any
}

// cacheRow orders a cache entry like a select row of the entity
func cacheRow(m *mapping.Entity, cols map[string]any) []any {
	row := make([]any, len(m.Columns()))
	for i, c := range m.Columns() {
		row[i] = cols[c]
	}
	return row
}

// cacheRef locates one cache entry
type cacheRef struct {
	region string
	id     any
}

// evictions collects the cache work of one transaction. It is applied after
// the commit succeeds and dropped on rollback.
type evictions struct {
	regions map[string]bool
	entries map[entity.Key]cacheRef
}

func newEvictions() *evictions {
	return &evictions{
		regions: make(map[string]bool),
		entries: make(map[entity.Key]cacheRef),
	}
}

func (ev *evictions) region(name string) {
	ev.regions[name] = true
}

func (ev *evictions) entry(key entity.Key, region string, id any) {
	ev.entries[key] = cacheRef{region: region, id: id}
}
