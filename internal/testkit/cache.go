package testkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCacheDown is returned by a MemoryCache after Fail
var ErrCacheDown = errors.New("memory cache unavailable")

// MemoryCache is an in-process second-level cache with call counters. It
// follows the stamp rules of the Redis manager: an eviction advances a
// sequence and a put carrying an older stamp is refused.
type MemoryCache struct {
	mu      sync.Mutex
	regions map[string]map[string]map[string]any
	seq     int64
	evicted map[string]int64
	cleared map[string]int64
	down    bool

	Gets            atomic.Int64
	Hits            atomic.Int64
	Puts            atomic.Int64
	Refused         atomic.Int64
	Evictions       atomic.Int64
	RegionEvictions atomic.Int64
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		regions: make(map[string]map[string]map[string]any),
		evicted: make(map[string]int64),
		cleared: make(map[string]int64),
	}
}

// Fail makes every later call return ErrCacheDown
func (c *MemoryCache) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = true
}

func key(id any) string {
	return fmt.Sprintf("%v", id)
}

func entryKey(region string, id any) string {
	return region + ":" + key(id)
}

// Stamp implements orm.SecondLevelCache
func (c *MemoryCache) Stamp(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, ErrCacheDown
	}
	return c.seq, nil
}

// GetEntry implements orm.SecondLevelCache
func (c *MemoryCache) GetEntry(_ context.Context, region string, id any) (map[string]any, bool, error) {
	c.Gets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, false, ErrCacheDown
	}
	entry, ok := c.regions[region][key(id)]
	if !ok {
		return nil, false, nil
	}
	c.Hits.Add(1)
	return copyColumns(entry), true, nil
}

// PutEntry implements orm.SecondLevelCache
func (c *MemoryCache) PutEntry(_ context.Context, region string, id any, stamp int64, columns map[string]any) error {
	c.Puts.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return ErrCacheDown
	}
	if c.evicted[entryKey(region, id)] > stamp || c.cleared[region] > stamp {
		c.Refused.Add(1)
		return nil
	}
	r, ok := c.regions[region]
	if !ok {
		r = make(map[string]map[string]any)
		c.regions[region] = r
	}
	if _, ok := r[key(id)]; ok {
		return nil
	}
	r[key(id)] = copyColumns(columns)
	return nil
}

// EvictEntry implements orm.SecondLevelCache
func (c *MemoryCache) EvictEntry(_ context.Context, region string, id any) error {
	c.Evictions.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return ErrCacheDown
	}
	c.seq++
	c.evicted[entryKey(region, id)] = c.seq
	delete(c.regions[region], key(id))
	return nil
}

// EvictRegion implements orm.SecondLevelCache
func (c *MemoryCache) EvictRegion(_ context.Context, region string) error {
	c.RegionEvictions.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return ErrCacheDown
	}
	c.seq++
	c.cleared[region] = c.seq
	delete(c.regions, region)
	return nil
}

// Has reports whether an entry is cached
func (c *MemoryCache) Has(region string, id any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.regions[region][key(id)]
	return ok
}

// Entry returns a copy of a cached entry
func (c *MemoryCache) Entry(region string, id any) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.regions[region][key(id)]
	if !ok {
		return nil, false
	}
	return copyColumns(entry), true
}

func copyColumns(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
