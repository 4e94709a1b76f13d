package schema

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	tables    []Table
	expiresAt time.Time
}

// Cache holds table listings per schema name for a TTL. Concurrent misses for
// the same schema share one load; a refresh simply replaces the entry.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCache returns a cache with the given TTL. now may be nil, in which case
// time.Now is used.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: map[string]cacheEntry{}}
}

func (c *Cache) Get(schemaName string) ([]Table, bool) {
	c.mu.RLock()
	entry, ok := c.entries[schemaName]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.tables, true
}

func (c *Cache) Set(schemaName string, tables []Table) {
	c.mu.Lock()
	c.entries[schemaName] = cacheEntry{tables: tables, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(schemaName string) {
	c.mu.Lock()
	delete(c.entries, schemaName)
	c.mu.Unlock()
}

// GetOrLoad returns the cached listing or calls load once for all concurrent
// callers. The boolean reports a cache hit.
func (c *Cache) GetOrLoad(schemaName string, load func() ([]Table, error)) ([]Table, bool, error) {
	if tables, ok := c.Get(schemaName); ok {
		return tables, true, nil
	}
	value, err, _ := c.group.Do(schemaName, func() (any, error) {
		if tables, ok := c.Get(schemaName); ok {
			return tables, nil
		}
		tables, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(schemaName, tables)
		return tables, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value.([]Table), false, nil
}
