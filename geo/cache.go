package geo

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache memoizes geocoding results. Failures are never cached.
type Cache interface {
	Get(ctx context.Context, address string) (Point, bool, error)
	Set(ctx context.Context, address string, p Point) error
}

// cacheKey folds case and whitespace so trivially different spellings of
// one address share an entry.
func cacheKey(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

// MemoryCache is a process-local Cache with a TTL. The clock is injectable.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	point   Point
	expires time.Time
}

// NewMemoryCache creates a cache. A zero ttl keeps entries forever.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, address string) (Point, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey(address)]
	if !ok || c.expired(e) {
		return Point{}, false, nil
	}
	return e.point, true, nil
}

func (c *MemoryCache) Set(_ context.Context, address string, p Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{point: p}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[cacheKey(address)] = e
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && !c.now().Before(e.expires)
}
