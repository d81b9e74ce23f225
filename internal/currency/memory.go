package currency

import (
	"context"
	"sync"
	"time"
)

// MemoryCache implements the Cache interface with an in-process map.
// Entries expire at their rate's ExpiresAt; expired entries are dropped
// lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Rate
}

// NewMemoryCache creates an empty in-process rate cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Rate)}
}

func cacheKey(from, to string) string {
	return from + "/" + to
}

// Get returns the cached rate for the pair if present and not expired.
func (c *MemoryCache) Get(_ context.Context, from, to string) (Rate, bool) {
	key := cacheKey(from, to)

	c.mu.RLock()
	r, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Rate{}, false
	}
	if time.Now().After(r.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// refreshed the entry meanwhile.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Rate{}, false
	}
	return r, true
}

// Set stores the rate under its currency pair.
func (c *MemoryCache) Set(_ context.Context, r Rate) {
	c.mu.Lock()
	c.entries[cacheKey(r.From, r.To)] = r
	c.mu.Unlock()
}
