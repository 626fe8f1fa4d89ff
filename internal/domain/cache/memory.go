package cache

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"audiobook-feed/internal/domain"
)

// MemoryCache provides thread-safe in-memory caching of catalog search results.
type MemoryCache struct {
	entries *gocache.Cache
	maxSize int
}

// NewMemoryCache creates a new cache whose janitor evicts expired entries every cleanupInterval.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 1 * time.Hour
	}
	return &MemoryCache{
		entries: gocache.New(gocache.NoExpiration, cleanupInterval),
		maxSize: 10000,
	}
}

// Get retrieves cached records for the given key, if present and not expired.
func (c *MemoryCache) Get(key string) ([]domain.Record, bool) {
	v, found := c.entries.Get(key)
	if !found {
		return nil, false
	}
	records, ok := v.([]domain.Record)
	return records, ok
}

// Put stores records in the cache with the given TTL.
// If the cache exceeds maxSize, expired entries are evicted first and then
// one arbitrary entry.
func (c *MemoryCache) Put(key string, records []domain.Record, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	c.entries.Set(key, records, ttl)

	if c.entries.ItemCount() <= c.maxSize {
		return
	}
	c.EvictExpired()
	if c.entries.ItemCount() <= c.maxSize {
		return
	}
	for k := range c.entries.Items() {
		if k != key {
			c.entries.Delete(k)
			break
		}
	}
}

// EvictExpired removes all expired entries from the cache.
func (c *MemoryCache) EvictExpired() {
	initialSize := c.entries.ItemCount()
	c.entries.DeleteExpired()
	if evicted := initialSize - c.entries.ItemCount(); evicted > 0 {
		slog.Debug("Evicted expired search cache entries", "count", evicted)
	}
}

// Len returns the number of entries in the cache, including expired ones
// the janitor has not collected yet.
func (c *MemoryCache) Len() int {
	return c.entries.ItemCount()
}
