package cache

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
)

// Cache stores normalized dataset collections by key.
// Get returns the collection only while it is younger than the TTL it was stored with.
type Cache interface {
	Get(ctx context.Context, key string) (*geojson.FeatureCollection, bool, error)
	Set(ctx context.Context, key string, value *geojson.FeatureCollection, ttl time.Duration) error
}

// InMemoryCache implements Cache with a mutex-protected map.
// An entry is a miss once now - storedAt >= ttl and is removed on that access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     *geojson.FeatureCollection
	expiresAt time.Time
}

// NewInMemoryCache creates an empty in-memory cache on the wall clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  now,
	}
}

// Get returns (value, true, nil) on a hit and (nil, false, nil) on a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (*geojson.FeatureCollection, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value until ttl has elapsed. A non-positive ttl stores nothing.
func (c *InMemoryCache) Set(ctx context.Context, key string, value *geojson.FeatureCollection, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
