package cache

import (
	"time"

	"github.com/bluele/gcache"
)

// DefaultReferenceTTL is how long a reference table stays valid.
const DefaultReferenceTTL = 24 * time.Hour

// ReferenceCache holds slow-changing lookup tables (measurement sites,
// parking sites) that are shared read-only between datasets.
type ReferenceCache[T any] struct {
	c gcache.Cache
}

// NewReferenceCache builds a ReferenceCache with the given TTL. clock may be
// nil; tests pass gcache.NewFakeClock().
func NewReferenceCache[T any](ttl time.Duration, clock gcache.Clock) *ReferenceCache[T] {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	b := gcache.New(32).LRU().Expiration(ttl)
	if clock != nil {
		b = b.Clock(clock)
	}
	return &ReferenceCache[T]{c: b.Build()}
}

// Get returns the table stored under key, if present and unexpired.
func (r *ReferenceCache[T]) Get(key string) (T, bool) {
	var zero T
	v, err := r.c.Get(key)
	if err != nil {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Set stores a table under key for the cache TTL.
func (r *ReferenceCache[T]) Set(key string, value T) {
	_ = r.c.Set(key, value)
}
