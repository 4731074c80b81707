package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/paulmach/orb/geojson"
)

const keyPrefix = "ndw:"

// memcached relative expirations above 30 days are read as unix timestamps.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache on memcached. Collections are stored as
// GeoJSON; memcached expiry enforces the TTL.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (*geojson.FeatureCollection, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memcache get %s: %w", key, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(item.Value)
	if err != nil {
		return nil, false, fmt.Errorf("memcache decode %s: %w", key, err)
	}
	return fc, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value *geojson.FeatureCollection, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	expSec, ok := expirationSeconds(ttl)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memcache encode %s: %w", key, err)
	}
	if err := c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	}); err != nil {
		return fmt.Errorf("memcache set %s: %w", key, err)
	}
	return nil
}

// expirationSeconds converts ttl to a memcached relative expiration. Sub-second
// TTLs cannot be represented and are not stored.
func expirationSeconds(ttl time.Duration) (int32, bool) {
	sec := int64(ttl / time.Second)
	if sec <= 0 {
		return 0, false
	}
	if sec > maxRelativeExp {
		sec = maxRelativeExp
	}
	return int32(sec), true
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
