//go:build integration
// +build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func newIntegrationMemcached(t *testing.T) *MemcachedCache {
	t.Helper()
	addrs := os.Getenv("MEMCACHED_ADDRS")
	if addrs == "" {
		addrs = "localhost:11211"
	}
	c, err := NewMemcachedCache(addrs, 500*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewMemcachedCache(%q) error = %v", addrs, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Ping(); err != nil {
		t.Skipf("memcached at %s not reachable: %v", addrs, err)
	}
	return c
}

func TestMemcachedCache_Integration(t *testing.T) {
	c := newIntegrationMemcached(t)
	ctx := context.Background()
	suffix := time.Now().Format("150405.000")

	t.Run("round trip", func(t *testing.T) {
		key := "it-drips-" + suffix
		if err := c.Set(ctx, key, sampleCollection("DRIP_A28_87"), time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, ok, err := c.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Get() = ok %v, err %v", ok, err)
		}
		if len(got.Features) != 1 || got.Features[0].Properties["id"] != "DRIP_A28_87" {
			t.Errorf("Get() = %+v", got)
		}
	})

	t.Run("miss", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "it-absent-"+suffix)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok {
			t.Error("Get() ok = true, want false for miss")
		}
	})

	t.Run("sub-second ttl not stored", func(t *testing.T) {
		key := "it-short-" + suffix
		if err := c.Set(ctx, key, sampleCollection("x"), 500*time.Millisecond); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if _, ok, _ := c.Get(ctx, key); ok {
			t.Error("Get() ok = true, want nothing stored for a sub-second ttl")
		}
	})

	t.Run("expires", func(t *testing.T) {
		key := "it-expiring-" + suffix
		if err := c.Set(ctx, key, sampleCollection("y"), time.Second); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		time.Sleep(2100 * time.Millisecond)
		if _, ok, _ := c.Get(ctx, key); ok {
			t.Error("Get() ok = true after ttl elapsed")
		}
	})
}
