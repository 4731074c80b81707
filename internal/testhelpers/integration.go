//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/ndw-feed-service/internal/cache"
	"github.com/kjstillabower/ndw-feed-service/internal/client"
	"github.com/kjstillabower/ndw-feed-service/internal/service"
)

// IntegrationTestConfig holds configuration for tests against the live NDW server.
type IntegrationTestConfig struct {
	BaseURL       string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless NDW_INTEGRATION is set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("NDW_INTEGRATION") == "" {
		t.Skip("NDW_INTEGRATION not set, skipping integration test")
	}
	baseURL := os.Getenv("NDW_BASE_URL")
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		BaseURL:       baseURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService creates a FeedService against the live NDW server.
// Returns the service, its cache and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.FeedService, cache.Cache, func()) {
	ndw, err := client.NewNDWClient(cfg.BaseURL, 60*time.Second)
	if err != nil {
		t.Fatalf("NewNDWClient() error = %v", err)
	}

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("using memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("memcached not available, using in-memory cache")
		}
	}

	svc := service.NewFeedService(ndw, cacheSvc, service.NewRegistry(service.DefaultDatasets(), nil), service.Options{
		CoalesceTimeout: 90 * time.Second,
	})
	return svc, cacheSvc, cleanup
}
