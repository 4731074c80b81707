package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `server:
  port: "8080"
`

// clearEnv unsets the variables Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ENV_NAME", "CACHE_BACKEND", "MEMCACHED_ADDRS", "NDW_BASE_URL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func loadFrom(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	writeEnvFile(t, dir, yaml)
	chdir(t, dir)
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, minimalEnvYAML)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"NDWBaseURL", cfg.NDWBaseURL, "https://opendata.ndw.nu/"},
		{"UpstreamTimeout", cfg.UpstreamTimeout, 20 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 30 * time.Second},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"ReferenceTTL", cfg.ReferenceTTL, 24 * time.Hour},
		{"CoalesceTimeout", cfg.CoalesceTimeout, 60 * time.Second},
		{"WarmInterval", cfg.WarmInterval, time.Duration(0)},
		{"MinLat", cfg.MinLat, 52.35},
		{"MaxLon", cfg.MaxLon, 6.35},
		{"MatchThresholdKm", cfg.MatchThresholdKm, 5.0},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"OverloadThresholdPct", cfg.OverloadThresholdPct, 80},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 25},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_FullFile(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, `server:
  port: "9090"
upstream:
  base_url: "http://localhost:9000/"
  timeout: "5s"
request:
  timeout: "10s"
cache:
  backend: memcached
  memcached:
    addrs: "cache-a:11211,cache-b:11211"
  ttl_overrides:
    MSI: "30s"
    drips: "bogus"
  reference_ttl: "12h"
  warm_datasets: [drips, emissiezones]
  warm_interval: "30m"
region:
  min_lat: 52.0
  max_lat: 53.0
  min_lon: 5.0
  max_lon: 7.0
msi:
  match_threshold_km: 2.5
reliability:
  rate_limit_rps: 5
  rate_limit_burst: 10
  circuit_breaker:
    enabled: false
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" || cfg.NDWBaseURL != "http://localhost:9000/" {
		t.Errorf("server/upstream = %q, %q", cfg.ServerPort, cfg.NDWBaseURL)
	}
	if cfg.UpstreamTimeout != 5*time.Second || cfg.RequestTimeout != 10*time.Second {
		t.Errorf("timeouts = %v, %v", cfg.UpstreamTimeout, cfg.RequestTimeout)
	}
	if cfg.CacheBackend != "memcached" || cfg.MemcachedAddrs != "cache-a:11211,cache-b:11211" {
		t.Errorf("cache = %q, %q", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
	if len(cfg.TTLOverrides) != 1 || cfg.TTLOverrides["msi"] != 30*time.Second {
		t.Errorf("TTLOverrides = %v, want only msi=30s", cfg.TTLOverrides)
	}
	if cfg.ReferenceTTL != 12*time.Hour {
		t.Errorf("ReferenceTTL = %v", cfg.ReferenceTTL)
	}
	if strings.Join(cfg.WarmDatasets, ",") != "drips,emissiezones" || cfg.WarmInterval != 30*time.Minute {
		t.Errorf("warm = %v every %v", cfg.WarmDatasets, cfg.WarmInterval)
	}
	if cfg.MinLat != 52.0 || cfg.MaxLat != 53.0 || cfg.MinLon != 5.0 || cfg.MaxLon != 7.0 {
		t.Errorf("region = %v %v %v %v", cfg.MinLat, cfg.MaxLat, cfg.MinLon, cfg.MaxLon)
	}
	if cfg.MatchThresholdKm != 2.5 {
		t.Errorf("MatchThresholdKm = %v", cfg.MatchThresholdKm)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 10 {
		t.Errorf("rate limit = %d/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "MEMCACHED")
	t.Setenv("MEMCACHED_ADDRS", "env-cache:11211")
	t.Setenv("NDW_BASE_URL", "http://mirror.local/")

	cfg, err := loadFrom(t, `cache:
  backend: in_memory
  memcached:
    addrs: "file-cache:11211"
upstream:
  base_url: "https://opendata.ndw.nu/"
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "env-cache:11211" {
		t.Errorf("MemcachedAddrs = %q, want env-cache:11211", cfg.MemcachedAddrs)
	}
	if cfg.NDWBaseURL != "http://mirror.local/" {
		t.Errorf("NDWBaseURL = %q, want mirror", cfg.NDWBaseURL)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("NDW_BASE_URL=http://dotenv.local/\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NDWBaseURL != "http://dotenv.local/" {
		t.Errorf("NDWBaseURL = %q, want value from .env", cfg.NDWBaseURL)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "unknown cache backend",
			yaml:    "cache:\n  backend: redis\n",
			wantMsg: "CacheBackend",
		},
		{
			name:    "non-numeric port",
			yaml:    "server:\n  port: http\n",
			wantMsg: "ServerPort",
		},
		{
			name:    "bad base url",
			yaml:    "upstream:\n  base_url: \"not a url\"\n",
			wantMsg: "NDWBaseURL",
		},
		{
			name:    "latitude out of range",
			yaml:    "region:\n  max_lat: 95\n",
			wantMsg: "MaxLat",
		},
		{
			name:    "inverted box",
			yaml:    "region:\n  min_lat: 52.6\n  max_lat: 52.4\n",
			wantMsg: "region min must be below max",
		},
		{
			name:    "zero-width box",
			yaml:    "region:\n  min_lon: 6.0\n  max_lon: 6.0\n",
			wantMsg: "region min must be below max",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := loadFrom(t, tt.yaml)
			if err == nil {
				t.Fatalf("Load() expected error, got %+v", cfg)
			}
			if cfg != nil {
				t.Errorf("Load() expected nil config on error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_RequestTimeoutRaisedAboveUpstream(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, "upstream:\n  timeout: \"40s\"\nrequest:\n  timeout: \"30s\"\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 41*time.Second {
		t.Errorf("RequestTimeout = %v, want 41s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFrom(t, "upstream:\n  timeout: \"soon\"\ncache:\n  reference_ttl: \"-1h\"\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UpstreamTimeout != 20*time.Second {
		t.Errorf("UpstreamTimeout = %v, want default 20s", cfg.UpstreamTimeout)
	}
	if cfg.ReferenceTTL != 24*time.Hour {
		t.Errorf("ReferenceTTL = %v, want default 24h", cfg.ReferenceTTL)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	chdir(t, t.TempDir())

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearEnv(t)
	_, err := loadFrom(t, "server: [unclosed\n")
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"250ms", time.Second, 250 * time.Millisecond},
		{" 2m ", time.Second, 2 * time.Minute},
		{"0s", time.Second, time.Second},
		{"abc", time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Minute); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
