package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/ndw-feed-service/internal/circuitbreaker"
	"github.com/kjstillabower/ndw-feed-service/internal/health"
	"github.com/kjstillabower/ndw-feed-service/internal/service"
	"github.com/kjstillabower/ndw-feed-service/internal/testhelpers"
)

type testEnv struct {
	feeds   *testhelpers.FeedServer
	handler *Handler
	router  http.Handler
}

func newTestEnv(t *testing.T, checker *health.Checker, logger *zap.Logger) *testEnv {
	t.Helper()
	health.Reset()
	if logger == nil {
		logger = zap.NewNop()
	}
	feeds := testhelpers.NewFeedServer(t, testhelpers.DefaultFiles())
	svc, _, _ := testhelpers.NewService(t, feeds)
	h := NewHandler(svc, checker, nil, logger)
	return &testEnv{feeds: feeds, handler: h, router: NewRouter(h, logger, nil, 5*time.Second)}
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return body
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing 'error' field: %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

// TestHandler_GetDataset_MissThenHit verifies the GeoJSON body, cache headers
// and that the second request is served from cache.
func TestHandler_GetDataset_MissThenHit(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.get("/ndw/incidents")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. Body: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "public, s-maxage=60" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	first := w.Body.String()
	body := decodeBody(t, w)
	if body["type"] != "FeatureCollection" {
		t.Errorf("type = %v, want FeatureCollection", body["type"])
	}
	features, _ := body["features"].([]interface{})
	if len(features) != 1 {
		t.Fatalf("features = %d, want 1", len(features))
	}
	props := features[0].(map[string]interface{})["properties"].(map[string]interface{})
	if props["id"] != "RWS03_100" || props["severity"] != "high" || props["dataset"] != "incidents" {
		t.Errorf("properties = %v", props)
	}

	w2 := env.get("/ndw/incidents")
	if got := w2.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if w2.Body.String() != first {
		t.Error("cached body differs from first response")
	}
	if n := env.feeds.Hits(service.FileIncidents); n != 1 {
		t.Errorf("upstream hits = %d, want 1", n)
	}
}

func TestHandler_GetDataset_MSIFromGzip(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.feeds.Gzip(true)

	w := env.get("/ndw/msi")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. Body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	features := body["features"].([]interface{})
	if len(features) != 1 {
		t.Fatalf("features = %d, want 1", len(features))
	}
	props := features[0].(map[string]interface{})["properties"].(map[string]interface{})
	if props["state"] != "lane_closed" {
		t.Errorf("state = %v, want lane_closed", props["state"])
	}
	if props["hasLaneClosed"] != true {
		t.Errorf("hasLaneClosed = %v, want true", props["hasLaneClosed"])
	}
	if props["minSpeedLimit"] != nil {
		t.Errorf("minSpeedLimit = %v, want null", props["minSpeedLimit"])
	}
}

func TestHandler_GetDataset_Errors(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		setup          func(env *testEnv)
		wantStatus     int
		wantCode       string
		wantUpstream   float64
		wantAvailable  bool
		wantErrorCount int
	}{
		{
			name:       "invalid name",
			path:       "/ndw/incidents.xml",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_DATASET",
		},
		{
			name:          "unknown dataset",
			path:          "/ndw/fietspaden",
			wantStatus:    http.StatusNotFound,
			wantCode:      "UNKNOWN_DATASET",
			wantAvailable: true,
		},
		{
			name:           "upstream 503",
			path:           "/ndw/incidents",
			setup:          func(env *testEnv) { env.feeds.FailWith(service.FileIncidents, http.StatusServiceUnavailable) },
			wantStatus:     http.StatusBadGateway,
			wantCode:       "UPSTREAM_ERROR",
			wantUpstream:   503,
			wantErrorCount: 1,
		},
		{
			name:           "upstream file missing",
			path:           "/ndw/srti",
			wantStatus:     http.StatusBadGateway,
			wantCode:       "UPSTREAM_ERROR",
			wantUpstream:   404,
			wantErrorCount: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			if tt.setup != nil {
				tt.setup(env)
			}

			w := env.get(tt.path)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d. Body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if w.Header().Get("X-Correlation-ID") == "" {
				t.Error("X-Correlation-ID header missing")
			}
			body := decodeBody(t, w)
			if code := errorCode(t, body); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			errObj := body["error"].(map[string]interface{})
			if errObj["requestId"] != w.Header().Get("X-Correlation-ID") {
				t.Errorf("requestId = %v, want correlation id", errObj["requestId"])
			}
			if tt.wantUpstream != 0 && body["upstreamStatus"] != tt.wantUpstream {
				t.Errorf("upstreamStatus = %v, want %v", body["upstreamStatus"], tt.wantUpstream)
			}
			if tt.wantAvailable {
				available, _ := body["available"].([]interface{})
				if len(available) != 10 {
					t.Errorf("available = %v, want 10 names", body["available"])
				}
			}
			// Only upstream failures count against the error rate.
			if got := health.RequestCount(time.Minute); got != tt.wantErrorCount {
				t.Errorf("recorded outcomes = %d, want %d", got, tt.wantErrorCount)
			}
		})
	}
}

func TestHandler_GetDataset_ParseError(t *testing.T) {
	health.Reset()
	files := testhelpers.DefaultFiles()
	files[service.FileIncidents] = "<Envelope><Body>"
	svc, _, _ := testhelpers.NewService(t, testhelpers.NewFeedServer(t, files))
	router := NewRouter(NewHandler(svc, nil, nil, zap.NewNop()), zap.NewNop(), nil, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ndw/incidents", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500. Body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if code := errorCode(t, body); code != "PARSE_ERROR" {
		t.Errorf("code = %q, want PARSE_ERROR", code)
	}
	msg := body["error"].(map[string]interface{})["message"].(string)
	if !strings.Contains(msg, "parse") {
		t.Errorf("message = %q, want parse failure", msg)
	}
}

func TestHandler_GetDataset_CircuitOpen(t *testing.T) {
	health.Reset()
	feeds := testhelpers.NewFeedServer(t, testhelpers.DefaultFiles())
	feeds.FailWith(service.FileIncidents, http.StatusInternalServerError)
	svc, ndw, _ := testhelpers.NewService(t, feeds)
	ndw.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Minute, Component: "ndw"}))
	checker := health.NewChecker(health.Config{UpstreamOpen: ndw.CircuitOpen})
	h := NewHandler(svc, checker, nil, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), nil, 0)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ndw/incidents", nil))
	if first.Code != http.StatusBadGateway {
		t.Fatalf("first status = %d, want 502", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ndw/incidents", nil))
	if second.Code != http.StatusServiceUnavailable {
		t.Fatalf("second status = %d, want 503", second.Code)
	}
	if code := errorCode(t, decodeBody(t, second)); code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %q, want UPSTREAM_UNAVAILABLE", code)
	}
	if n := feeds.Hits(service.FileIncidents); n != 1 {
		t.Errorf("upstream hits = %d, want 1", n)
	}

	hw := httptest.NewRecorder()
	router.ServeHTTP(hw, httptest.NewRequest(http.MethodGet, "/health", nil))
	if hw.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", hw.Code)
	}
	hb := decodeBody(t, hw)
	if hb["status"] != "degraded" {
		t.Errorf("health = %v, want degraded", hb["status"])
	}
	if checks := hb["checks"].(map[string]interface{}); checks["ndw"] != "unhealthy" {
		t.Errorf("ndw check = %v, want unhealthy", checks["ndw"])
	}
}

func TestHandler_GetCatalog(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.get("/ndw")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	datasets, _ := body["datasets"].([]interface{})
	if len(datasets) != 10 {
		t.Fatalf("datasets = %d, want 10", len(datasets))
	}
	byName := make(map[string]map[string]interface{})
	for _, d := range datasets {
		entry := d.(map[string]interface{})
		byName[entry["name"].(string)] = entry
	}
	if ttl := byName["msi"]["ttlSeconds"]; ttl != float64(60) {
		t.Errorf("msi ttlSeconds = %v, want 60", ttl)
	}
	if ttl := byName["emissiezones"]["ttlSeconds"]; ttl != float64(3600) {
		t.Errorf("emissiezones ttlSeconds = %v, want 3600", ttl)
	}
	if kind := byName["truckparking"]["kind"]; kind != "truckparking" {
		t.Errorf("truckparking kind = %v", kind)
	}
	if path := byName["srti"]["path"]; path != "/ndw/srti" {
		t.Errorf("srti path = %v", path)
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name       string
		cfg        health.Config
		setup      func()
		cachePing  func() error
		wantStatus string
		wantCode   int
		wantCache  string
	}{
		{
			name:       "healthy",
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name:       "shutting down",
			setup:      func() { health.SetShuttingDown(true) },
			wantStatus: "shutting-down",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "overloaded",
			cfg:  health.Config{OverloadWindow: time.Minute, OverloadThresholdPct: 10, RateLimitRPS: 1},
			setup: func() {
				for i := 0; i < 7; i++ {
					health.RecordDenied()
				}
			},
			wantStatus: "overloaded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "idle",
			cfg: health.Config{
				IdleWindow:             5 * time.Minute,
				IdleThresholdReqPerMin: 2,
				MinimumLifespan:        time.Minute,
				StartTime:              time.Now().Add(-time.Hour),
			},
			wantStatus: "idle",
			wantCode:   http.StatusOK,
		},
		{
			name: "not idle before minimum lifespan",
			cfg: health.Config{
				IdleWindow:             5 * time.Minute,
				IdleThresholdReqPerMin: 2,
				MinimumLifespan:        time.Hour,
				StartTime:              time.Now(),
			},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name: "degraded error rate",
			cfg:  health.Config{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			setup: func() {
				health.RecordSuccess()
				health.RecordError()
				health.RecordError()
			},
			wantStatus: "degraded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "memcached unreachable",
			cachePing:  func() error { return errors.New("dial tcp: connection refused") },
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
			wantCache:  "unhealthy",
		},
		{
			name:       "memcached reachable",
			cachePing:  func() error { return nil },
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
			wantCache:  "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health.Reset()
			defer health.SetShuttingDown(false)
			if tt.setup != nil {
				tt.setup()
			}
			h := NewHandler(nil, health.NewChecker(tt.cfg), tt.cachePing, zap.NewNop())

			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			body := decodeBody(t, w)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if body["service"] != "ndw-feed-service" {
				t.Errorf("service = %v", body["service"])
			}
			checks := body["checks"].(map[string]interface{})
			if checks["ndw"] != "healthy" {
				t.Errorf("ndw check = %v, want healthy", checks["ndw"])
			}
			if tt.wantCache != "" && checks["cache"] != tt.wantCache {
				t.Errorf("cache check = %v, want %s", checks["cache"], tt.wantCache)
			}
			if tt.wantCache == "" && checks["cache"] != nil {
				t.Errorf("cache check present without ping: %v", checks["cache"])
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	health.Reset()
	core, logs := observer.New(zap.DebugLevel)
	h := NewHandler(nil, health.NewChecker(health.Config{DegradedWindow: time.Minute, DegradedErrorPct: 50}), nil, zap.New(core))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	health.RecordSuccess()
	health.RecordSuccess()
	w := httptest.NewRecorder()
	h.GetHealth(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first GetHealth status = %d, want 200", w.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("first call should not log transition; got %d logs", logs.Len())
	}

	health.RecordError()
	health.RecordError()
	w2 := httptest.NewRecorder()
	h.GetHealth(w2, req)
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("second GetHealth status = %d, want 503", w2.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 transition log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "error_rate_breach" {
		t.Errorf("transition fields = %v", fields)
	}

	w3 := httptest.NewRecorder()
	h.GetHealth(w3, req)
	if logs.Len() != 1 {
		t.Errorf("unchanged status should not log; total logs = %d, want 1", logs.Len())
	}
}

func TestHandler_GetDataset_DebugLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	env := newTestEnv(t, nil, zap.New(core))

	env.get("/ndw/incidents")
	env.get("/ndw/incidents")

	misses := logs.FilterMessage("cache miss, fetching upstream").All()
	if len(misses) != 1 {
		t.Fatalf("cache miss logs = %d, want 1", len(misses))
	}
	if misses[0].ContextMap()["correlation_id"] == nil {
		t.Error("request logger missing correlation_id")
	}
	if logs.FilterMessage("cache hit").Len() != 1 {
		t.Errorf("cache hit logs = %d, want 1", logs.FilterMessage("cache hit").Len())
	}
	if logs.FilterMessage("upstream fetch").Len() != 1 {
		t.Errorf("upstream fetch logs = %d, want 1", logs.FilterMessage("upstream fetch").Len())
	}
}
