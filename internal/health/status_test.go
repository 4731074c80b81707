package health

import (
	"net/http"
	"testing"
	"time"
)

func newTestChecker(cfg Config, clock *fakeClock) (*Checker, *Tracker) {
	tr := NewTracker(clock.Now)
	return &Checker{cfg: cfg, tracker: tr, now: clock.Now}, tr
}

// TestChecker_Evaluate verifies the status priority order and thresholds.
func TestChecker_Evaluate(t *testing.T) {
	base := Config{
		OverloadWindow:         time.Minute,
		OverloadThresholdPct:   50,
		RateLimitRPS:           1, // threshold = 30 requests per minute
		IdleWindow:             time.Minute,
		IdleThresholdReqPerMin: 2,
		MinimumLifespan:        time.Minute,
		DegradedWindow:         time.Minute,
		DegradedErrorPct:       50,
	}

	tests := []struct {
		name       string
		cfg        func(Config) Config
		record     func(*Tracker)
		wantStatus string
		wantCode   int
	}{
		{
			name:       "healthy with steady successes",
			record:     func(tr *Tracker) { tr.RecordSuccess(); tr.RecordSuccess(); tr.RecordSuccess() },
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "idle below threshold after minimum lifespan",
			record:     func(tr *Tracker) { tr.RecordSuccess() },
			wantStatus: StatusIdle,
			wantCode:   http.StatusOK,
		},
		{
			name: "overloaded beats idle and degraded",
			record: func(tr *Tracker) {
				for i := 0; i < 31; i++ {
					tr.RecordDenied()
				}
			},
			wantStatus: StatusOverloaded,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "degraded on error rate",
			record: func(tr *Tracker) {
				tr.RecordSuccess()
				tr.RecordError()
				tr.RecordError()
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "degraded when circuit is open",
			cfg: func(c Config) Config {
				c.UpstreamOpen = func() bool { return true }
				return c
			},
			record:     func(tr *Tracker) { tr.RecordSuccess(); tr.RecordSuccess(); tr.RecordSuccess() },
			wantStatus: StatusDegraded,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cfg := base
			cfg.StartTime = clock.Now().Add(-2 * time.Minute)
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			c, tr := newTestChecker(cfg, clock)
			tt.record(tr)

			got := c.Evaluate()
			if got.Status != tt.wantStatus || got.StatusCode != tt.wantCode {
				t.Errorf("Evaluate() = %+v, want status %s code %d", got, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

// TestChecker_IdleSuppressedDuringMinimumLifespan verifies that a freshly
// started process is never reported idle.
func TestChecker_IdleSuppressedDuringMinimumLifespan(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestChecker(Config{
		IdleWindow:             time.Minute,
		IdleThresholdReqPerMin: 5,
		MinimumLifespan:        10 * time.Minute,
		StartTime:              clock.Now(),
	}, clock)
	if got := c.Evaluate().Status; got != StatusHealthy {
		t.Errorf("Evaluate().Status = %s, want healthy", got)
	}
}

// TestChecker_ShuttingDownWins verifies the shutdown flag overrides everything.
func TestChecker_ShuttingDownWins(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)

	c, _ := newTestChecker(Config{UpstreamOpen: func() bool { return true }}, newFakeClock())
	got := c.Evaluate()
	if got.Status != StatusShuttingDown || got.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Evaluate() = %+v, want shutting-down/503", got)
	}
	if c.UpstreamHealthy() {
		t.Error("UpstreamHealthy() = true with open circuit")
	}
}
