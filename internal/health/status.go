package health

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Status values reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusIdle         = "idle"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received;
// /health answers 503 shutting-down while it is set.
func SetShuttingDown(v bool) { shuttingDown.Store(v) }

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool { return shuttingDown.Load() }

// Config holds lifecycle thresholds.
type Config struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	StartTime              time.Time
	// UpstreamOpen reports whether the upstream circuit breaker is open.
	UpstreamOpen func() bool
}

// Result is one status evaluation.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Checker evaluates Config against a Tracker.
type Checker struct {
	cfg     Config
	tracker *Tracker
	now     func() time.Time
}

// NewChecker returns a Checker over the process-wide tracker.
func NewChecker(cfg Config) *Checker {
	return &Checker{cfg: cfg, tracker: defaultTracker, now: time.Now}
}

// Evaluate derives the status. Order: shutting-down > overloaded > idle >
// degraded > healthy.
func (c *Checker) Evaluate() Result {
	if IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	cfg := c.cfg
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(c.tracker.RequestCount(cfg.OverloadWindow)) > threshold {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.IdleWindow > 0 && cfg.MinimumLifespan > 0 && c.now().Sub(cfg.StartTime) >= cfg.MinimumLifespan {
		perMinute := float64(c.tracker.ServedCount(cfg.IdleWindow)) / cfg.IdleWindow.Minutes()
		if perMinute < float64(cfg.IdleThresholdReqPerMin) {
			return Result{StatusIdle, http.StatusOK, "low_traffic"}
		}
	}
	if cfg.UpstreamOpen != nil && cfg.UpstreamOpen() {
		return Result{StatusDegraded, http.StatusServiceUnavailable, "circuit_open"}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errors, total := c.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errors)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return Result{StatusHealthy, http.StatusOK, ""}
}

// UpstreamHealthy reports whether the upstream dependency is currently usable.
func (c *Checker) UpstreamHealthy() bool {
	return c.cfg.UpstreamOpen == nil || !c.cfg.UpstreamOpen()
}
