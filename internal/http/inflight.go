package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kjstillabower/ndw-feed-service/internal/observability"
)

// InFlightTracker counts dataset, catalog and health requests that are still
// being written, so shutdown can drain them before closing the cache.
type InFlightTracker struct {
	count atomic.Int64
	gauge prometheus.Gauge
}

// Begin marks a request as started and returns the func that ends it.
func (t *InFlightTracker) Begin() (end func()) {
	t.count.Add(1)
	if t.gauge != nil {
		t.gauge.Inc()
	}
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		t.count.Add(-1)
		if t.gauge != nil {
			t.gauge.Dec()
		}
	}
}

// Count returns the number of requests in flight.
func (t *InFlightTracker) Count() int64 {
	return t.count.Load()
}

// Drain polls every interval until no request is in flight or ctx is done.
func (t *InFlightTracker) Drain(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for t.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

var globalInFlightTracker = &InFlightTracker{gauge: observability.HTTPRequestsInFlight}

// InFlightCount returns the process-wide in-flight request count.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until every request routed through MetricsMiddleware
// has finished or ctx is done.
func WaitForInFlight(ctx context.Context, interval time.Duration) error {
	return globalInFlightTracker.Drain(ctx, interval)
}
