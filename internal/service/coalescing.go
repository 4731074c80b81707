package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest is one upstream load that several callers may wait for.
type inFlightRequest[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// requestCoalescer collapses concurrent loads of the same key into one call.
// The load runs on a context detached from the first caller, so a caller that
// goes away does not fail the others; timeout bounds the load itself.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer. A non-positive timeout
// leaves the load bounded only by fn.
func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightRequest[T]),
		timeout:  timeout,
	}
}

// GetOrDo joins the load for key if one is running, otherwise starts fn.
// shared reports whether the caller joined an existing load. Waiting stops
// when ctx is done; the load keeps running for the remaining waiters.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func(context.Context) (T, error)) (result T, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest[T]{done: make(chan struct{})}
		rc.inFlight[key] = req
		go rc.run(ctx, key, req, fn)
	}
	rc.mu.Unlock()

	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-ctx.Done():
		var zero T
		return zero, exists, ctx.Err()
	}
}

func (rc *requestCoalescer[T]) run(ctx context.Context, key string, req *inFlightRequest[T], fn func(context.Context) (T, error)) {
	loadCtx := context.WithoutCancel(ctx)
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(loadCtx, rc.timeout)
		defer cancel()
	}

	req.result, req.err = fn(loadCtx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(req.done)
}

// inFlightCount returns the number of loads currently running.
func (rc *requestCoalescer[T]) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
