package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/ndw-feed-service/internal/observability"
)

// DatasetFetcher is implemented by the service layer to load a dataset into the cache.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type DatasetFetcher interface {
	WarmDataset(ctx context.Context, name string) error
}

// CacheWarmer prefetches slow-changing datasets so the first request is a hit.
type CacheWarmer struct {
	fetcher DatasetFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher DatasetFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm loads every dataset concurrently. Failures are joined into one error;
// successful datasets stay cached.
func (w *CacheWarmer) Warm(ctx context.Context, datasets []string) error {
	if len(datasets) == 0 {
		return nil
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Strings("datasets", datasets))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range datasets {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := w.fetcher.WarmDataset(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", name, err))
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("datasets", len(datasets)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, datasets []string, interval time.Duration) error {
	if err := w.Warm(ctx, datasets); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, datasets); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
