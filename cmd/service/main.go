package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/ndw-feed-service/internal/cache"
	"github.com/kjstillabower/ndw-feed-service/internal/circuitbreaker"
	"github.com/kjstillabower/ndw-feed-service/internal/client"
	"github.com/kjstillabower/ndw-feed-service/internal/config"
	"github.com/kjstillabower/ndw-feed-service/internal/health"
	httphandler "github.com/kjstillabower/ndw-feed-service/internal/http"
	"github.com/kjstillabower/ndw-feed-service/internal/observability"
	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ndwClient, err := client.NewNDWClient(cfg.NDWBaseURL, cfg.UpstreamTimeout)
	if err != nil {
		logger.Fatal("ndw client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "ndw",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("ndw", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("ndw", observability.CircuitBreakerStateValue(int(to)))
				logger.Warn("circuit breaker state change", zap.String("component", "ndw"), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		ndwClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("ndw", 0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		mem := cache.NewInMemoryCache()
		observability.RegisterCacheEntriesGauge(mem.Len)
		cacheSvc = mem
		logger.Info("cache backend: in_memory")
	}

	area := region.New(cfg.MinLat, cfg.MaxLat, cfg.MinLon, cfg.MaxLon)
	bound := area.Bound()
	logger.Info("feature region",
		zap.Float64s("min", []float64{bound.Min.Lon(), bound.Min.Lat()}),
		zap.Float64s("max", []float64{bound.Max.Lon(), bound.Max.Lat()}),
	)

	registry := service.NewRegistry(service.DefaultDatasets(), cfg.TTLOverrides)
	feedService := service.NewFeedService(ndwClient, cacheSvc, registry, service.Options{
		Area:             area,
		MatchThresholdKm: cfg.MatchThresholdKm,
		CoalesceTimeout:  cfg.CoalesceTimeout,
		ReferenceTTL:     cfg.ReferenceTTL,
	})
	observability.SetKnownDatasets(registry.Names())
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	checker := health.NewChecker(health.Config{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		StartTime:              time.Now(),
		UpstreamOpen:           ndwClient.CircuitOpen,
	})
	var cachePing func() error
	if memcacheCloser != nil {
		cachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(feedService, checker, cachePing, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if warm := knownDatasets(registry, cfg.WarmDatasets, logger); len(warm) > 0 {
		warmer := cache.NewCacheWarmer(feedService, logger)
		go func() {
			if err := warmer.WarmPeriodic(warmCtx, warm, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("ndw_base_url", cfg.NDWBaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	health.SetShuttingDown(true)
	stopWarming()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// knownDatasets drops warm-up names the registry does not serve.
func knownDatasets(registry *service.Registry, names []string, logger *zap.Logger) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := registry.Lookup(name); !ok {
			logger.Warn("ignoring unknown warm dataset", zap.String("dataset", name), zap.Strings("available", registry.Names()))
			continue
		}
		out = append(out, name)
	}
	return out
}
