package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/ndw-feed-service/internal/cache"
	"github.com/kjstillabower/ndw-feed-service/internal/client"
	"github.com/kjstillabower/ndw-feed-service/internal/datex"
	"github.com/kjstillabower/ndw-feed-service/internal/msi"
	"github.com/kjstillabower/ndw-feed-service/internal/observability"
	"github.com/kjstillabower/ndw-feed-service/internal/region"
	"github.com/kjstillabower/ndw-feed-service/internal/xmltree"
)

// ErrUnknownDataset is wrapped by UnknownDatasetError.
var ErrUnknownDataset = errors.New("unknown dataset")

// UnknownDatasetError reports a dataset name that is not in the registry.
type UnknownDatasetError struct {
	Name      string
	Available []string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("unknown dataset: %s", e.Name)
}

func (e *UnknownDatasetError) Unwrap() error { return ErrUnknownDataset }

const siteTableKey = "measurement-sites"

// Result is a dataset response: the collection, the TTL it is cached for and
// whether it came from the cache.
type Result struct {
	Collection *geojson.FeatureCollection
	TTL        time.Duration
	Cached     bool
}

// Options configure a FeedService. Zero values select defaults.
type Options struct {
	Area             region.Region
	MatchThresholdKm float64
	CoalesceTimeout  time.Duration
	ReferenceTTL     time.Duration
	// ReferenceClock overrides the reference cache clock in tests.
	ReferenceClock gcache.Clock
}

// FeedService serves normalized NDW datasets using cache-aside with
// single-flight upstream loads.
type FeedService struct {
	client          client.FeedClient
	cache           cache.Cache
	registry        *Registry
	area            region.Region
	matcher         *msi.Matcher
	sites           *cache.ReferenceCache[datex.SiteTable]
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer[*geojson.FeatureCollection]
	siteCoalescer   *requestCoalescer[datex.SiteTable]
}

// NewFeedService creates a FeedService over the given client, cache and registry.
func NewFeedService(c client.FeedClient, dc cache.Cache, registry *Registry, opts Options) *FeedService {
	area := opts.Area
	if area == (region.Region{}) {
		area = region.Default()
	}
	return &FeedService{
		client:          c,
		cache:           dc,
		registry:        registry,
		area:            area,
		matcher:         msi.NewMatcher(opts.MatchThresholdKm),
		sites:           cache.NewReferenceCache[datex.SiteTable](opts.ReferenceTTL, opts.ReferenceClock),
		stampedeTracker: newStampedeTracker(),
		coalescer:       newRequestCoalescer[*geojson.FeatureCollection](opts.CoalesceTimeout),
		siteCoalescer:   newRequestCoalescer[datex.SiteTable](opts.CoalesceTimeout),
	}
}

// Registry returns the dataset registry.
func (s *FeedService) Registry() *Registry {
	return s.registry
}

// GetDataset returns the named dataset, from cache while fresh, otherwise
// from one upstream load shared by all concurrent callers.
func (s *FeedService) GetDataset(ctx context.Context, name string) (Result, error) {
	d, ok := s.registry.Lookup(name)
	if !ok {
		return Result{}, &UnknownDatasetError{Name: name, Available: s.registry.Names()}
	}
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)
	label := observability.MetricDatasetLabel(d.Name)
	observability.RecordDatasetRequest(d.Name)

	if fc, ok := s.cacheGet(ctx, logger, d.Name); ok {
		logger.Debug("dataset served", zap.String("dataset", d.Name), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return Result{Collection: fc, TTL: d.TTL, Cached: true}, nil
	}

	concurrentMisses := s.stampedeTracker.RecordMiss(d.Name)
	defer s.stampedeTracker.Resolve(d.Name)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(label).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(label).Observe(float64(concurrentMisses))
	}
	logger.Debug("cache miss, fetching upstream", zap.String("dataset", d.Name), zap.Strings("files", d.Files))

	waitStart := time.Now()
	fc, shared, err := s.coalescer.GetOrDo(ctx, d.Name, func(loadCtx context.Context) (*geojson.FeatureCollection, error) {
		// A load that finished after our miss but before this one started has
		// already stored the collection.
		if fc, ok, err := s.cache.Get(loadCtx, d.Name); err == nil && ok {
			logger.Debug("cache filled by concurrent load", zap.String("dataset", d.Name))
			return fc, nil
		}
		return s.load(loadCtx, logger, d)
	})
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(label).Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	if err != nil {
		return Result{}, fmt.Errorf("dataset %s: %w", d.Name, err)
	}
	logger.Debug("dataset served",
		zap.String("dataset", d.Name),
		zap.Bool("cached", false),
		zap.Bool("coalesced", shared),
		zap.Int("features", len(fc.Features)),
		zap.Duration("duration", time.Since(start)),
	)
	return Result{Collection: fc, TTL: d.TTL, Cached: false}, nil
}

// WarmDataset loads name into the cache. It implements cache.DatasetFetcher.
func (s *FeedService) WarmDataset(ctx context.Context, name string) error {
	_, err := s.GetDataset(ctx, name)
	return err
}

func (s *FeedService) cacheGet(ctx context.Context, logger *zap.Logger, key string) (*geojson.FeatureCollection, bool) {
	getStart := time.Now()
	fc, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("dataset", key), zap.Error(err))
		return nil, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	if !ok {
		observability.CacheMissesTotal.WithLabelValues("dataset").Inc()
		return nil, false
	}
	observability.CacheHitsTotal.WithLabelValues("dataset").Inc()
	logger.Debug("cache hit", zap.String("dataset", key))
	return fc, true
}

func (s *FeedService) cacheSet(ctx context.Context, logger *zap.Logger, key string, fc *geojson.FeatureCollection, ttl time.Duration) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, fc, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("dataset", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// load fetches, decodes and transforms d, then caches the result.
func (s *FeedService) load(ctx context.Context, logger *zap.Logger, d Dataset) (*geojson.FeatureCollection, error) {
	fc, err := s.build(ctx, logger, d)
	if err != nil {
		return nil, err
	}
	observability.DatasetFeatures.WithLabelValues(observability.MetricDatasetLabel(d.Name)).Set(float64(len(fc.Features)))
	s.cacheSet(ctx, logger, d.Name, fc, d.TTL)
	return fc, nil
}

func (s *FeedService) build(ctx context.Context, logger *zap.Logger, d Dataset) (*geojson.FeatureCollection, error) {
	switch d.Kind {
	case KindSituations, KindEmission, KindVMS:
		root, err := s.fetchTree(ctx, logger, d.Files[0])
		if err != nil {
			return nil, err
		}
		defer s.observeTransform(d.Name, time.Now())
		switch d.Kind {
		case KindEmission:
			return datex.EmissionZones(root, s.area), nil
		case KindVMS:
			return datex.VMSTable(root, s.area), nil
		}
		return datex.Situations(root, d.Name, s.area), nil

	case KindMSI:
		var (
			gantryRoot *xmltree.Node
			signBody   []byte
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			gantryRoot, err = s.fetchTree(gctx, logger, d.Files[0])
			return err
		})
		g.Go(func() (err error) {
			signBody, err = s.fetch(gctx, logger, d.Files[1])
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		defer s.observeTransform(d.Name, time.Now())
		gantries := datex.Gantries(gantryRoot, s.area)
		signs := msi.Accumulate(msi.ExtractEvents(signBody))
		logger.Debug("matching signs", zap.Int("gantries", len(gantries)), zap.Int("signs", len(signs)))
		return s.matcher.Match(gantries, signs), nil

	case KindTruckParking:
		var tableRoot, statusRoot *xmltree.Node
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			tableRoot, err = s.fetchTree(gctx, logger, d.Files[0])
			return err
		})
		g.Go(func() (err error) {
			statusRoot, err = s.fetchTree(gctx, logger, d.Files[1])
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		defer s.observeTransform(d.Name, time.Now())
		return datex.TruckParking(statusRoot, datex.ParkingTable(tableRoot), s.area), nil

	case KindTrafficSpeed:
		var (
			sites     datex.SiteTable
			speedRoot *xmltree.Node
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			sites, err = s.siteTable(gctx, logger, d.Files[0])
			return err
		})
		g.Go(func() (err error) {
			speedRoot, err = s.fetchTree(gctx, logger, d.Files[1])
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		defer s.observeTransform(d.Name, time.Now())
		return datex.TrafficSpeed(speedRoot, sites), nil
	}
	return nil, fmt.Errorf("dataset %s: unsupported kind %q", d.Name, d.Kind)
}

// siteTable returns the measurement-site table, loading it at most once per
// reference TTL.
func (s *FeedService) siteTable(ctx context.Context, logger *zap.Logger, file string) (datex.SiteTable, error) {
	if sites, ok := s.sites.Get(siteTableKey); ok {
		observability.CacheHitsTotal.WithLabelValues("reference").Inc()
		return sites, nil
	}
	observability.CacheMissesTotal.WithLabelValues("reference").Inc()
	sites, _, err := s.siteCoalescer.GetOrDo(ctx, siteTableKey, func(loadCtx context.Context) (datex.SiteTable, error) {
		root, err := s.fetchTree(loadCtx, logger, file)
		if err != nil {
			return nil, err
		}
		sites := datex.MeasurementSites(root, s.area)
		s.sites.Set(siteTableKey, sites)
		logger.Debug("measurement site table loaded", zap.Int("sites", len(sites)))
		return sites, nil
	})
	return sites, err
}

func (s *FeedService) fetch(ctx context.Context, logger *zap.Logger, file string) ([]byte, error) {
	start := time.Now()
	body, err := s.client.Fetch(ctx, file)
	if err != nil {
		logger.Debug("upstream fetch failed", zap.String("file", file), zap.Error(err))
		return nil, err
	}
	logger.Debug("upstream fetch", zap.String("file", file), zap.Int("bytes", len(body)), zap.Duration("duration", time.Since(start)))
	return body, nil
}

func (s *FeedService) fetchTree(ctx context.Context, logger *zap.Logger, file string) (*xmltree.Node, error) {
	body, err := s.fetch(ctx, logger, file)
	if err != nil {
		return nil, err
	}
	root, err := xmltree.DecodeBytes(body, datex.ArrayPaths)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return root, nil
}

func (s *FeedService) observeTransform(dataset string, start time.Time) {
	observability.TransformDurationSeconds.WithLabelValues(observability.MetricDatasetLabel(dataset)).Observe(time.Since(start).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
