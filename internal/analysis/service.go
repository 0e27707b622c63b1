package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/internal/storage/sqlite"
	"github.com/rjenkins/airmarket/pkg/logger"
	"github.com/rjenkins/airmarket/pkg/metrics"
)

// SearchVolumeSource supplies external search volume for a route, or
// nil when the route has no signal. Implementations back onto booking
// analytics APIs; the estimator works without one.
type SearchVolumeSource interface {
	SearchVolume(ctx context.Context, route market.Route) (*int, error)
}

// Overview is the aggregate market snapshot served to dashboards.
type Overview struct {
	TotalObservations  int64                  `json:"total_observations"`
	AvgPrice           decimal.Decimal        `json:"avg_price"`
	TopRoutes          []sqlite.RouteVolume   `json:"top_routes"`
	DemandDistribution []sqlite.LevelCount    `json:"demand_distribution"`
	LatestSummaries    []*market.RouteSummary `json:"latest_summaries"`
}

// Service ties normalization, aggregation and demand estimation
// together over sqlite storage. Ingest and refresh for the same route
// are serialized through per-route locks so concurrent callers cannot
// interleave window recomputation.
type Service struct {
	normalizer   *market.Normalizer
	aggregator   *Aggregator
	estimator    *Estimator
	observations *sqlite.ObservationStorage
	summaries    *sqlite.SummaryStorage
	demand       *sqlite.DemandStorage
	searchVolume SearchVolumeSource
	cfg          config.AnalysisConfig
	metrics      *metrics.Metrics
	logger       *logger.Logger

	mu         sync.Mutex
	routeLocks map[string]*sync.Mutex
}

// NewService creates the analysis service. searchVolume may be nil.
func NewService(
	observations *sqlite.ObservationStorage,
	summaries *sqlite.SummaryStorage,
	demand *sqlite.DemandStorage,
	searchVolume SearchVolumeSource,
	cfg config.AnalysisConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	log = log.Named("analysis")
	return &Service{
		normalizer:   market.NewNormalizer(cfg.BaseCurrency, cfg.FXRates),
		aggregator: NewAggregator(observations, summaries, AggregatorConfig{
			TrendThreshold:  cfg.TrendThresholdPct,
			MinTrendSamples: cfg.MinTrendSamples,
		}, log),
		estimator: NewEstimator(EstimatorConfig{
			LowMax:            cfg.DemandLowMax,
			HighMin:           cfg.DemandHighMin,
			SearchVolumeBoost: cfg.SearchVolumeBoost,
		}),
		observations: observations,
		summaries:    summaries,
		demand:       demand,
		searchVolume: searchVolume,
		cfg:          cfg,
		metrics:      m,
		logger:       log,
		routeLocks:   make(map[string]*sync.Mutex),
	}
}

// lockRoute returns the mutex guarding one route, creating it on first
// use. Locks are never released from the map; the route set is small.
func (s *Service) lockRoute(route market.Route) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := route.Key()
	l, ok := s.routeLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.routeLocks[key] = l
	}
	return l
}

// Ingest normalizes a batch of raw provider records, persists the
// accepted observations and recomputes every (route, window) the batch
// touched. Rejected records are reported, never aborting the batch.
func (s *Service) Ingest(ctx context.Context, source market.Source, records []market.RawRecord) (*market.IngestReport, error) {
	report := &market.IngestReport{Source: source}

	accepted := make([]*market.FlightObservation, 0, len(records))
	touched := make(map[market.Route]map[time.Time]market.Window)
	for _, raw := range records {
		obs, err := s.normalizer.Normalize(raw, source)
		if err != nil {
			report.Rejected++
			if nerr, ok := err.(*market.NormalizationError); ok {
				report.Errors = append(report.Errors, nerr)
			}
			s.metrics.RecordsRejected.Inc()
			continue
		}
		accepted = append(accepted, obs)
		window := market.WindowFor(obs.FlightDate, s.cfg.WindowSize())
		route := obs.Route()
		if touched[route] == nil {
			touched[route] = make(map[time.Time]market.Window)
		}
		touched[route][window.Start] = window
	}

	if len(accepted) > 0 {
		inserted, err := s.observations.InsertBatch(accepted)
		if err != nil {
			s.metrics.ErrorsCount.WithLabelValues("ingest").Inc()
			return nil, err
		}
		report.Accepted = len(accepted)
		s.metrics.ObservationsIngested.Add(float64(inserted))

		s.logger.Info("Ingested observations",
			logger.String("source", string(source)),
			logger.Int("accepted", report.Accepted),
			logger.Int("rejected", report.Rejected),
			logger.Int("inserted", inserted))
	}

	for route, windows := range touched {
		lock := s.lockRoute(route)
		lock.Lock()
		for _, window := range windows {
			if err := s.refreshWindow(ctx, route, window); err != nil {
				lock.Unlock()
				return nil, err
			}
		}
		lock.Unlock()
	}

	return report, nil
}

// Refresh recomputes summaries and demand signals for every window a
// route has observations in, capped by the configured history limit.
// Returns the number of summaries updated.
func (s *Service) Refresh(ctx context.Context, route market.Route) (int, error) {
	lock := s.lockRoute(route)
	lock.Lock()
	defer lock.Unlock()

	dates, err := s.observations.FlightDatesForRoute(route)
	if err != nil {
		s.metrics.ErrorsCount.WithLabelValues("refresh").Inc()
		return 0, err
	}
	if len(dates) == 0 {
		return 0, &market.AggregationError{Route: route, Reason: "no observations for route"}
	}

	size := s.cfg.WindowSize()
	seen := make(map[time.Time]bool)
	windows := make([]market.Window, 0, len(dates))
	for _, d := range dates {
		w := market.WindowFor(d, size)
		if !seen[w.Start] {
			seen[w.Start] = true
			windows = append(windows, w)
		}
	}

	// Trend computation reads the previous window's summary, so older
	// windows must be recomputed before newer ones.
	if len(windows) > s.cfg.HistoryWindowLimit {
		windows = windows[len(windows)-s.cfg.HistoryWindowLimit:]
	}
	for _, window := range windows {
		if err := s.refreshWindow(ctx, route, window); err != nil {
			return 0, err
		}
	}

	s.logger.Info("Refreshed route",
		logger.String("route", route.Key()),
		logger.Int("windows", len(windows)))
	return len(windows), nil
}

// RefreshAll recomputes every known route using a bounded worker pool.
// Per-route failures are logged and counted; the first error is
// returned after all workers drain, along with the number of summaries
// updated across all routes.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	start := time.Now()
	routes, err := s.observations.DistinctRoutes()
	if err != nil {
		return 0, err
	}

	workers := s.cfg.RefreshWorkers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan market.Route)
	errs := make(chan error, len(routes))

	var updated int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for route := range jobs {
				n, err := s.Refresh(ctx, route)
				if err != nil {
					s.logger.Error("Route refresh failed",
						logger.String("route", route.Key()),
						logger.Error(err))
					s.metrics.ErrorsCount.WithLabelValues("refresh_all").Inc()
					errs <- err
					continue
				}
				atomic.AddInt64(&updated, int64(n))
			}
		}()
	}

	for _, route := range routes {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return int(atomic.LoadInt64(&updated)), ctx.Err()
		case jobs <- route:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	s.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("Refreshed all routes",
		logger.Int("routes", len(routes)),
		logger.Duration("elapsed", time.Since(start)))

	if err := <-errs; err != nil {
		return int(updated), err
	}
	return int(updated), nil
}

// refreshWindow recomputes one (route, window) pair. Callers must hold
// the route lock.
func (s *Service) refreshWindow(ctx context.Context, route market.Route, window market.Window) error {
	summary, err := s.aggregator.Aggregate(ctx, route, window)
	if err != nil {
		return err
	}

	id, err := s.summaries.Insert(summary)
	if err != nil {
		return err
	}
	summary.ID = id
	s.metrics.SummariesComputed.Inc()

	var volume *int
	if s.searchVolume != nil {
		volume, err = s.searchVolume.SearchVolume(ctx, route)
		if err != nil {
			// Demand falls back to flight counts alone.
			s.logger.Warn("Search volume lookup failed",
				logger.String("route", route.Key()),
				logger.Error(err))
			volume = nil
		}
	}

	signal := s.estimator.Estimate(summary, volume)
	if _, err := s.demand.Insert(signal); err != nil {
		return err
	}
	return nil
}

// LatestSummaries returns the newest summary per route.
func (s *Service) LatestSummaries(limit int) ([]*market.RouteSummary, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultQueryLimit
	}
	return s.summaries.LatestPerRoute(limit)
}

// SummariesForRoute returns the latest summary per window for one route
// across a window-start range. A zero 'to' means now.
func (s *Service) SummariesForRoute(route market.Route, from, to time.Time) ([]*market.RouteSummary, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-time.Duration(s.cfg.HistoryWindowLimit) * s.cfg.WindowSize())
	}
	return s.summaries.ByRouteRange(route, from, to)
}

// DemandForRoute returns the newest demand signal for a route, or nil
// when the route has never been refreshed.
func (s *Service) DemandForRoute(route market.Route) (*market.DemandSignal, error) {
	return s.demand.LatestForRoute(route)
}

// Overview assembles the market snapshot: volume totals, top routes by
// flight count, demand distribution and the latest summaries.
func (s *Service) Overview() (*Overview, error) {
	total, avg, err := s.observations.Totals()
	if err != nil {
		return nil, err
	}
	top, err := s.observations.PopularRoutes(s.cfg.OverviewRouteLimit)
	if err != nil {
		return nil, err
	}
	distribution, err := s.demand.Distribution()
	if err != nil {
		return nil, err
	}
	latest, err := s.summaries.LatestPerRoute(s.cfg.OverviewRouteLimit)
	if err != nil {
		return nil, err
	}
	return &Overview{
		TotalObservations:  total,
		AvgPrice:           avg,
		TopRoutes:          top,
		DemandDistribution: distribution,
		LatestSummaries:    latest,
	}, nil
}
