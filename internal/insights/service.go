package insights

import (
	"context"
	"sort"
	"time"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/internal/storage/sqlite"
	"github.com/rjenkins/airmarket/pkg/logger"
	"github.com/rjenkins/airmarket/pkg/metrics"
)

// Service assembles market briefs from storage, runs generation and
// persists the results. Insights are append-only; regeneration adds a
// new batch rather than replacing the old one.
type Service struct {
	generator    *Generator
	observations *sqlite.ObservationStorage
	summaries    *sqlite.SummaryStorage
	demand       *sqlite.DemandStorage
	insights     *sqlite.InsightStorage
	cfg          config.InsightsConfig
	metrics      *metrics.Metrics
	logger       *logger.Logger
}

// NewService creates the insights service.
func NewService(
	generator *Generator,
	observations *sqlite.ObservationStorage,
	summaries *sqlite.SummaryStorage,
	demand *sqlite.DemandStorage,
	insights *sqlite.InsightStorage,
	cfg config.InsightsConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	return &Service{
		generator:    generator,
		observations: observations,
		summaries:    summaries,
		demand:       demand,
		insights:     insights,
		cfg:          cfg,
		metrics:      m,
		logger:       log.Named("insights-service"),
	}
}

// Generate builds a brief over the most significant routes, generates
// insights and persists them. A non-empty scope other than "global"
// restricts the brief to that route.
func (s *Service) Generate(ctx context.Context, scope string) ([]*market.Insight, error) {
	brief, err := s.buildBrief(scope)
	if err != nil {
		return nil, err
	}

	insights, err := s.generator.Generate(ctx, brief)
	if err != nil {
		return nil, err
	}

	if err := s.insights.InsertBatch(insights); err != nil {
		return nil, err
	}

	for _, insight := range insights {
		s.metrics.InsightsGenerated.WithLabelValues(insight.GeneratedBy).Inc()
	}
	s.logger.Info("Generated insights",
		logger.Int("count", len(insights)),
		logger.Int("routes", len(brief.Routes)),
		logger.Bool("fallback", len(insights) > 0 && insights[0].Fallback))

	return insights, nil
}

// Recent returns the newest insights across all scopes.
func (s *Service) Recent(limit int) ([]*market.Insight, error) {
	return s.insights.Recent(limit)
}

// ByScope returns the newest insights for one scope.
func (s *Service) ByScope(scope string, limit int) ([]*market.Insight, error) {
	return s.insights.ByScope(scope, limit)
}

// buildBrief ranks routes by significance and assembles the generation
// input. Routes with a moving price trend rank above stable ones; ties
// break on flight count.
func (s *Service) buildBrief(scope string) (*MarketBrief, error) {
	summaries, err := s.summaries.LatestPerRoute(0)
	if err != nil {
		return nil, err
	}
	if scope != "" && scope != market.InsightScopeGlobal {
		route, err := market.ParseRouteKey(scope)
		if err != nil {
			return nil, &market.InsightGenerationError{Reason: "invalid scope", Err: err}
		}
		filtered := summaries[:0]
		for _, sum := range summaries {
			if sum.Route == route {
				filtered = append(filtered, sum)
			}
		}
		summaries = filtered
	}
	if len(summaries) == 0 {
		return nil, &market.InsightGenerationError{Reason: "no route summaries available"}
	}

	signals, err := s.demand.LatestPerRoute(0)
	if err != nil {
		return nil, err
	}
	demandByRoute := make(map[string]market.DemandLevel, len(signals))
	for _, sig := range signals {
		demandByRoute[sig.Route.Key()] = sig.DemandLevel
	}

	total, _, err := s.observations.Totals()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		iMoving := summaries[i].PriceTrend != market.TrendStable
		jMoving := summaries[j].PriceTrend != market.TrendStable
		if iMoving != jMoving {
			return iMoving
		}
		return summaries[i].FlightCount > summaries[j].FlightCount
	})
	if len(summaries) > s.cfg.MaxRoutes {
		summaries = summaries[:s.cfg.MaxRoutes]
	}

	routes := make([]RouteBrief, len(summaries))
	for i, sum := range summaries {
		routes[i] = RouteBrief{
			Route:       sum.Route.Key(),
			AvgPrice:    sum.AvgPrice.StringFixed(2),
			MinPrice:    sum.MinPrice.StringFixed(2),
			MaxPrice:    sum.MaxPrice.StringFixed(2),
			FlightCount: sum.FlightCount,
			PriceTrend:  sum.PriceTrend,
			DemandLevel: demandByRoute[sum.Route.Key()],
			WindowStart: sum.WindowStart.Format(time.RFC3339),
			SummaryID:   sum.ID,
		}
	}

	return &MarketBrief{
		Routes:            routes,
		TotalObservations: total,
		GeneratedFor:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}
