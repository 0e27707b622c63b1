package analysis

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// ObservationSource is the read seam the aggregator needs from storage.
type ObservationSource interface {
	ByRouteWindow(route market.Route, window market.Window) ([]*market.FlightObservation, error)
}

// SummarySource provides previously computed summaries for trend
// comparison.
type SummarySource interface {
	LatestForWindow(route market.Route, windowStart time.Time) (*market.RouteSummary, error)
}

// AggregatorConfig holds trend-computation tuning.
type AggregatorConfig struct {
	// TrendThreshold is the fraction of the previous window's average
	// price that the delta must exceed before a trend is declared.
	TrendThreshold float64
	// MinTrendSamples is the minimum observation count a window needs
	// before its delta is trusted; below it the trend is forced STABLE.
	MinTrendSamples int
}

// Aggregator computes route summaries over observation windows. Safe to
// re-run: the same window with unchanged observations yields identical
// summary values.
type Aggregator struct {
	observations ObservationSource
	summaries    SummarySource
	threshold    decimal.Decimal
	minSamples   int
	logger       *logger.Logger
}

// NewAggregator creates a new route aggregator.
func NewAggregator(observations ObservationSource, summaries SummarySource, cfg AggregatorConfig, logger *logger.Logger) *Aggregator {
	return &Aggregator{
		observations: observations,
		summaries:    summaries,
		threshold:    decimal.NewFromFloat(cfg.TrendThreshold),
		minSamples:   cfg.MinTrendSamples,
		logger:       logger.Named("aggregator"),
	}
}

// Aggregate computes the summary for one (route, window) pair. The
// trend compares this window's average price against the immediately
// preceding window's latest summary for the same route.
func (a *Aggregator) Aggregate(ctx context.Context, route market.Route, window market.Window) (*market.RouteSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	observations, err := a.observations.ByRouteWindow(route, window)
	if err != nil {
		return nil, &market.AggregationError{Route: route, Window: window, Reason: "failed to load observations", Err: err}
	}
	if len(observations) == 0 {
		return nil, &market.AggregationError{Route: route, Window: window, Reason: "no observations in window"}
	}

	prices := make([]decimal.Decimal, len(observations))
	for i, obs := range observations {
		prices[i] = obs.Price
	}

	minPrice, maxPrice := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p.LessThan(minPrice) {
			minPrice = p
		}
		if p.GreaterThan(maxPrice) {
			maxPrice = p
		}
	}
	avgPrice := decimal.Avg(prices[0], prices[1:]...).Round(2)

	summary := &market.RouteSummary{
		Route:       route,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		AvgPrice:    avgPrice,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		FlightCount: len(observations),
		PriceTrend:  market.TrendStable,
		ComputedAt:  time.Now().UTC(),
	}

	trend, err := a.computeTrend(route, window, avgPrice, len(observations))
	if err != nil {
		return nil, &market.AggregationError{Route: route, Window: window, Reason: "failed to compute trend", Err: err}
	}
	summary.PriceTrend = trend

	a.logger.Debug("Aggregated route window",
		logger.String("route", route.Key()),
		logger.Time("window_start", window.Start),
		logger.Int("flight_count", summary.FlightCount),
		logger.String("avg_price", summary.AvgPrice.String()),
		logger.String("trend", string(summary.PriceTrend)))

	return summary, nil
}

// computeTrend classifies the price movement against the preceding
// window. STABLE wins whenever the comparison is not trustworthy: no
// prior summary, too few samples on either side, or a zero baseline.
func (a *Aggregator) computeTrend(route market.Route, window market.Window, avgPrice decimal.Decimal, sampleCount int) (market.PriceTrend, error) {
	if sampleCount < a.minSamples {
		return market.TrendStable, nil
	}

	previous, err := a.summaries.LatestForWindow(route, window.Previous().Start)
	if err != nil {
		return market.TrendStable, err
	}
	if previous == nil || previous.FlightCount < a.minSamples {
		return market.TrendStable, nil
	}
	if previous.AvgPrice.IsZero() {
		return market.TrendStable, nil
	}

	delta := avgPrice.Sub(previous.AvgPrice).Div(previous.AvgPrice)
	switch {
	case delta.GreaterThan(a.threshold):
		return market.TrendUp, nil
	case delta.Neg().GreaterThan(a.threshold):
		return market.TrendDown, nil
	default:
		return market.TrendStable, nil
	}
}
