package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

type fakeObservations struct {
	byWindow map[time.Time][]*market.FlightObservation
	err      error
}

func (f *fakeObservations) ByRouteWindow(route market.Route, window market.Window) ([]*market.FlightObservation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byWindow[window.Start], nil
}

type fakeSummaries struct {
	byWindowStart map[time.Time]*market.RouteSummary
}

func (f *fakeSummaries) LatestForWindow(route market.Route, windowStart time.Time) (*market.RouteSummary, error) {
	return f.byWindowStart[windowStart], nil
}

func obs(price string, flightDate time.Time) *market.FlightObservation {
	return &market.FlightObservation{
		Source:      market.SourceSample,
		Airline:     "QF",
		Origin:      "SYD",
		Destination: "MEL",
		Price:       decimal.RequireFromString(price),
		Currency:    "AUD",
		FlightDate:  flightDate,
		ObservedAt:  flightDate,
	}
}

func testWindow() market.Window {
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	return market.Window{Start: start, End: start.Add(24 * time.Hour)}
}

func TestAggregateComputesSummaryStats(t *testing.T) {
	window := testWindow()
	route := market.Route{Origin: "SYD", Destination: "MEL"}

	observations := &fakeObservations{byWindow: map[time.Time][]*market.FlightObservation{
		window.Start: {
			obs("120.00", window.Start.Add(2*time.Hour)),
			obs("150.00", window.Start.Add(8*time.Hour)),
			obs("600.00", window.Start.Add(20*time.Hour)),
		},
	}}

	agg := NewAggregator(observations, &fakeSummaries{}, AggregatorConfig{
		TrendThreshold:  0.10,
		MinTrendSamples: 3,
	}, logger.NewNop())

	summary, err := agg.Aggregate(context.Background(), route, window)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if summary.FlightCount != 3 {
		t.Errorf("FlightCount = %d, want 3", summary.FlightCount)
	}
	if want := decimal.RequireFromString("290.00"); !summary.AvgPrice.Equal(want) {
		t.Errorf("AvgPrice = %s, want %s", summary.AvgPrice, want)
	}
	if want := decimal.RequireFromString("120.00"); !summary.MinPrice.Equal(want) {
		t.Errorf("MinPrice = %s, want %s", summary.MinPrice, want)
	}
	if want := decimal.RequireFromString("600.00"); !summary.MaxPrice.Equal(want) {
		t.Errorf("MaxPrice = %s, want %s", summary.MaxPrice, want)
	}
	if summary.PriceTrend != market.TrendStable {
		t.Errorf("PriceTrend = %s, want STABLE with no prior window", summary.PriceTrend)
	}
}

func TestAggregateEmptyWindow(t *testing.T) {
	window := testWindow()
	route := market.Route{Origin: "SYD", Destination: "MEL"}

	agg := NewAggregator(&fakeObservations{byWindow: map[time.Time][]*market.FlightObservation{}},
		&fakeSummaries{}, AggregatorConfig{TrendThreshold: 0.10, MinTrendSamples: 3}, logger.NewNop())

	_, err := agg.Aggregate(context.Background(), route, window)
	var aggErr *market.AggregationError
	if !errors.As(err, &aggErr) {
		t.Fatalf("expected AggregationError, got %v", err)
	}
}

func TestAggregateTrend(t *testing.T) {
	window := testWindow()
	route := market.Route{Origin: "SYD", Destination: "MEL"}

	prior := func(avg string, count int) *market.RouteSummary {
		return &market.RouteSummary{
			Route:       route,
			WindowStart: window.Previous().Start,
			WindowEnd:   window.Previous().End,
			AvgPrice:    decimal.RequireFromString(avg),
			FlightCount: count,
			PriceTrend:  market.TrendStable,
		}
	}

	tests := []struct {
		name     string
		prices   []string
		previous *market.RouteSummary
		want     market.PriceTrend
	}{
		{
			name:   "rise above threshold",
			prices: []string{"230.00", "230.00", "230.00"},
			// 230 vs 200 is +15%
			previous: prior("200.00", 3),
			want:     market.TrendUp,
		},
		{
			name:     "drop below threshold",
			prices:   []string{"170.00", "170.00", "170.00"},
			previous: prior("200.00", 3),
			want:     market.TrendDown,
		},
		{
			name:   "exactly at threshold stays stable",
			prices: []string{"220.00", "220.00", "220.00"},
			// 220 vs 200 is exactly +10%, not strictly greater
			previous: prior("200.00", 3),
			want:     market.TrendStable,
		},
		{
			name:     "too few samples in current window",
			prices:   []string{"500.00"},
			previous: prior("200.00", 3),
			want:     market.TrendStable,
		},
		{
			name:     "too few samples in previous window",
			prices:   []string{"500.00", "500.00", "500.00"},
			previous: prior("200.00", 1),
			want:     market.TrendStable,
		},
		{
			name:     "zero baseline stays stable",
			prices:   []string{"500.00", "500.00", "500.00"},
			previous: prior("0.00", 3),
			want:     market.TrendStable,
		},
		{
			name:     "no previous window",
			prices:   []string{"500.00", "500.00", "500.00"},
			previous: nil,
			want:     market.TrendStable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windowObs := make([]*market.FlightObservation, len(tt.prices))
			for i, p := range tt.prices {
				windowObs[i] = obs(p, window.Start.Add(time.Duration(i)*time.Hour))
			}
			observations := &fakeObservations{byWindow: map[time.Time][]*market.FlightObservation{
				window.Start: windowObs,
			}}
			summaries := &fakeSummaries{byWindowStart: map[time.Time]*market.RouteSummary{}}
			if tt.previous != nil {
				summaries.byWindowStart[window.Previous().Start] = tt.previous
			}

			agg := NewAggregator(observations, summaries, AggregatorConfig{
				TrendThreshold:  0.10,
				MinTrendSamples: 3,
			}, logger.NewNop())

			summary, err := agg.Aggregate(context.Background(), route, window)
			if err != nil {
				t.Fatalf("Aggregate returned error: %v", err)
			}
			if summary.PriceTrend != tt.want {
				t.Errorf("PriceTrend = %s, want %s", summary.PriceTrend, tt.want)
			}
		})
	}
}

func TestAggregateDeterministic(t *testing.T) {
	window := testWindow()
	route := market.Route{Origin: "SYD", Destination: "MEL"}

	observations := &fakeObservations{byWindow: map[time.Time][]*market.FlightObservation{
		window.Start: {
			obs("101.33", window.Start.Add(1*time.Hour)),
			obs("202.67", window.Start.Add(2*time.Hour)),
			obs("303.99", window.Start.Add(3*time.Hour)),
		},
	}}
	agg := NewAggregator(observations, &fakeSummaries{}, AggregatorConfig{
		TrendThreshold:  0.10,
		MinTrendSamples: 3,
	}, logger.NewNop())

	first, err := agg.Aggregate(context.Background(), route, window)
	if err != nil {
		t.Fatalf("first Aggregate: %v", err)
	}
	second, err := agg.Aggregate(context.Background(), route, window)
	if err != nil {
		t.Fatalf("second Aggregate: %v", err)
	}

	if !first.AvgPrice.Equal(second.AvgPrice) || !first.MinPrice.Equal(second.MinPrice) ||
		!first.MaxPrice.Equal(second.MaxPrice) || first.FlightCount != second.FlightCount ||
		first.PriceTrend != second.PriceTrend {
		t.Errorf("re-aggregation produced different values: %+v vs %+v", first, second)
	}
}
