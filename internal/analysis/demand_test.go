package analysis

import (
	"strings"
	"testing"

	"github.com/rjenkins/airmarket/internal/market"
)

func TestEstimateLevels(t *testing.T) {
	estimator := NewEstimator(EstimatorConfig{LowMax: 5, HighMin: 20, SearchVolumeBoost: 50})

	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name         string
		flightCount  int
		searchVolume *int
		want         market.DemandLevel
	}{
		{name: "at low cutoff", flightCount: 5, want: market.DemandLow},
		{name: "just above low cutoff", flightCount: 6, want: market.DemandMedium},
		{name: "at high cutoff", flightCount: 20, want: market.DemandMedium},
		{name: "just above high cutoff", flightCount: 21, want: market.DemandHigh},
		{name: "zero flights", flightCount: 0, want: market.DemandLow},
		{name: "search volume upgrades low", flightCount: 3, searchVolume: intPtr(50), want: market.DemandMedium},
		{name: "search volume upgrades medium", flightCount: 10, searchVolume: intPtr(120), want: market.DemandHigh},
		{name: "search volume below boost is ignored", flightCount: 3, searchVolume: intPtr(49), want: market.DemandLow},
		{name: "high stays high with search volume", flightCount: 30, searchVolume: intPtr(500), want: market.DemandHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := &market.RouteSummary{
				Route:       market.Route{Origin: "SYD", Destination: "MEL"},
				FlightCount: tt.flightCount,
			}
			signal := estimator.Estimate(summary, tt.searchVolume)
			if signal.DemandLevel != tt.want {
				t.Errorf("DemandLevel = %s, want %s", signal.DemandLevel, tt.want)
			}
		})
	}
}

func TestEstimateBasisMentionsSearchVolume(t *testing.T) {
	estimator := NewEstimator(EstimatorConfig{LowMax: 5, HighMin: 20, SearchVolumeBoost: 50})
	volume := 80
	summary := &market.RouteSummary{
		Route:       market.Route{Origin: "SYD", Destination: "MEL"},
		FlightCount: 3,
	}

	signal := estimator.Estimate(summary, &volume)
	if !strings.Contains(signal.Basis, "search volume 80") {
		t.Errorf("Basis = %q, expected it to mention search volume", signal.Basis)
	}
	if signal.SearchVolume == nil || *signal.SearchVolume != 80 {
		t.Errorf("SearchVolume not carried through: %v", signal.SearchVolume)
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	estimator := NewEstimator(EstimatorConfig{LowMax: 5, HighMin: 20, SearchVolumeBoost: 50})
	summary := &market.RouteSummary{
		Route:       market.Route{Origin: "BNE", Destination: "PER"},
		FlightCount: 12,
	}

	first := estimator.Estimate(summary, nil)
	second := estimator.Estimate(summary, nil)
	if first.DemandLevel != second.DemandLevel || first.Basis != second.Basis {
		t.Errorf("same inputs produced different signals: %+v vs %+v", first, second)
	}
}
