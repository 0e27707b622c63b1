package analysis

import (
	"fmt"
	"time"

	"github.com/rjenkins/airmarket/internal/market"
)

// EstimatorConfig holds the demand classification cutoffs.
type EstimatorConfig struct {
	// LowMax is the highest flight count still classified LOW.
	LowMax int
	// HighMin is the count above which a window is classified HIGH.
	HighMin int
	// SearchVolumeBoost is the search volume at or above which the
	// level is upgraded one step.
	SearchVolumeBoost int
}

// Estimator classifies route demand from flight counts, optionally
// boosted by external search volume. It is pure: the same inputs always
// yield the same signal.
type Estimator struct {
	lowMax  int
	highMin int
	boost   int
}

// NewEstimator creates a demand estimator.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	return &Estimator{lowMax: cfg.LowMax, highMin: cfg.HighMin, boost: cfg.SearchVolumeBoost}
}

// Estimate derives a demand signal from a computed route summary. When
// searchVolume is present and meets the boost cutoff, the level is
// upgraded exactly one step (HIGH stays HIGH).
func (e *Estimator) Estimate(summary *market.RouteSummary, searchVolume *int) *market.DemandSignal {
	level := e.levelForCount(summary.FlightCount)
	basis := fmt.Sprintf("%d flights", summary.FlightCount)

	if searchVolume != nil && *searchVolume >= e.boost {
		upgraded := level.Upgrade()
		if upgraded != level {
			basis = fmt.Sprintf("%s, search volume %d", basis, *searchVolume)
			level = upgraded
		}
	}

	return &market.DemandSignal{
		Route:        summary.Route,
		WindowStart:  summary.WindowStart,
		WindowEnd:    summary.WindowEnd,
		DemandLevel:  level,
		SearchVolume: searchVolume,
		Basis:        basis,
		ComputedAt:   time.Now().UTC(),
	}
}

func (e *Estimator) levelForCount(count int) market.DemandLevel {
	switch {
	case count <= e.lowMax:
		return market.DemandLow
	case count > e.highMin:
		return market.DemandHigh
	default:
		return market.DemandMedium
	}
}
