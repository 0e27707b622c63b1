package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the provider a flight observation came from.
type Source string

const (
	SourceSample        Source = "SAMPLE"
	SourceAmadeus       Source = "AMADEUS"
	SourceAviationStack Source = "AVIATIONSTACK"
	SourceOpenSky       Source = "OPENSKY"
)

// ParseSource parses a source tag, case-insensitively.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceSample:
		return SourceSample, nil
	case SourceAmadeus:
		return SourceAmadeus, nil
	case SourceAviationStack:
		return SourceAviationStack, nil
	case SourceOpenSky:
		return SourceOpenSky, nil
	default:
		return "", NewUnknownSourceError(s)
	}
}

// PriceTrend is the directional classification of average price change
// between consecutive windows for a route.
type PriceTrend string

const (
	TrendUp     PriceTrend = "UP"
	TrendDown   PriceTrend = "DOWN"
	TrendStable PriceTrend = "STABLE"
)

// DemandLevel is the categorical estimate of market interest in a route.
type DemandLevel string

const (
	DemandLow    DemandLevel = "LOW"
	DemandMedium DemandLevel = "MEDIUM"
	DemandHigh   DemandLevel = "HIGH"
)

// Upgrade returns the next demand level up. HIGH stays HIGH.
func (d DemandLevel) Upgrade() DemandLevel {
	switch d {
	case DemandLow:
		return DemandMedium
	case DemandMedium:
		return DemandHigh
	default:
		return d
	}
}

// Rank returns an integer ordering for demand levels.
func (d DemandLevel) Rank() int {
	switch d {
	case DemandLow:
		return 0
	case DemandMedium:
		return 1
	case DemandHigh:
		return 2
	default:
		return -1
	}
}

// Route is an ordered origin-destination airport pair. It is a derived
// key over observations, never a stored entity of its own.
type Route struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
}

// Key returns the canonical route key, e.g. "SYD-MEL".
func (r Route) Key() string {
	return r.Origin + "-" + r.Destination
}

// ParseRouteKey parses a canonical route key.
func ParseRouteKey(key string) (Route, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(key)), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Route{}, fmt.Errorf("invalid route key: %q", key)
	}
	return Route{Origin: parts[0], Destination: parts[1]}, nil
}

// Window is a fixed time bucket over which observations are aggregated.
// Start is inclusive, End exclusive.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowFor returns the window of the given size containing t. Windows
// are aligned to UTC midnight so re-aggregation lands in the same bucket.
func WindowFor(t time.Time, size time.Duration) Window {
	start := t.UTC().Truncate(size)
	return Window{Start: start, End: start.Add(size)}
}

// Previous returns the immediately preceding window of the same size.
func (w Window) Previous() Window {
	size := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-size), End: w.Start}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// FlightObservation is a canonical, immutable record of one observed
// flight price. Corrections arrive as new observations with a later
// ObservedAt; stored rows are never mutated.
type FlightObservation struct {
	ID               int64           `json:"id"`
	Source           Source          `json:"source"`
	ProviderRecordID string          `json:"provider_record_id"`
	Airline          string          `json:"airline"`
	FlightNumber     string          `json:"flight_number,omitempty"`
	Origin           string          `json:"origin"`
	Destination      string          `json:"destination"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	FlightDate       time.Time       `json:"flight_date"`
	ObservedAt       time.Time       `json:"observed_at"`
}

// Route returns the observation's derived route key.
func (o *FlightObservation) Route() Route {
	return Route{Origin: o.Origin, Destination: o.Destination}
}

// RouteSummary is the aggregate of all observations for one (route,
// window) pair at computation time. Recomputation appends a new row
// rather than mutating; reads take the latest per (route, window).
type RouteSummary struct {
	ID          int64           `json:"id"`
	Route       Route           `json:"route"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
	FlightCount int             `json:"flight_count"`
	PriceTrend  PriceTrend      `json:"price_trend"`
	ComputedAt  time.Time       `json:"computed_at"`
}

// Window returns the summary's observation window.
func (s *RouteSummary) Window() Window {
	return Window{Start: s.WindowStart, End: s.WindowEnd}
}

// DemandSignal is the categorical demand estimate for a (route, window)
// pair, derived purely from flight count and optional search volume.
type DemandSignal struct {
	ID           int64       `json:"id"`
	Route        Route       `json:"route"`
	WindowStart  time.Time   `json:"window_start"`
	WindowEnd    time.Time   `json:"window_end"`
	DemandLevel  DemandLevel `json:"demand_level"`
	SearchVolume *int        `json:"search_volume,omitempty"`
	Basis        string      `json:"basis"`
	ComputedAt   time.Time   `json:"computed_at"`
}

// Insight kinds, carried over from the dashboard's classification.
const (
	InsightKindPriceTrend     = "price_trend"
	InsightKindPopularRoute   = "popular_route"
	InsightKindSeasonal       = "seasonal_pattern"
	InsightKindDemandForecast = "demand_forecast"
)

// InsightScopeGlobal marks insights not tied to a single route.
const InsightScopeGlobal = "global"

// Insight is an append-only narrative finding over aggregated data.
// Insights are never edited, only regenerated.
type Insight struct {
	ID                   string    `json:"id"`
	GeneratedAt          time.Time `json:"generated_at"`
	Scope                string    `json:"scope"`
	Title                string    `json:"title"`
	Text                 string    `json:"text"`
	Kind                 string    `json:"kind"`
	Confidence           float64   `json:"confidence"`
	GeneratedBy          string    `json:"generated_by"`
	Fallback             bool      `json:"fallback"`
	SupportingSummaryIDs []int64   `json:"supporting_summary_ids,omitempty"`
}
