package insights

import (
	"github.com/rjenkins/airmarket/internal/market"
)

// RouteBrief is the per-route slice of market state handed to the text
// generator. It is serialized verbatim into the user prompt.
type RouteBrief struct {
	Route       string             `json:"route"`
	AvgPrice    string             `json:"avg_price"`
	MinPrice    string             `json:"min_price"`
	MaxPrice    string             `json:"max_price"`
	FlightCount int                `json:"flight_count"`
	PriceTrend  market.PriceTrend  `json:"price_trend"`
	DemandLevel market.DemandLevel `json:"demand_level,omitempty"`
	WindowStart string             `json:"window_start"`
	SummaryID   int64              `json:"-"`
}

// MarketBrief is the full generation input: the significant routes plus
// market-wide context.
type MarketBrief struct {
	Routes            []RouteBrief `json:"routes"`
	TotalObservations int64        `json:"total_observations"`
	GeneratedFor      string       `json:"generated_for"`
}

// draftInsight is the shape the model is asked to return, one element
// per insight in a JSON array.
type draftInsight struct {
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Scope      string  `json:"scope"`
	Confidence float64 `json:"confidence"`
}
