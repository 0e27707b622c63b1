// Package sample generates deterministic synthetic flight data so the
// pipeline can run without any external API credentials.
package sample

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

var airlines = []string{"QF", "VA", "JQ", "SQ", "EK"}

// airportKM positions the covered airports on a rough east-west axis in
// kilometres, giving plausible pairwise distances for fare synthesis.
var airportKM = map[string]float64{
	"SYD": 0,
	"MEL": 710,
	"BNE": 750,
	"OOL": 680,
	"ADL": 1160,
	"CNS": 1960,
	"DRW": 3150,
	"PER": 3290,
}

var airports = []string{"SYD", "MEL", "BNE", "PER", "ADL", "OOL", "CNS", "DRW"}

// peak hours carry a fare premium, mirroring morning and evening rush.
var peakHours = map[int]bool{7: true, 8: true, 17: true, 18: true, 19: true}

// Generator produces synthetic raw records across every ordered airport
// pair. The same seed and anchor date always yield the same records,
// provider IDs included, so re-ingesting a batch is a no-op.
type Generator struct {
	cfg    config.SampleConfig
	now    func() time.Time
	logger *logger.Logger
}

// NewGenerator creates a sample-data generator.
func NewGenerator(cfg config.SampleConfig, log *logger.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		now:    time.Now,
		logger: log.Named("sample-provider"),
	}
}

// Source implements providers.Provider.
func (g *Generator) Source() market.Source {
	return market.SourceSample
}

// Fetch generates records covering the configured past and future day
// span for every ordered airport pair.
func (g *Generator) Fetch(ctx context.Context) ([]market.RawRecord, error) {
	rng := rand.New(rand.NewSource(g.cfg.Seed))
	anchor := g.now().UTC().Truncate(24 * time.Hour)
	observedAt := g.now().UTC()

	var records []market.RawRecord
	for _, origin := range airports {
		for _, destination := range airports {
			if origin == destination {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			distance := math.Abs(airportKM[origin]-airportKM[destination]) + 400
			for day := -g.cfg.DaysBack; day < g.cfg.DaysForward; day++ {
				date := anchor.AddDate(0, 0, day)
				for n := 0; n < g.cfg.FlightsPerDay; n++ {
					records = append(records, g.record(rng, origin, destination, distance, date, n, observedAt))
				}
			}
		}
	}

	g.logger.Info("Generated sample records",
		logger.Int("count", len(records)),
		logger.Int("days_back", g.cfg.DaysBack),
		logger.Int("days_forward", g.cfg.DaysForward))
	return records, nil
}

func (g *Generator) record(rng *rand.Rand, origin, destination string, distance float64, date time.Time, n int, observedAt time.Time) market.RawRecord {
	airline := airlines[rng.Intn(len(airlines))]
	hour := 6 + rng.Intn(17)
	minute := []int{0, 15, 30, 45}[rng.Intn(4)]
	departure := date.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)

	price := distance * 0.15
	price *= 0.7 + rng.Float64()*0.8
	if wd := departure.Weekday(); wd == time.Saturday || wd == time.Sunday {
		price *= 1.2
	}
	if peakHours[departure.Hour()] {
		price *= 1.15
	}
	price = math.Round(price*100) / 100

	payload, _ := json.Marshal(map[string]any{
		"airline":       airline,
		"flight_number": fmt.Sprintf("%s%d", airline, 100+rng.Intn(900)),
		"origin":        origin,
		"destination":   destination,
		"price":         price,
		"currency":      "AUD",
		"flight_date":   departure.Format(time.RFC3339),
	})

	return market.RawRecord{
		ProviderRecordID: fmt.Sprintf("sample-%s-%s-%s-%d", origin, destination, date.Format("2006-01-02"), n),
		ObservedAt:       observedAt,
		Payload:          payload,
	}
}
