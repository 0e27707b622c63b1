// Package aviationstack fetches live flight data from the AviationStack
// API. The free tier carries no fares, so a deterministic synthetic
// price is attached to each record before it enters the pipeline.
package aviationstack

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// originAirports are the departure airports polled each fetch.
var originAirports = []string{"SYD", "MEL", "BNE", "PER"}

// Client talks to the AviationStack /flights endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	pageLimit  int
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates an AviationStack client from config.
func NewClient(cfg config.AviationStackConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageLimit: cfg.PageLimit,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
		logger: log.Named("aviationstack"),
	}
}

// Source implements providers.Provider.
func (c *Client) Source() market.Source {
	return market.SourceAviationStack
}

// Fetch pulls one page of flights per origin airport and converts them
// to raw records. Per-airport failures abort the fetch; partial batches
// would silently skew aggregation otherwise.
func (c *Client) Fetch(ctx context.Context) ([]market.RawRecord, error) {
	if c.apiKey == "" {
		return nil, &market.ProviderError{Provider: "aviationstack", Err: fmt.Errorf("api key not configured")}
	}

	observedAt := time.Now().UTC()
	var records []market.RawRecord
	for _, origin := range originAirports {
		flights, err := c.fetchFlights(ctx, origin)
		if err != nil {
			return nil, err
		}
		for _, flight := range flights {
			record, ok := c.toRawRecord(flight, observedAt)
			if !ok {
				continue
			}
			records = append(records, record)
		}
	}

	c.logger.Info("Fetched AviationStack flights", logger.Int("count", len(records)))
	return records, nil
}

// flightsResponse is the /flights envelope. Records stay raw so the
// original provider shape flows through to normalization untouched.
type flightsResponse struct {
	Pagination struct {
		Count int `json:"count"`
		Total int `json:"total"`
	} `json:"pagination"`
	Data []json.RawMessage `json:"data"`
}

func (c *Client) fetchFlights(ctx context.Context, depIATA string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("access_key", c.apiKey)
	params.Set("dep_iata", depIATA)
	params.Set("limit", strconv.Itoa(c.pageLimit))

	reqURL := fmt.Sprintf("%s/flights?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching flights", logger.String("dep_iata", depIATA))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &market.ProviderError{Provider: "aviationstack", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &market.ProviderError{
			Provider:    "aviationstack",
			StatusCode:  resp.StatusCode,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
			Err:         fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope flightsResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &market.ProviderError{Provider: "aviationstack", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return envelope.Data, nil
}

// toRawRecord attaches the synthetic price block and derives a stable
// provider record ID. Flights missing an identity or schedule are
// skipped; the normalizer could only reject them anyway.
func (c *Client) toRawRecord(flight json.RawMessage, observedAt time.Time) (market.RawRecord, bool) {
	parsed := gjson.ParseBytes(flight)
	flightIATA := parsed.Get("flight.iata").String()
	scheduled := parsed.Get("departure.scheduled").String()
	if flightIATA == "" || scheduled == "" {
		return market.RawRecord{}, false
	}
	recordID := fmt.Sprintf("%s-%s", flightIATA, scheduled)

	var payload map[string]any
	if err := json.Unmarshal(flight, &payload); err != nil {
		return market.RawRecord{}, false
	}
	payload["price"] = map[string]any{
		"amount":   syntheticFare(recordID),
		"currency": "AUD",
	}

	enriched, err := json.Marshal(payload)
	if err != nil {
		return market.RawRecord{}, false
	}

	return market.RawRecord{
		ProviderRecordID: recordID,
		ObservedAt:       observedAt,
		Payload:          enriched,
	}, true
}

// syntheticFare maps a record identity onto a plausible domestic fare
// in [150, 800). The same flight always gets the same fare, keeping
// repeated fetches idempotent.
func syntheticFare(recordID string) float64 {
	h := fnv.New32a()
	h.Write([]byte(recordID))
	cents := 15000 + h.Sum32()%65000
	return float64(cents) / 100
}
