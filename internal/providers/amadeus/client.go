// Package amadeus integrates the Amadeus self-service APIs: flight
// offers as an observation source and air-traffic analytics as the
// search volume feed for demand estimation.
package amadeus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// analyticsPeriod is the reporting month queried for traveler scores.
// The self-service test environment only carries 2017 data.
const analyticsPeriod = "2017-08"

// fetchRoutes are the corridors polled for flight offers.
var fetchRoutes = []market.Route{
	{Origin: "SYD", Destination: "MEL"},
	{Origin: "SYD", Destination: "BNE"},
	{Origin: "MEL", Destination: "PER"},
	{Origin: "BNE", Destination: "SYD"},
}

// Client is an OAuth2 client-credentials consumer of the Amadeus APIs.
// The access token is cached until shortly before expiry.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *logger.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	volumeMu     sync.Mutex
	volumeCache  map[string]map[string]int
	volumeExpiry time.Time
}

// NewClient creates an Amadeus client from config.
func NewClient(cfg config.AmadeusConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
		logger:      log.Named("amadeus"),
		volumeCache: make(map[string]map[string]int),
	}
}

// Source implements providers.Provider.
func (c *Client) Source() market.Source {
	return market.SourceAmadeus
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a cached access token, refreshing it when it is within
// a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	if c.apiKey == "" || c.apiSecret == "" {
		return "", &market.ProviderError{Provider: "amadeus", Err: fmt.Errorf("api credentials not configured")}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.apiKey)
	form.Set("client_secret", c.apiSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &market.ProviderError{Provider: "amadeus", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &market.ProviderError{
			Provider:   "amadeus",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("token request failed with status %d", resp.StatusCode),
		}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.ExpiresIn <= 0 {
		token.ExpiresIn = 1799
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	c.logger.Debug("Refreshed access token", logger.Int("expires_in", token.ExpiresIn))
	return c.accessToken, nil
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &market.ProviderError{Provider: "amadeus", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &market.ProviderError{
			Provider:    "amadeus",
			StatusCode:  resp.StatusCode,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
			Err:         fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode),
		}
	}
	return io.ReadAll(resp.Body)
}

// flightOffersResponse is the subset of the flight-offers search
// response the pipeline consumes.
type flightOffersResponse struct {
	Data []struct {
		Itineraries []struct {
			Segments []struct {
				Departure struct {
					IATACode string `json:"iataCode"`
					At       string `json:"at"`
				} `json:"departure"`
				Arrival struct {
					IATACode string `json:"iataCode"`
				} `json:"arrival"`
				CarrierCode string `json:"carrierCode"`
				Number      string `json:"number"`
			} `json:"segments"`
		} `json:"itineraries"`
		Price struct {
			Total    string `json:"total"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"data"`
}

// Fetch pulls flight offers for the covered corridors, departing one
// week out, and flattens each offer's first segment into a raw record.
func (c *Client) Fetch(ctx context.Context) ([]market.RawRecord, error) {
	observedAt := time.Now().UTC()
	departureDate := observedAt.AddDate(0, 0, 7).Format("2006-01-02")

	var records []market.RawRecord
	for _, route := range fetchRoutes {
		params := url.Values{}
		params.Set("originLocationCode", route.Origin)
		params.Set("destinationLocationCode", route.Destination)
		params.Set("departureDate", departureDate)
		params.Set("adults", "1")
		params.Set("currencyCode", "AUD")
		params.Set("max", "20")

		body, err := c.get(ctx, "/v2/shopping/flight-offers", params)
		if err != nil {
			return nil, err
		}

		var offers flightOffersResponse
		if err := json.Unmarshal(body, &offers); err != nil {
			return nil, &market.ProviderError{Provider: "amadeus", Err: fmt.Errorf("failed to parse flight offers: %w", err)}
		}

		for _, offer := range offers.Data {
			if len(offer.Itineraries) == 0 || len(offer.Itineraries[0].Segments) == 0 {
				continue
			}
			seg := offer.Itineraries[0].Segments[0]
			payload, err := json.Marshal(map[string]any{
				"origin":        seg.Departure.IATACode,
				"destination":   seg.Arrival.IATACode,
				"carrierCode":   seg.CarrierCode,
				"number":        seg.Number,
				"departureDate": seg.Departure.At,
				"price": map[string]string{
					"total":    offer.Price.Total,
					"currency": offer.Price.Currency,
				},
			})
			if err != nil {
				continue
			}
			records = append(records, market.RawRecord{
				ProviderRecordID: fmt.Sprintf("%s%s-%s", seg.CarrierCode, seg.Number, seg.Departure.At),
				ObservedAt:       observedAt,
				Payload:          payload,
			})
		}
	}

	c.logger.Info("Fetched Amadeus flight offers", logger.Int("count", len(records)))
	return records, nil
}

// traveledResponse is the air-traffic analytics envelope.
type traveledResponse struct {
	Data []struct {
		Destination string `json:"destination"`
		Analytics   struct {
			Travelers struct {
				Score float64 `json:"score"`
			} `json:"travelers"`
		} `json:"analytics"`
	} `json:"data"`
}

// SearchVolume implements analysis.SearchVolumeSource. Traveler scores
// for an origin are fetched once per hour and scores are scaled to
// volumes the demand estimator can threshold on.
func (c *Client) SearchVolume(ctx context.Context, route market.Route) (*int, error) {
	c.volumeMu.Lock()
	defer c.volumeMu.Unlock()

	if time.Now().After(c.volumeExpiry) {
		c.volumeCache = make(map[string]map[string]int)
		c.volumeExpiry = time.Now().Add(time.Hour)
	}

	byDest, ok := c.volumeCache[route.Origin]
	if !ok {
		params := url.Values{}
		params.Set("originCityCode", route.Origin)
		params.Set("period", analyticsPeriod)
		params.Set("max", "10")

		body, err := c.get(ctx, "/v1/travel/analytics/air-traffic/traveled", params)
		if err != nil {
			return nil, err
		}

		var traveled traveledResponse
		if err := json.Unmarshal(body, &traveled); err != nil {
			return nil, &market.ProviderError{Provider: "amadeus", Err: fmt.Errorf("failed to parse analytics: %w", err)}
		}

		byDest = make(map[string]int, len(traveled.Data))
		for _, d := range traveled.Data {
			byDest[d.Destination] = int(d.Analytics.Travelers.Score * 100)
		}
		c.volumeCache[route.Origin] = byDest
	}

	volume, ok := byDest[route.Destination]
	if !ok {
		return nil, nil
	}
	return &volume, nil
}
