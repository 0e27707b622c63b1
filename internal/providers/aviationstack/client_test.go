package aviationstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

const flightsPage = `{
	"pagination": {"count": 2, "total": 2},
	"data": [
		{
			"flight": {"iata": "QF400", "number": "400"},
			"airline": {"name": "Qantas", "iata": "QF"},
			"departure": {"iata": "%s", "scheduled": "2026-08-20T07:00:00+00:00"},
			"arrival": {"iata": "MEL"}
		},
		{
			"flight": {"iata": "", "number": ""},
			"airline": {"name": "Mystery"},
			"departure": {"iata": "%s", "scheduled": ""},
			"arrival": {"iata": "MEL"}
		}
	]
}`

func testClient(baseURL string) *Client {
	return NewClient(config.AviationStackConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		TimeoutSecs: 5,
		PageLimit:   50,
	}, logger.NewNop())
}

func TestFetchEnrichesFlights(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flights" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("access_key"); got != "test-key" {
			t.Errorf("access_key = %q, want test-key", got)
		}
		dep := r.URL.Query().Get("dep_iata")
		fmt.Fprintf(w, flightsPage, dep, dep)
	}))
	defer srv.Close()

	records, err := testClient(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// One valid flight per polled origin; the identity-less record is
	// dropped.
	if len(records) != len(originAirports) {
		t.Fatalf("got %d records, want %d", len(records), len(originAirports))
	}

	normalizer := market.NewNormalizer("AUD", map[string]float64{"AUD": 1.0})
	obs, err := normalizer.Normalize(records[0], market.SourceAviationStack)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if obs.FlightNumber != "QF400" {
		t.Errorf("FlightNumber = %q, want QF400", obs.FlightNumber)
	}
	if obs.Destination != "MEL" {
		t.Errorf("Destination = %q, want MEL", obs.Destination)
	}
	if obs.Price.IsZero() || obs.Price.IsNegative() {
		t.Errorf("synthetic price missing: %s", obs.Price)
	}
}

func TestFetchSyntheticFareIsStable(t *testing.T) {
	if syntheticFare("QF400-2026-08-20T07:00:00+00:00") != syntheticFare("QF400-2026-08-20T07:00:00+00:00") {
		t.Error("same record produced different fares")
	}
	fare := syntheticFare("VA812-2026-08-21T09:00:00+00:00")
	if fare < 150 || fare >= 800 {
		t.Errorf("fare %v outside expected range", fare)
	}
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background())
	var provErr *market.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !provErr.RateLimited {
		t.Error("429 response not flagged as rate limited")
	}
}

func TestFetchWithoutAPIKey(t *testing.T) {
	client := NewClient(config.AviationStackConfig{BaseURL: "http://localhost", TimeoutSecs: 1}, logger.NewNop())
	_, err := client.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected an error without an API key")
	}
}
