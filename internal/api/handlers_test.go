package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rjenkins/airmarket/internal/analysis"
	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/insights"
	"github.com/rjenkins/airmarket/internal/providers"
	"github.com/rjenkins/airmarket/internal/providers/sample"
	"github.com/rjenkins/airmarket/internal/storage/sqlite"
	"github.com/rjenkins/airmarket/pkg/logger"
	"github.com/rjenkins/airmarket/pkg/metrics"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logger.NewNop()
	cfg := &config.Config{
		Analysis: config.AnalysisConfig{
			WindowDays:         1,
			TrendThresholdPct:  0.10,
			MinTrendSamples:    3,
			DemandLowMax:       5,
			DemandHighMin:      20,
			SearchVolumeBoost:  50,
			BaseCurrency:       "AUD",
			FXRates:            map[string]float64{"AUD": 1.0},
			RefreshWorkers:     2,
			RefreshTimeoutSecs: 10,
			HistoryWindowLimit: 30,
			DefaultQueryLimit:  50,
			OverviewRouteLimit: 10,
		},
		Insights: config.InsightsConfig{
			Model:         "gpt-4o-mini",
			MaxRoutes:     5,
			MaxTextLength: 600,
			MinConfidence: 0.5,
		},
		Providers: config.ProvidersConfig{
			Sample: config.SampleConfig{Seed: 1, DaysBack: 1, DaysForward: 1, FlightsPerDay: 1},
		},
	}

	m := metrics.NewWith(prometheus.NewRegistry(), "airmarket")
	observations := sqlite.NewObservationStorage(db, log)
	summaries := sqlite.NewSummaryStorage(db, log)
	demand := sqlite.NewDemandStorage(db, log)
	insightStore := sqlite.NewInsightStorage(db, log)

	analysisService := analysis.NewService(observations, summaries, demand, nil, cfg.Analysis, m, log)
	generator := insights.NewGenerator(nil, cfg.Insights, log)
	insightsService := insights.NewService(generator, observations, summaries, demand, insightStore, cfg.Insights, m, log)
	registry := providers.NewRegistry(sample.NewGenerator(cfg.Providers.Sample, log))

	router := NewRouter(analysisService, insightsService, registry, cfg, log)
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]json.RawMessage) {
	t.Helper()
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func ingestBody(flightDate string) string {
	record := func(id, origin, destination string, price float64) string {
		return fmt.Sprintf(`{
			"provider_record_id": %q,
			"observed_at": "2026-08-20T09:00:00Z",
			"payload": {
				"airline": "QF",
				"flight_number": "QF400",
				"origin": %q,
				"destination": %q,
				"price": %v,
				"currency": "AUD",
				"flight_date": %q
			}
		}`, id, origin, destination, price, flightDate)
	}
	return fmt.Sprintf(`{"source": "SAMPLE", "records": [%s, %s, %s]}`,
		record("r1", "SYD", "MEL", 120.00),
		record("r2", "SYD", "MEL", 150.00),
		record("r3", "SYD", "MEL", 600.00))
}

func TestIngestEndpoint(t *testing.T) {
	srv := testServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestBody("2026-08-20"))
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var accepted int
	if err := json.Unmarshal(body["accepted"], &accepted); err != nil || accepted != 3 {
		t.Errorf("accepted = %s, want 3", body["accepted"])
	}
}

func TestIngestEndpointRejectsBadSource(t *testing.T) {
	srv := testServer(t)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest",
		`{"source": "TELEPORT", "records": [{"provider_record_id": "x", "observed_at": "2026-08-20T00:00:00Z", "payload": {}}]}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestSummariesEndpoint(t *testing.T) {
	srv := testServer(t)

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestBody("2026-08-20")); status != http.StatusOK {
		t.Fatalf("ingest status = %d", status)
	}

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/summaries", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var count int
	if err := json.Unmarshal(body["count"], &count); err != nil || count != 1 {
		t.Errorf("count = %s, want 1", body["count"])
	}
}

func TestRouteSummariesEndpoint(t *testing.T) {
	srv := testServer(t)

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestBody("2026-08-20")); status != http.StatusOK {
		t.Fatalf("ingest status = %d", status)
	}

	status, body := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/routes/SYD-MEL/summaries?from=2026-08-19&to=2026-08-22", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var count int
	if err := json.Unmarshal(body["count"], &count); err != nil || count != 1 {
		t.Errorf("count = %s, want 1", body["count"])
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/routes/not-a-route-key-at-all/summaries", "")
	if status != http.StatusBadRequest {
		t.Errorf("bad route key status = %d, want 400", status)
	}
}

func TestRouteDemandEndpoint(t *testing.T) {
	srv := testServer(t)

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestBody("2026-08-20")); status != http.StatusOK {
		t.Fatalf("ingest status = %d", status)
	}

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/routes/SYD-MEL/demand", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var level string
	if err := json.Unmarshal(body["demand_level"], &level); err != nil || level != "LOW" {
		t.Errorf("demand_level = %s, want LOW", body["demand_level"])
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/routes/LAX-JFK/demand", "")
	if status != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", status)
	}
}

func TestFetchAndRefreshEndpoints(t *testing.T) {
	srv := testServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/fetch/sample", "")
	if status != http.StatusOK {
		t.Fatalf("fetch status = %d, want 200", status)
	}
	var accepted int
	if err := json.Unmarshal(body["accepted"], &accepted); err != nil || accepted == 0 {
		t.Errorf("accepted = %s, want > 0", body["accepted"])
	}

	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/refresh", "")
	if status != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", status)
	}
	var updated int
	if err := json.Unmarshal(body["summaries_updated"], &updated); err != nil || updated == 0 {
		t.Errorf("summaries_updated = %s, want > 0", body["summaries_updated"])
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/fetch/amadeus", "")
	if status != http.StatusNotFound {
		t.Errorf("unregistered provider status = %d, want 404", status)
	}
}

func TestInsightsEndpoints(t *testing.T) {
	srv := testServer(t)

	// Generating with no summaries is a conflict, not a server error.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/insights/generate", "")
	if status != http.StatusConflict {
		t.Fatalf("generate without data status = %d, want 409", status)
	}

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestBody("2026-08-20")); status != http.StatusOK {
		t.Fatalf("ingest failed")
	}

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/insights/generate", "")
	if status != http.StatusOK {
		t.Fatalf("generate status = %d, want 200", status)
	}
	var count int
	if err := json.Unmarshal(body["count"], &count); err != nil || count == 0 {
		t.Errorf("count = %s, want > 0", body["count"])
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/insights", "")
	if status != http.StatusOK {
		t.Fatalf("list status = %d, want 200", status)
	}
	if err := json.Unmarshal(body["count"], &count); err != nil || count == 0 {
		t.Errorf("listed count = %s, want > 0", body["count"])
	}

	// Scoped generation only considers the named route.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/insights/generate?scope=SYD-MEL", "")
	if status != http.StatusOK {
		t.Errorf("scoped generate status = %d, want 200", status)
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/insights/generate?scope=LAX-JFK", "")
	if status != http.StatusConflict {
		t.Errorf("unknown scope status = %d, want 409", status)
	}
}

func TestOverviewAndHealthEndpoints(t *testing.T) {
	srv := testServer(t)

	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/ingest", ingestBody("2026-08-20")); status != http.StatusOK {
		t.Fatalf("ingest failed")
	}

	status, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/overview", "")
	if status != http.StatusOK {
		t.Fatalf("overview status = %d, want 200", status)
	}
	var total int64
	if err := json.Unmarshal(body["total_observations"], &total); err != nil || total != 3 {
		t.Errorf("total_observations = %s, want 3", body["total_observations"])
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/health", "")
	if status != http.StatusOK {
		t.Fatalf("health status = %d, want 200", status)
	}
	var health string
	if err := json.Unmarshal(body["status"], &health); err != nil || health != "ok" {
		t.Errorf("status = %s, want ok", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestConfigEndpointHidesSecrets(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/config")
	if err != nil {
		t.Fatalf("GET /config: %v", err)
	}
	defer resp.Body.Close()

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	encoded, _ := json.Marshal(raw)
	if strings.Contains(string(encoded), "api_key") || strings.Contains(string(encoded), "secret") {
		t.Error("config response leaks credential fields")
	}
	if _, ok := raw["analysis"]; !ok {
		t.Error("config response missing analysis section")
	}
}
