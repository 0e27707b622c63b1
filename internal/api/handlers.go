package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rjenkins/airmarket/internal/analysis"
	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/insights"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/internal/providers"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	analysis *analysis.Service
	insights *insights.Service
	registry *providers.Registry
	config   *config.Config
	logger   *logger.Logger
	started  time.Time
}

// NewHandler creates a new API handler
func NewHandler(
	analysisService *analysis.Service,
	insightsService *insights.Service,
	registry *providers.Registry,
	config *config.Config,
	logger *logger.Logger,
) *Handler {
	return &Handler{
		analysis: analysisService,
		insights: insightsService,
		registry: registry,
		config:   config,
		logger:   logger.Named("api-handler"),
		started:  time.Now().UTC(),
	}
}

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

// respondError writes a JSON error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// ingestRequest is the POST /ingest body.
type ingestRequest struct {
	Source  string             `json:"source"`
	Records []market.RawRecord `json:"records"`
}

// IngestRecords normalizes and stores a batch of raw records pushed by
// the caller.
func (h *Handler) IngestRecords(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	source, err := market.ParseSource(req.Source)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Records) == 0 {
		h.respondError(w, http.StatusBadRequest, "no records provided")
		return
	}

	report, err := h.analysis.Ingest(r.Context(), source, req.Records)
	if err != nil {
		h.logger.Error("Ingest failed", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// FetchFromProvider pulls records from a registered provider and
// ingests them in one step.
func (h *Handler) FetchFromProvider(w http.ResponseWriter, r *http.Request) {
	source, err := market.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := h.registry.Get(source)
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	records, err := provider.Fetch(r.Context())
	if err != nil {
		var provErr *market.ProviderError
		if errors.As(err, &provErr) && provErr.RateLimited {
			h.respondError(w, http.StatusTooManyRequests, "provider rate limited")
			return
		}
		h.logger.Error("Provider fetch failed",
			logger.String("source", string(source)),
			logger.Error(err))
		h.respondError(w, http.StatusBadGateway, "provider fetch failed")
		return
	}
	if len(records) == 0 {
		h.respondJSON(w, http.StatusOK, &market.IngestReport{Source: source})
		return
	}

	report, err := h.analysis.Ingest(r.Context(), source, records)
	if err != nil {
		h.logger.Error("Ingest failed after fetch", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// RefreshAll recomputes summaries and demand for every known route.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	timeout := time.Duration(h.config.Analysis.RefreshTimeoutSecs) * time.Second
	ctx, cancel := contextWithOptionalTimeout(r, timeout)
	defer cancel()

	updated, err := h.analysis.RefreshAll(ctx)
	if err != nil {
		h.logger.Error("Refresh all failed", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"summaries_updated": updated})
}

// RefreshRoute recomputes summaries and demand for one route.
func (h *Handler) RefreshRoute(w http.ResponseWriter, r *http.Request) {
	route, err := market.ParseRouteKey(chi.URLParam(r, "route"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.analysis.Refresh(r.Context(), route)
	if err != nil {
		var aggErr *market.AggregationError
		if errors.As(err, &aggErr) {
			h.respondError(w, http.StatusNotFound, aggErr.Error())
			return
		}
		h.logger.Error("Route refresh failed",
			logger.String("route", route.Key()),
			logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"route":             route.Key(),
		"summaries_updated": updated,
	})
}

// GetLatestSummaries returns the newest summary per route.
func (h *Handler) GetLatestSummaries(w http.ResponseWriter, r *http.Request) {
	limit := h.queryLimit(r)
	summaries, err := h.analysis.LatestSummaries(limit)
	if err != nil {
		h.logger.Error("Failed to load summaries", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load summaries")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(summaries),
		"summaries": summaries,
	})
}

// GetRouteSummaries returns per-window summaries for one route. The
// from/to query params bound the window-start range.
func (h *Handler) GetRouteSummaries(w http.ResponseWriter, r *http.Request) {
	route, err := market.ParseRouteKey(chi.URLParam(r, "route"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid from parameter: "+err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid to parameter: "+err.Error())
		return
	}

	summaries, err := h.analysis.SummariesForRoute(route, from, to)
	if err != nil {
		h.logger.Error("Failed to load route summaries", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load summaries")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"route":     route.Key(),
		"count":     len(summaries),
		"summaries": summaries,
	})
}

// GetRouteDemand returns the latest demand signal for one route.
func (h *Handler) GetRouteDemand(w http.ResponseWriter, r *http.Request) {
	route, err := market.ParseRouteKey(chi.URLParam(r, "route"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	signal, err := h.analysis.DemandForRoute(route)
	if err != nil {
		h.logger.Error("Failed to load demand", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load demand")
		return
	}
	if signal == nil {
		h.respondError(w, http.StatusNotFound, "no demand signal for route "+route.Key())
		return
	}
	h.respondJSON(w, http.StatusOK, signal)
}

// GenerateInsights runs insight generation over the current summaries
// and returns the new batch. An optional scope query param restricts
// generation to one route.
func (h *Handler) GenerateInsights(w http.ResponseWriter, r *http.Request) {
	generated, err := h.insights.Generate(r.Context(), r.URL.Query().Get("scope"))
	if err != nil {
		var genErr *market.InsightGenerationError
		if errors.As(err, &genErr) {
			h.respondError(w, http.StatusConflict, genErr.Error())
			return
		}
		h.logger.Error("Insight generation failed", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "insight generation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(generated),
		"insights": generated,
	})
}

// GetInsights returns recent insights, optionally filtered by scope.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	limit := h.queryLimit(r)

	var (
		results []*market.Insight
		err     error
	)
	if scope := r.URL.Query().Get("scope"); scope != "" {
		results, err = h.insights.ByScope(scope, limit)
	} else {
		results, err = h.insights.Recent(limit)
	}
	if err != nil {
		h.logger.Error("Failed to load insights", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load insights")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(results),
		"insights": results,
	})
}

// GetOverview returns the aggregate market snapshot.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analysis.Overview()
	if err != nil {
		h.logger.Error("Failed to build overview", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to build overview")
		return
	}
	h.respondJSON(w, http.StatusOK, overview)
}

// GetHealth returns service health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"sources":        h.registry.Sources(),
	})
}

// GetConfig returns the non-secret parts of the running configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": map[string]interface{}{
			"window_days":         h.config.Analysis.WindowDays,
			"trend_threshold_pct": h.config.Analysis.TrendThresholdPct,
			"min_trend_samples":   h.config.Analysis.MinTrendSamples,
			"demand_low_max":      h.config.Analysis.DemandLowMax,
			"demand_high_min":     h.config.Analysis.DemandHighMin,
			"search_volume_boost": h.config.Analysis.SearchVolumeBoost,
			"base_currency":       h.config.Analysis.BaseCurrency,
		},
		"insights": map[string]interface{}{
			"model":      h.config.Insights.Model,
			"max_routes": h.config.Insights.MaxRoutes,
		},
	})
}

// queryLimit parses the limit query param, falling back to the
// configured default.
func (h *Handler) queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.config.Analysis.DefaultQueryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return h.config.Analysis.DefaultQueryLimit
	}
	return limit
}

// parseTimeParam parses an optional RFC3339 or date-only query param.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// contextWithOptionalTimeout bounds the request context when a timeout
// is configured.
func contextWithOptionalTimeout(r *http.Request, timeout time.Duration) (ctx context.Context, cancel context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), timeout)
}
