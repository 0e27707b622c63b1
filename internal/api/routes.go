package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjenkins/airmarket/internal/analysis"
	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/insights"
	"github.com/rjenkins/airmarket/internal/providers"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	analysisService *analysis.Service,
	insightsService *insights.Service,
	registry *providers.Registry,
	config *config.Config,
	logger *logger.Logger,
) *Router {
	return &Router{
		handler:    NewHandler(analysisService, insightsService, registry, config, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Ingestion routes
		router.Post("/ingest", r.handler.IngestRecords)
		router.Post("/fetch/{source}", r.handler.FetchFromProvider)

		// Aggregation routes
		router.Post("/refresh", r.handler.RefreshAll)
		router.Post("/routes/{route}/refresh", r.handler.RefreshRoute)

		// Summary routes
		router.Get("/summaries", r.handler.GetLatestSummaries)
		router.Get("/routes/{route}/summaries", r.handler.GetRouteSummaries)
		router.Get("/routes/{route}/demand", r.handler.GetRouteDemand)

		// Insight routes
		router.Post("/insights/generate", r.handler.GenerateInsights)
		router.Get("/insights", r.handler.GetInsights)

		// Market overview
		router.Get("/overview", r.handler.GetOverview)

		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Configuration
		router.Get("/config", r.handler.GetConfig)
	})

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler())

	return router
}
