package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rjenkins/airmarket/internal/analysis"
	"github.com/rjenkins/airmarket/internal/api"
	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/insights"
	"github.com/rjenkins/airmarket/internal/providers"
	"github.com/rjenkins/airmarket/internal/providers/amadeus"
	"github.com/rjenkins/airmarket/internal/providers/aviationstack"
	"github.com/rjenkins/airmarket/internal/providers/sample"
	"github.com/rjenkins/airmarket/internal/storage/sqlite"
	"github.com/rjenkins/airmarket/pkg/logger"
	"github.com/rjenkins/airmarket/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	// Optional .env for API keys; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting airmarket",
		logger.String("sqlite_path", cfg.Storage.SQLitePath),
		logger.Int("port", cfg.Server.Port))

	db, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Error("Failed to open database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	m := metrics.New("airmarket")

	observations := sqlite.NewObservationStorage(db, log)
	summaries := sqlite.NewSummaryStorage(db, log)
	demand := sqlite.NewDemandStorage(db, log)
	insightStore := sqlite.NewInsightStorage(db, log)

	amadeusClient := amadeus.NewClient(cfg.Providers.Amadeus, log)

	// Search volume needs Amadeus credentials; without them demand
	// estimation runs on flight counts alone.
	var searchVolume analysis.SearchVolumeSource
	if cfg.Providers.Amadeus.APIKey != "" && cfg.Providers.Amadeus.APISecret != "" {
		searchVolume = amadeusClient
	} else {
		log.Warn("Amadeus credentials not set, search volume boost disabled")
	}

	analysisService := analysis.NewService(observations, summaries, demand, searchVolume, cfg.Analysis, m, log)

	var textGen insights.TextGenerator
	if cfg.Insights.OpenAIAPIKey != "" {
		textGen = insights.NewOpenAIClient(cfg.Insights, log)
	} else {
		log.Warn("OpenAI API key not set, insights will use fallback templates")
	}
	generator := insights.NewGenerator(textGen, cfg.Insights, log)
	insightsService := insights.NewService(generator, observations, summaries, demand, insightStore, cfg.Insights, m, log)

	registry := providers.NewRegistry(
		sample.NewGenerator(cfg.Providers.Sample, log),
		aviationstack.NewClient(cfg.Providers.AviationStack, log),
		amadeusClient,
	)

	router := api.NewRouter(analysisService, insightsService, registry, cfg, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received shutdown signal", logger.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("airmarket stopped")
}
