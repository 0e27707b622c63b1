package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level application configuration, loaded from a TOML
// file with API keys overridable from the environment.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	Insights  InsightsConfig  `toml:"insights"`
	Providers ProvidersConfig `toml:"providers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	ReadTimeoutSecs    int      `toml:"read_timeout_secs"`
	WriteTimeoutSecs   int      `toml:"write_timeout_secs"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// StorageConfig holds SQLite settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"`
}

// AnalysisConfig holds aggregation and demand-classification tuning.
// Thresholds are deliberately configuration, not constants: they need
// tuning against real provider data.
type AnalysisConfig struct {
	WindowDays         int                `toml:"window_days"`
	TrendThresholdPct  float64            `toml:"trend_threshold_pct"`
	MinTrendSamples    int                `toml:"min_trend_samples"`
	DemandLowMax       int                `toml:"demand_low_max"`
	DemandHighMin      int                `toml:"demand_high_min"`
	SearchVolumeBoost  int                `toml:"search_volume_boost"`
	BaseCurrency       string             `toml:"base_currency"`
	FXRates            map[string]float64 `toml:"fx_rates"`
	RefreshWorkers     int                `toml:"refresh_workers"`
	RefreshTimeoutSecs int                `toml:"refresh_timeout_secs"`
	HistoryWindowLimit int                `toml:"history_window_limit"`
	DefaultQueryLimit  int                `toml:"default_query_limit"`
	OverviewRouteLimit int                `toml:"overview_route_limit"`
}

// InsightsConfig holds LLM insight generation settings.
type InsightsConfig struct {
	OpenAIAPIKey  string  `toml:"openai_api_key"`
	Model         string  `toml:"model"`
	Temperature   float64 `toml:"temperature"`
	TimeoutSecs   int     `toml:"timeout_secs"`
	MaxRoutes     int     `toml:"max_routes"`
	MaxTextLength int     `toml:"max_text_length"`
	MinConfidence float64 `toml:"min_confidence"`
}

// ProvidersConfig holds external data-provider settings.
type ProvidersConfig struct {
	AviationStack AviationStackConfig `toml:"aviationstack"`
	Amadeus       AmadeusConfig       `toml:"amadeus"`
	Sample        SampleConfig        `toml:"sample"`
}

// AviationStackConfig holds AviationStack API settings.
type AviationStackConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	TimeoutSecs int    `toml:"timeout_secs"`
	PageLimit   int    `toml:"page_limit"`
}

// AmadeusConfig holds Amadeus travel-analytics API settings.
type AmadeusConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	APISecret   string `toml:"api_secret"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// SampleConfig holds sample-data generator settings.
type SampleConfig struct {
	Seed          int64 `toml:"seed"`
	DaysBack      int   `toml:"days_back"`
	DaysForward   int   `toml:"days_forward"`
	FlightsPerDay int   `toml:"flights_per_day"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads the configuration from the given TOML file, applies
// defaults and environment overrides, and validates it.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns the built-in defaults. Threshold defaults follow
// the values the pipeline was originally tuned with.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 30,
		},
		Storage: StorageConfig{
			SQLitePath: "airmarket.db",
		},
		Analysis: AnalysisConfig{
			WindowDays:         1,
			TrendThresholdPct:  0.10,
			MinTrendSamples:    3,
			DemandLowMax:       5,
			DemandHighMin:      20,
			SearchVolumeBoost:  50,
			BaseCurrency:       "AUD",
			FXRates:            map[string]float64{"AUD": 1.0, "USD": 1.52, "EUR": 1.65, "SGD": 1.13, "NZD": 0.93},
			RefreshWorkers:     4,
			RefreshTimeoutSecs: 60,
			HistoryWindowLimit: 30,
			DefaultQueryLimit:  50,
			OverviewRouteLimit: 10,
		},
		Insights: InsightsConfig{
			Model:         "gpt-4o-mini",
			Temperature:   0.4,
			TimeoutSecs:   30,
			MaxRoutes:     5,
			MaxTextLength: 600,
			MinConfidence: 0.5,
		},
		Providers: ProvidersConfig{
			AviationStack: AviationStackConfig{
				BaseURL:     "http://api.aviationstack.com/v1",
				TimeoutSecs: 15,
				PageLimit:   50,
			},
			Amadeus: AmadeusConfig{
				BaseURL:     "https://test.api.amadeus.com",
				TimeoutSecs: 15,
			},
			Sample: SampleConfig{
				Seed:          1,
				DaysBack:      15,
				DaysForward:   30,
				FlightsPerDay: 2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyEnvOverrides lets secrets come from the environment instead of
// the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Insights.OpenAIAPIKey = v
	}
	if v := os.Getenv("AVIATIONSTACK_API_KEY"); v != "" {
		cfg.Providers.AviationStack.APIKey = v
	}
	if v := os.Getenv("AMADEUS_API_KEY"); v != "" {
		cfg.Providers.Amadeus.APIKey = v
	}
	if v := os.Getenv("AMADEUS_API_SECRET"); v != "" {
		cfg.Providers.Amadeus.APISecret = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must not be empty")
	}
	if c.Analysis.WindowDays <= 0 {
		return fmt.Errorf("analysis.window_days must be positive, got %d", c.Analysis.WindowDays)
	}
	if c.Analysis.TrendThresholdPct < 0 {
		return fmt.Errorf("analysis.trend_threshold_pct must not be negative")
	}
	if c.Analysis.DemandLowMax >= c.Analysis.DemandHighMin {
		return fmt.Errorf("analysis.demand_low_max (%d) must be below demand_high_min (%d)",
			c.Analysis.DemandLowMax, c.Analysis.DemandHighMin)
	}
	if c.Analysis.BaseCurrency == "" {
		return fmt.Errorf("analysis.base_currency must not be empty")
	}
	if _, ok := c.Analysis.FXRates[c.Analysis.BaseCurrency]; !ok {
		c.Analysis.FXRates[c.Analysis.BaseCurrency] = 1.0
	}
	if c.Insights.MaxTextLength <= 0 {
		return fmt.Errorf("insights.max_text_length must be positive")
	}
	return nil
}

// WindowSize returns the observation window size as a duration.
func (c *AnalysisConfig) WindowSize() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}
