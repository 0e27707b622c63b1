package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Analysis.TrendThresholdPct != 0.10 {
		t.Errorf("default trend threshold = %v, want 0.10", cfg.Analysis.TrendThresholdPct)
	}
	if cfg.Analysis.DemandLowMax != 5 || cfg.Analysis.DemandHighMin != 20 {
		t.Errorf("default demand boundaries = %d/%d, want 5/20",
			cfg.Analysis.DemandLowMax, cfg.Analysis.DemandHighMin)
	}
	if cfg.Analysis.WindowSize().Hours() != 24 {
		t.Errorf("default window size = %v, want 24h", cfg.Analysis.WindowSize())
	}
	if cfg.Insights.Model != "gpt-4o-mini" {
		t.Errorf("default model = %q", cfg.Insights.Model)
	}
	if rate, ok := cfg.Analysis.FXRates["AUD"]; !ok || rate != 1.0 {
		t.Errorf("base currency rate = %v (present %v), want 1.0", rate, ok)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090

[analysis]
trend_threshold_pct = 0.25
min_trend_samples = 5

[providers.sample]
seed = 42
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Analysis.TrendThresholdPct != 0.25 {
		t.Errorf("trend threshold = %v, want 0.25", cfg.Analysis.TrendThresholdPct)
	}
	if cfg.Analysis.MinTrendSamples != 5 {
		t.Errorf("min trend samples = %d, want 5", cfg.Analysis.MinTrendSamples)
	}
	if cfg.Providers.Sample.Seed != 42 {
		t.Errorf("sample seed = %d, want 42", cfg.Providers.Sample.Seed)
	}
	// Untouched sections keep their defaults.
	if cfg.Storage.SQLitePath != "airmarket.db" {
		t.Errorf("sqlite path = %q, want default", cfg.Storage.SQLitePath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("AMADEUS_API_KEY", "amadeus-key")
	t.Setenv("AMADEUS_API_SECRET", "amadeus-secret")

	path := writeConfigFile(t, `
[insights]
openai_api_key = "sk-file"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Environment wins over the config file for secrets.
	if cfg.Insights.OpenAIAPIKey != "sk-env" {
		t.Errorf("openai key = %q, want env value", cfg.Insights.OpenAIAPIKey)
	}
	if cfg.Providers.Amadeus.APIKey != "amadeus-key" || cfg.Providers.Amadeus.APISecret != "amadeus-secret" {
		t.Errorf("amadeus credentials = %q/%q", cfg.Providers.Amadeus.APIKey, cfg.Providers.Amadeus.APISecret)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"invalid port", "[server]\nport = -1\n"},
		{"empty sqlite path", "[storage]\nsqlite_path = \"\"\n"},
		{"zero window days", "[analysis]\nwindow_days = 0\n"},
		{"demand boundaries inverted", "[analysis]\ndemand_low_max = 25\ndemand_high_min = 20\n"},
		{"zero max text length", "[insights]\nmax_text_length = 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.toml)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
