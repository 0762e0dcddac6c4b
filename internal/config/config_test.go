package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backtest:
  instruments: [AAPL, MSFT]
  start: "2012-05-01"
source:
  provider: csv
  csv:
    dir: testdata
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Backtest.Instruments) != 2 || cfg.Backtest.Instruments[1] != "MSFT" {
		t.Errorf("unexpected instruments: %v", cfg.Backtest.Instruments)
	}
	if !cfg.Backtest.Start.Equal(time.Date(2012, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start: %s", cfg.Backtest.Start)
	}
	if !cfg.Backtest.End.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected default end: %s", cfg.Backtest.End)
	}
	if cfg.Backtest.Commission != 0.001 {
		t.Errorf("expected default commission 0.001, got %f", cfg.Backtest.Commission)
	}
	if cfg.Backtest.Lookback != (LookbackRange{Min: 5, Max: 250, Step: 5}) {
		t.Errorf("unexpected lookback range: %+v", cfg.Backtest.Lookback)
	}
	if cfg.Backtest.Strategy != StrategyMomentum || cfg.Backtest.MA != (MAConfig{Fast: 20, Slow: 50}) {
		t.Errorf("unexpected strategy defaults: %s %+v", cfg.Backtest.Strategy, cfg.Backtest.MA)
	}
	if cfg.Report.Narrative.Enabled || cfg.Report.Narrative.Model != "gpt-4.1" || cfg.Report.Narrative.Timeout != 15*time.Second {
		t.Errorf("unexpected narrative defaults: %+v", cfg.Report.Narrative)
	}
	if cfg.Source.Yahoo.Timeout != 15*time.Second {
		t.Errorf("unexpected yahoo timeout: %s", cfg.Source.Yahoo.Timeout)
	}
	if cfg.Source.CSV.Dir != "testdata" {
		t.Errorf("unexpected csv dir: %s", cfg.Source.CSV.Dir)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
source:
  provider: yahoo
`)
	t.Setenv("MOMENTUM_BACKTEST_COMMISSION", "0.0025")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backtest.Commission != 0.0025 {
		t.Fatalf("expected env override 0.0025, got %f", cfg.Backtest.Commission)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	path := writeConfig(t, `
backtest:
  instruments: []
  start: "2020-01-01"
  end: "2019-01-01"
  commission: 1.5
  lookback:
    min: 0
source:
  provider: bloomberg
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{
		"backtest.instruments",
		"backtest.start",
		"backtest.commission",
		"backtest.lookback.min",
		"source.provider",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in error, got %v", want, err)
		}
	}
}

func TestValidate_TelegramRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `
report:
  telegram:
    enabled: true
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "report.telegram") {
		t.Fatalf("expected telegram validation error, got %v", err)
	}
}

func TestLoad_MACrossoverSkipsLookbackGrid(t *testing.T) {
	path := writeConfig(t, `
backtest:
  strategy: ma_crossover
  lookback:
    min: 0
  ma:
    fast: 10
    slow: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backtest.Strategy != StrategyMACrossover || cfg.Backtest.MA.Fast != 10 || cfg.Backtest.MA.Slow != 30 {
		t.Fatalf("unexpected backtest config: %+v", cfg.Backtest)
	}
}

func TestValidate_StrategyParameters(t *testing.T) {
	path := writeConfig(t, `
backtest:
  strategy: ma_crossover
  ma:
    fast: 50
    slow: 20
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "backtest.ma") {
		t.Fatalf("expected ma validation error, got %v", err)
	}

	path = writeConfig(t, `
backtest:
  strategy: breakout
`)
	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "backtest.strategy") {
		t.Fatalf("expected strategy validation error, got %v", err)
	}
}

func TestValidate_NarrativeRequiresAPIKey(t *testing.T) {
	path := writeConfig(t, `
report:
  narrative:
    enabled: true
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "report.narrative.api_key") {
		t.Fatalf("expected narrative validation error, got %v", err)
	}
}
