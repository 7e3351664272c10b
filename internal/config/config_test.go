package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesExchangesAndInstruments(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"exchanges": ["binance", "bybit"],
		"instruments": ["BTCUSDT"],
		"orderBookDepth": 20,
		"orderBookPollFrequencyInMs": 50,
		"store": {"dbPath": "state.db"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Exchanges) != 2 || cfg.Exchanges[0] != "binance" || cfg.Exchanges[1] != "bybit" {
		t.Errorf("exchanges = %v", cfg.Exchanges)
	}
	if cfg.OrderBookPollFrequencyInMs != 50 {
		t.Errorf("pollFrequency = %d, want 50", cfg.OrderBookPollFrequencyInMs)
	}
	// Defaults should populate when the file omits nested sections.
	if cfg.Publisher.TopicPrefix != "state." {
		t.Errorf("topicPrefix default = %q, want state.", cfg.Publisher.TopicPrefix)
	}
	if cfg.Store.QueueDepth != 50000 {
		t.Errorf("store queueDepth default = %d, want 50000", cfg.Store.QueueDepth)
	}
	if cfg.Trader.Mode != "paper" {
		t.Errorf("trader mode default = %q, want paper", cfg.Trader.Mode)
	}
	if cfg.Trader.ReconcileIntervalSec != 30 {
		t.Errorf("trader reconcileIntervalSec default = %d, want 30", cfg.Trader.ReconcileIntervalSec)
	}
}

func TestLoadFallsBackToLegacyScalarExchange(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"exchange": "binance",
		"instruments": ["ETHUSDT"],
		"orderBookDepth": 10,
		"orderBookPollFrequencyInMs": 100,
		"store": {"dbPath": "state.db"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Exchanges) != 1 || cfg.Exchanges[0] != "binance" {
		t.Errorf("exchanges = %v, want [binance] via legacy fallback", cfg.Exchanges)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Exchanges:                  []string{"binance"},
			Instruments:                []string{"BTCUSDT"},
			OrderBookDepth:             20,
			OrderBookPollFrequencyInMs: 50,
			Store:                      StoreConfig{DBPath: "state.db"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no exchanges", func(c *Config) { c.Exchanges = nil }},
		{"unsupported exchange", func(c *Config) { c.Exchanges = []string{"coinbase"} }},
		{"no instruments", func(c *Config) { c.Instruments = nil }},
		{"zero depth", func(c *Config) { c.OrderBookDepth = 0 }},
		{"zero poll frequency", func(c *Config) { c.OrderBookPollFrequencyInMs = 0 }},
		{"missing db path", func(c *Config) { c.Store.DBPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Exchanges:                  []string{"binance", "bybit"},
		Instruments:                []string{"BTCUSDT", "ETHUSDT"},
		OrderBookDepth:             20,
		OrderBookPollFrequencyInMs: 50,
		Store:                      StoreConfig{DBPath: "state.db"},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
