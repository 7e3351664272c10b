// Package config loads and validates the pipeline's JSON configuration
// file, with env var overrides the way the teacher's internal/config
// package layers POLY_* overrides on top of its YAML file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, read from a single JSON file
// per spec §6.
type Config struct {
	Exchanges                  []string `mapstructure:"exchanges"`
	Exchange                   string   `mapstructure:"exchange"` // legacy scalar fallback
	Instruments                []string `mapstructure:"instruments"`
	OrderBookDepth             int      `mapstructure:"orderBookDepth"`
	OrderBookPollFrequencyInMs int      `mapstructure:"orderBookPollFrequencyInMs"`

	Publisher PublisherConfig `mapstructure:"publisher"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Trader    TraderConfig    `mapstructure:"trader"`
}

// PublisherConfig configures the fan-out pub/sub bus.
type PublisherConfig struct {
	URL         string `mapstructure:"url"`
	TopicPrefix string `mapstructure:"topicPrefix"`
	QueueDepth  int    `mapstructure:"queueDepth"`
}

// StoreConfig configures the durable relational batch writer.
type StoreConfig struct {
	DBPath          string `mapstructure:"dbPath"`
	QueueDepth      int    `mapstructure:"queueDepth"`
	FlushIntervalMs int    `mapstructure:"flushIntervalMs"`
}

// LoggingConfig selects slog handler shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RiskConfig bounds the live order router.
type RiskConfig struct {
	MaxPositionPerKeyUSD float64 `mapstructure:"maxPositionPerKeyUSD"`
	MaxDailyLossUSD      float64 `mapstructure:"maxDailyLossUSD"`
	KillSwitchDropPct    float64 `mapstructure:"killSwitchDropPct"`
	KillSwitchWindowSec  int     `mapstructure:"killSwitchWindowSec"`
}

// PaperConfig sizes and persists the paper-trading harness.
type PaperConfig struct {
	NotionalUSD float64 `mapstructure:"notionalUSD"`
	PersistDir  string  `mapstructure:"persistDir"`
}

// TraderConfig wires the subscriber process: which consumer(s) run, where
// the live trader appends its fills, and how often the reconciler folds
// them into the trades ledger.
type TraderConfig struct {
	Mode                 string `mapstructure:"mode"` // "paper", "live", or "both"
	Category             string `mapstructure:"category"`
	ExecutionsLedgerPath string `mapstructure:"executionsLedgerPath"`
	TradesLedgerPath     string `mapstructure:"tradesLedgerPath"`
	ReconcileIntervalSec int    `mapstructure:"reconcileIntervalSec"`
}

// Load reads config from a JSON file with MDAGG_* env var overrides,
// mirroring the teacher's POLY_* prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("MDAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("publisher.topicPrefix", "state.")
	v.SetDefault("publisher.queueDepth", 10000)
	v.SetDefault("store.queueDepth", 50000)
	v.SetDefault("store.flushIntervalMs", 200)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("paper.notionalUSD", 100.0)
	v.SetDefault("paper.persistDir", "paper_positions")
	v.SetDefault("trader.mode", "paper")
	v.SetDefault("trader.category", "spot")
	v.SetDefault("trader.executionsLedgerPath", "executions.jsonl")
	v.SetDefault("trader.tradesLedgerPath", "trades.jsonl")
	v.SetDefault("trader.reconcileIntervalSec", 30)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Legacy scalar `exchange` fallback when `exchanges` is absent.
	if len(cfg.Exchanges) == 0 && cfg.Exchange != "" {
		cfg.Exchanges = []string{cfg.Exchange}
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges per spec §6.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("exchanges (or legacy exchange) is required")
	}
	for _, ex := range c.Exchanges {
		switch ex {
		case "binance", "bybit":
		default:
			return fmt.Errorf("exchanges: unsupported exchange %q", ex)
		}
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments is required and must be non-empty")
	}
	if c.OrderBookDepth <= 0 {
		return fmt.Errorf("orderBookDepth must be > 0")
	}
	if c.OrderBookPollFrequencyInMs < 1 {
		return fmt.Errorf("orderBookPollFrequencyInMs must be >= 1")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.dbPath is required")
	}
	return nil
}
