// Package config loads the tradeguard configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradeguard/backtest"
	"github.com/rustyeddy/tradeguard/engine"
	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/internal/resilience"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
	"github.com/rustyeddy/tradeguard/stress"
)

// Config is the complete tradeguard configuration.
type Config struct {
	Logging      logger.Config           `json:"logging" yaml:"logging"`
	Accounts     []portfolio.Account     `json:"accounts" yaml:"accounts"`
	RiskProfiles []risk.Profile          `json:"risk_profiles" yaml:"risk_profiles"`
	Strategies   []strategies.Strategy   `json:"strategies" yaml:"strategies"`
	Instruments  []market.InstrumentMeta `json:"instruments,omitempty" yaml:"instruments,omitempty"`
	Scenarios    []stress.Scenario       `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	Market       MarketConfig            `json:"market" yaml:"market"`
	Scheduler    engine.Cadences         `json:"scheduler" yaml:"scheduler"`
	Engine       engine.Config           `json:"engine" yaml:"engine"`
	Resilience   resilience.Config       `json:"resilience" yaml:"resilience"`
	Redis        store.RedisConfig       `json:"redis" yaml:"redis"`
	Kafka        events.KafkaConfig      `json:"kafka" yaml:"kafka"`
	Journal      JournalConfig           `json:"journal" yaml:"journal"`
	HTTP         HTTPConfig              `json:"http" yaml:"http"`
	Backtest     backtest.Config         `json:"backtest" yaml:"backtest"`
}

// MarketConfig names the CSV bar files replayed as market data, keyed by
// symbol. Relative paths resolve against DataDir.
type MarketConfig struct {
	DataDir string            `json:"data_dir" yaml:"data_dir"`
	Files   map[string]string `json:"files,omitempty" yaml:"files,omitempty"`
}

// Path returns the bar file for symbol.
func (m MarketConfig) Path(symbol string) string {
	p := m.Files[symbol]
	if p == "" || filepath.IsAbs(p) || m.DataDir == "" {
		return p
	}
	return filepath.Join(m.DataDir, p)
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "sqlite", "csv" or "none"
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
}

// HTTPConfig is the ops listener. An empty address disables it.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"` // gin mode: release, debug, test
}

// LoadFromFile loads configuration from a file, YAML or JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes data on top of the defaults, so a file only needs the
// sections it changes. Lists replace the default lists; maps merge into the
// default maps.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file, YAML for .yaml/.yml paths and
// JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	profiles := c.Profiles()
	if len(profiles) != len(c.RiskProfiles) {
		return fmt.Errorf("risk_profiles: duplicate id")
	}
	for _, p := range c.RiskProfiles {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	accounts := map[string]bool{}
	for _, a := range c.Accounts {
		switch {
		case a.ID == "":
			return fmt.Errorf("account.id is required")
		case accounts[a.ID]:
			return fmt.Errorf("account %s: duplicate id", a.ID)
		case a.Currency == "":
			return fmt.Errorf("account %s: currency is required", a.ID)
		case a.Balance <= 0:
			return fmt.Errorf("account %s: balance must be positive", a.ID)
		}
		if _, err := profiles.Profile(a.RiskProfileID); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
		accounts[a.ID] = true
	}

	ids := map[string]bool{}
	for _, s := range c.Strategies {
		if err := s.Validate(); err != nil {
			return err
		}
		if ids[s.ID] {
			return fmt.Errorf("strategy %s: duplicate id", s.ID)
		}
		ids[s.ID] = true
		if s.AccountID != "" && !accounts[s.AccountID] {
			return fmt.Errorf("strategy %s: unknown account %q", s.ID, s.AccountID)
		}
	}

	for _, s := range c.Scenarios {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	for _, m := range c.Instruments {
		if m.Symbol == "" {
			return fmt.Errorf("instrument symbol is required")
		}
		if m.Liquidity < 0 || m.Liquidity > 1 {
			return fmt.Errorf("instrument %s: liquidity must be between 0 and 1", m.Symbol)
		}
	}

	if err := c.validateRuntime(); err != nil {
		return err
	}
	return c.validateJournal()
}

func (c *Config) validateRuntime() error {
	s := c.Scheduler
	for name, d := range map[string]time.Duration{
		"evaluate": s.Evaluate, "mark_to_market": s.MarkToMarket, "rebalance": s.Rebalance,
		"metrics": s.Metrics, "stress": s.Stress, "housekeeping": s.Housekeeping,
	} {
		if d < 0 {
			return fmt.Errorf("scheduler.%s must not be negative", name)
		}
	}
	if c.Engine.Concurrency < 0 {
		return fmt.Errorf("engine.concurrency must not be negative")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries must not be negative")
	}
	if c.Backtest.InitialEquity <= 0 {
		return fmt.Errorf("backtest.initial_equity must be positive")
	}
	if c.Backtest.PositionPct < 0 || c.Backtest.PositionPct > 1 {
		return fmt.Errorf("backtest.position_pct must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateJournal() error {
	switch c.Journal.Type {
	case "", "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'none'")
	}
	return nil
}

// Profiles indexes the configured risk profiles by id.
func (c *Config) Profiles() risk.Profiles {
	out := make(risk.Profiles, len(c.RiskProfiles))
	for _, p := range c.RiskProfiles {
		out[p.ID] = p
	}
	return out
}

// ScenarioSet is the built-in scenarios with configured ones added. A
// configured scenario replaces a built-in one with the same id.
func (c *Config) ScenarioSet() []stress.Scenario {
	out := stress.Builtin()
	for _, s := range c.Scenarios {
		i := slices.IndexFunc(out, func(b stress.Scenario) bool { return b.ID == s.ID })
		if i >= 0 {
			out[i] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

// RegisterInstruments adds the configured instruments to the reference
// table. Call once at startup.
func (c *Config) RegisterInstruments() {
	for _, m := range c.Instruments {
		market.Instruments[m.Symbol] = m
	}
}

// Default returns a configuration with sensible defaults: one paper account
// on the moderate profile trading a trend and a mean-reversion strategy.
func Default() *Config {
	return &Config{
		Logging: logger.Default(),
		Accounts: []portfolio.Account{
			{ID: "paper-1", Currency: "USD", RiskProfileID: "moderate", Balance: 100000},
		},
		RiskProfiles: []risk.Profile{risk.DefaultProfile()},
		Strategies: []strategies.Strategy{
			{
				ID: "trend-us-equity", Name: "US equity trend", Type: strategies.TrendFollowing,
				Category: "trend", AccountID: "paper-1", Timeframes: []string{"1d"},
				Instruments: []string{"AAPL", "MSFT"},
				Parameters: map[string]float64{
					signals.ParamFastPeriod: 10,
					signals.ParamSlowPeriod: 30,
				},
				Active: true,
			},
			{
				ID: "meanrev-spy", Name: "SPY mean reversion", Type: strategies.MeanReversion,
				Category: "mean_reversion", AccountID: "paper-1", Timeframes: []string{"1d"},
				Instruments: []string{"SPY"},
				Parameters: map[string]float64{
					signals.ParamRSIPeriod: 14,
					signals.ParamOversold:  30,
				},
				Active: true,
			},
		},
		Market: MarketConfig{
			DataDir: "data",
			Files: map[string]string{
				"AAPL": "AAPL.csv",
				"MSFT": "MSFT.csv",
				"SPY":  "SPY.csv",
			},
		},
		Scheduler:  engine.DefaultCadences(),
		Engine:     engine.DefaultConfig(),
		Resilience: resilience.Default(),
		Redis:      store.RedisConfig{Prefix: "tradeguard:"},
		Journal:    JournalConfig{Type: "sqlite", DBPath: "tradeguard.db"},
		HTTP:       HTTPConfig{Addr: ":8080", Mode: "release"},
		Backtest:   backtest.DefaultConfig(),
	}
}
