// Package engine wires market data, signal generation, the risk gate,
// execution and portfolio risk into the duties the scheduler runs.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/obs"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
	"github.com/rustyeddy/tradeguard/stress"
)

// Recorder journals what the engine does. The sqlite journal implements it.
type Recorder interface {
	RecordSignal(ctx context.Context, s *signals.Signal) error
	RecordDecision(ctx context.Context, d risk.Decision) error
	RecordOrder(ctx context.Context, o execution.Order) error
	RecordTrade(ctx context.Context, c portfolio.Closed) error
	RecordMetrics(ctx context.Context, m portfolio.RiskMetrics) error
	RecordStress(ctx context.Context, r stress.Result) error
}

type Config struct {
	Concurrency   int           `json:"concurrency" yaml:"concurrency"`       // evaluations in flight
	Lookback      int           `json:"lookback" yaml:"lookback"`             // bars of history per evaluation
	ReturnsWindow int           `json:"returns_window" yaml:"returns_window"` // daily bars used for symbol returns
	Benchmark     string        `json:"benchmark" yaml:"benchmark"`           // symbol whose returns feed beta and alpha
	RiskFreeRate  float64       `json:"risk_free_rate" yaml:"risk_free_rate"` // per period
	HistoryKeep   int64         `json:"history_keep" yaml:"history_keep"`     // entries kept per KV history list
	MetricsTTL    time.Duration `json:"metrics_ttl" yaml:"metrics_ttl"`       // TTL of the latest metrics and stress keys
	ReserveTTL    time.Duration `json:"reserve_ttl" yaml:"reserve_ttl"`       // age at which unconsumed reservations are dropped
	SignalTTL     time.Duration `json:"signal_ttl" yaml:"signal_ttl"`         // age at which terminal signals are pruned
}

func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		Lookback:      100,
		ReturnsWindow: 252,
		Benchmark:     "SPY",
		HistoryKeep:   1000,
		MetricsTTL:    24 * time.Hour,
		ReserveTTL:    5 * time.Minute,
		SignalTTL:     24 * time.Hour,
	}
}

// Deps are the engine's collaborators. Market, Catalog, Registry, Gate,
// Book, History, Profiles and Orders are required; the rest are skipped
// when nil.
type Deps struct {
	Market    market.DataSource
	Catalog   *strategies.Catalog
	Registry  *signals.Registry
	Gate      *risk.Gate
	Book      *portfolio.Book
	History   *portfolio.History
	Profiles  risk.ProfileSource
	Orders    execution.OrderService
	Arbitrage *execution.ArbitrageExecutor
	Stress    *stress.Engine
	Alerts    *alerts.Manager
	Events    events.Publisher
	KV        store.KV
	Journal   Recorder
	Metrics   *obs.Metrics
	Clock     func() time.Time
	Log       *zap.Logger
}

type Engine struct {
	cfg Config
	Deps
	log *zap.Logger
}

func New(cfg Config, d Deps) (*Engine, error) {
	switch {
	case d.Market == nil:
		return nil, errors.New("engine: market data source is required")
	case d.Catalog == nil || d.Registry == nil:
		return nil, errors.New("engine: strategy catalog and generator registry are required")
	case d.Gate == nil || d.Profiles == nil:
		return nil, errors.New("engine: risk gate and profiles are required")
	case d.Book == nil || d.History == nil:
		return nil, errors.New("engine: book and history are required")
	case d.Orders == nil:
		return nil, errors.New("engine: order service is required")
	}
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.ReturnsWindow <= 0 {
		cfg.ReturnsWindow = def.ReturnsWindow
	}
	if cfg.HistoryKeep <= 0 {
		cfg.HistoryKeep = def.HistoryKeep
	}
	if cfg.ReserveTTL <= 0 {
		cfg.ReserveTTL = def.ReserveTTL
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = def.SignalTTL
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	e := &Engine{cfg: cfg, Deps: d, log: logger.OrNop(d.Log)}
	if e.Arbitrage == nil {
		e.Arbitrage = execution.NewArbitrageExecutor(d.Orders, e.log)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) publish(ctx context.Context, topic, key string, v any) {
	if e.Events == nil {
		return
	}
	ev, err := events.New(topic, key, v, e.Clock())
	if err == nil {
		err = e.Events.Publish(ctx, ev)
	}
	if err != nil {
		e.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// history pushes v onto a capped KV list. Failures are logged; history is
// best effort.
func (e *Engine) history(ctx context.Context, key string, v any) {
	if e.KV == nil {
		return
	}
	if err := store.PushJSON(ctx, e.KV, key, e.cfg.HistoryKeep, v); err != nil {
		e.log.Warn("history push failed", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) cache(ctx context.Context, key string, v any) {
	if e.KV == nil {
		return
	}
	if err := store.SetJSON(ctx, e.KV, key, v, e.cfg.MetricsTTL); err != nil {
		e.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) journal(what string, err error) {
	if err != nil {
		e.log.Warn("journal write failed", zap.String("record", what), zap.Error(err))
	}
}
