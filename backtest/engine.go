// Package backtest replays historical bars through the live signal
// generators and simulates the resulting trades.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/strategies"
)

// Exit reasons.
const (
	ExitStop      = "stop_loss"
	ExitTarget    = "take_profit"
	ExitStopFirst = "stop_loss_same_bar"
	ExitReversal  = "reversal"
	ExitEnd       = "end_of_data"
)

type Config struct {
	InitialEquity float64 `json:"initial_equity" yaml:"initial_equity"`
	// Quantity is the fixed trade size. When zero, each entry commits
	// PositionPct of current equity.
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	PositionPct float64 `json:"position_pct" yaml:"position_pct"`
	CloseAtEnd  bool    `json:"close_at_end" yaml:"close_at_end"`
}

func DefaultConfig() Config {
	return Config{InitialEquity: 100_000, PositionPct: 0.1, CloseAtEnd: true}
}

type Trade struct {
	ID         string         `json:"id"`
	SignalID   string         `json:"signal_id"`
	Symbol     string         `json:"symbol"`
	Side       portfolio.Side `json:"side"`
	Quantity   float64        `json:"quantity"`
	EntryIdx   int            `json:"entry_idx"`
	ExitIdx    int            `json:"exit_idx"`
	EntryTime  time.Time      `json:"entry_time"`
	ExitTime   time.Time      `json:"exit_time"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price"`
	PnL        float64        `json:"pnl"`
	Reason     string         `json:"reason"`
}

// Point is one sample of a curve.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Summary struct {
	InitialEquity float64 `json:"initial_equity"`
	FinalEquity   float64 `json:"final_equity"`
	TotalReturn   float64 `json:"total_return"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	Sharpe        float64 `json:"sharpe"`
	Signals       int     `json:"signals"`
	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
}

type Result struct {
	StrategyID string  `json:"strategy_id"`
	Symbol     string  `json:"symbol"`
	Trades     []Trade `json:"trades"`
	Equity     []Point `json:"equity"`
	Drawdown   []Point `json:"drawdown"`
	Summary    Summary `json:"summary"`
}

// JSON renders the result. Identical input gives identical bytes.
func (r Result) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

type position struct {
	signalID  string
	side      float64
	qty       float64
	entry     float64
	stop      *float64
	target    *float64
	entryIdx  int
	entryTime time.Time
}

// Engine runs backtests against a signal registry.
type Engine struct {
	reg *signals.Registry
	cfg Config
	log *zap.Logger
}

func NewEngine(reg *signals.Registry, cfg Config, log *zap.Logger) *Engine {
	if reg == nil {
		reg = signals.NewRegistry()
	}
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = DefaultConfig().InitialEquity
	}
	if cfg.Quantity <= 0 && cfg.PositionPct <= 0 {
		cfg.PositionPct = DefaultConfig().PositionPct
	}
	return &Engine{reg: reg, cfg: cfg, log: logger.OrNop(log)}
}

// run holds the state of one replay.
type run struct {
	cfg    Config
	symbol string
	cash   float64
	pos    *position
	trades []Trade
	seq    *id.Sequence
}

// Run replays candles in order. At bar i the generator sees candles[0..i]
// only; entries fill at the bar close and exits are checked from the next
// bar on, stop before target. A generator error fails the run.
func (e *Engine) Run(ctx context.Context, strat strategies.Strategy, symbol string, candles []market.Candle) (Result, error) {
	if _, ok := e.reg.Get(strat.Type); !ok {
		return Result{}, fmt.Errorf("backtest %s: %w: %s", strat.ID, signals.ErrUnsupported, strat.Type)
	}
	if symbol == "" {
		return Result{}, errs.Validation("backtest", "symbol is required")
	}

	r := &run{
		cfg:    e.cfg,
		symbol: symbol,
		cash:   e.cfg.InitialEquity,
		seq:    id.NewSequence("trade"),
	}
	res := Result{StrategyID: strat.ID, Symbol: symbol, Trades: []Trade{}}
	equity := make([]float64, 0, len(candles))

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if r.pos != nil && i > r.pos.entryIdx {
			if px, reason, hit := checkExit(r.pos, c); hit {
				r.close(i, c.Time, px, reason)
			}
		}

		barID := fmt.Sprintf("%s-%s-%06d", strat.ID, symbol, i)
		in := signals.Input{
			Strategy: strat,
			Symbol:   symbol,
			Candles:  candles[: i+1 : i+1],
			Now:      c.Time,
			NewID:    func() string { return barID },
		}
		sig, err := e.reg.Evaluate(ctx, in)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Result{}, err
		case err != nil:
			e.log.Warn("backtest evaluation failed", zap.String("strategy_id", strat.ID), zap.Int("bar", i), zap.Error(err))
			return Result{}, fmt.Errorf("backtest %s bar %d: %w", strat.ID, i, err)
		case sig != nil && sig.Actionable():
			res.Summary.Signals++
			r.onSignal(i, c, sig)
		}

		eq := r.equity(c.Close)
		equity = append(equity, eq)
		res.Equity = append(res.Equity, Point{Time: c.Time, Value: eq})
	}

	if r.pos != nil && r.cfg.CloseAtEnd && len(candles) > 0 {
		last := candles[len(candles)-1]
		r.close(len(candles)-1, last.Time, last.Close, ExitEnd)
	}

	for i, dd := range portfolio.DrawdownSeries(equity) {
		res.Drawdown = append(res.Drawdown, Point{Time: res.Equity[i].Time, Value: dd})
	}
	res.Trades = append(res.Trades, r.trades...)
	res.Summary = summarize(res.Summary.Signals, e.cfg.InitialEquity, equity, r.trades)
	return res, nil
}

func (r *run) onSignal(i int, c market.Candle, sig *signals.Signal) {
	side := sig.Side()
	if r.pos != nil {
		if r.pos.side == side {
			return
		}
		r.close(i, c.Time, c.Close, ExitReversal)
	}

	qty := r.cfg.Quantity
	if qty <= 0 {
		qty = r.equity(c.Close) * r.cfg.PositionPct / c.Close
	}
	if qty <= 0 {
		return
	}
	r.pos = &position{
		signalID:  sig.ID,
		side:      side,
		qty:       qty,
		entry:     c.Close,
		stop:      sig.StopLoss,
		target:    sig.TargetPrice,
		entryIdx:  i,
		entryTime: c.Time,
	}
}

func (r *run) close(i int, at time.Time, px float64, reason string) {
	p := r.pos
	r.pos = nil
	pnl := p.side * p.qty * (px - p.entry)
	r.cash += pnl
	r.trades = append(r.trades, Trade{
		ID:         r.seq.Next(),
		SignalID:   p.signalID,
		Symbol:     r.symbol,
		Side:       portfolio.SideOf(p.side),
		Quantity:   p.qty,
		EntryIdx:   p.entryIdx,
		ExitIdx:    i,
		EntryTime:  p.entryTime,
		ExitTime:   at,
		EntryPrice: p.entry,
		ExitPrice:  px,
		PnL:        pnl,
		Reason:     reason,
	})
}

func (r *run) equity(mark float64) float64 {
	if r.pos == nil {
		return r.cash
	}
	return r.cash + r.pos.side*r.pos.qty*(mark-r.pos.entry)
}

// checkExit reports a stop or target touched within c. When both are inside
// the bar the stop is assumed to have filled first.
func checkExit(p *position, c market.Candle) (px float64, reason string, hit bool) {
	var stopHit, targetHit bool
	if p.side > 0 {
		stopHit = p.stop != nil && c.Low <= *p.stop
		targetHit = p.target != nil && c.High >= *p.target
	} else {
		stopHit = p.stop != nil && c.High >= *p.stop
		targetHit = p.target != nil && c.Low <= *p.target
	}
	switch {
	case stopHit && targetHit:
		return *p.stop, ExitStopFirst, true
	case stopHit:
		return *p.stop, ExitStop, true
	case targetHit:
		return *p.target, ExitTarget, true
	}
	return 0, "", false
}

func summarize(signalCount int, initial float64, equity []float64, trades []Trade) Summary {
	s := Summary{InitialEquity: initial, FinalEquity: initial, Signals: signalCount, Trades: len(trades)}
	if n := len(equity); n > 0 {
		s.FinalEquity = equity[n-1]
	}
	for _, t := range trades {
		if t.PnL > 0 {
			s.Wins++
		} else if t.PnL < 0 {
			s.Losses++
		}
	}
	if initial > 0 {
		s.TotalReturn = (s.FinalEquity - initial) / initial
	}
	s.MaxDrawdown, _ = portfolio.Drawdown(equity)
	s.Sharpe = portfolio.Sharpe(market.Returns(equity), 0)
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	var gross, loss float64
	for _, t := range trades {
		if t.PnL > 0 {
			gross += t.PnL
		} else {
			loss -= t.PnL
		}
	}
	if loss > 0 {
		s.ProfitFactor = gross / loss
	}
	return s
}
