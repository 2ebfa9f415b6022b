package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
)

// Cycle counts one evaluation pass.
type Cycle struct {
	Evaluations int64 `json:"evaluations"`
	Signals     int64 `json:"signals"`
	Approved    int64 `json:"approved"`
	Rejected    int64 `json:"rejected"`
	Filled      int64 `json:"filled"`
	Errors      int64 `json:"errors"`
}

// Outcome is what became of one signal.
type Outcome struct {
	Signal   *signals.Signal       `json:"signal"`
	Decision *risk.Decision        `json:"decision,omitempty"`
	Order    *execution.Order      `json:"order,omitempty"`
	Pair     *execution.PairResult `json:"pair,omitempty"`
	Status   signals.Status        `json:"status"`
}

// EvaluateAll runs every active strategy on each of its instruments, at most
// Concurrency at a time. A failed evaluation is logged and counted; it does
// not stop the cycle.
func (e *Engine) EvaluateAll(ctx context.Context) (Cycle, error) {
	var (
		c  Cycle
		mu sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, strat := range e.Catalog.Active() {
		for _, symbol := range strat.Instruments {
			g.Go(func() error {
				atomic.AddInt64(&c.Evaluations, 1)
				out, err := e.EvaluateOne(gctx, strat, symbol)
				if err != nil {
					atomic.AddInt64(&c.Errors, 1)
					if e.Metrics != nil {
						e.Metrics.ObserveEvalError(strat.ID)
					}
					e.log.Warn("evaluation failed",
						zap.String("strategy_id", strat.ID),
						zap.String("symbol", symbol),
						zap.Error(err))
				}
				if out == nil {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				c.Signals++
				if out.Decision != nil {
					if out.Decision.Approved {
						c.Approved++
					} else {
						c.Rejected++
					}
				}
				if out.Status == signals.StatusFilled || out.Status == signals.StatusPartial {
					c.Filled++
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return c, ctx.Err()
}

// EvaluateOne generates a signal for one (strategy, symbol) and, when there
// is one, takes it through the gate and execution. A nil outcome with a nil
// error means no signal this cycle.
func (e *Engine) EvaluateOne(ctx context.Context, strat strategies.Strategy, symbol string) (*Outcome, error) {
	in, err := e.input(ctx, strat, symbol)
	if err != nil {
		return nil, err
	}
	sig, err := e.Registry.Evaluate(ctx, in)
	if errors.Is(err, signals.ErrUnsupported) {
		e.log.Debug("strategy type has no generator", zap.String("strategy_id", strat.ID), zap.String("type", string(strat.Type)))
		return nil, nil
	}
	if err != nil || sig == nil {
		return nil, err
	}
	out, err := e.Process(ctx, strat, sig)
	return &out, err
}

// input gathers market data for an evaluation. Any market data failure
// means no signal this cycle.
func (e *Engine) input(ctx context.Context, strat strategies.Strategy, symbol string) (signals.Input, error) {
	now := e.Clock()
	in := signals.Input{Strategy: strat, Symbol: symbol, Now: now}

	q, err := e.Market.GetQuote(ctx, symbol)
	if err != nil {
		return in, fmt.Errorf("quote %s: %w", symbol, err)
	}
	in.Quote = q

	tf := strat.Timeframe()
	step, ok := market.TimeframeDuration(tf)
	if !ok {
		return in, errs.Validation("engine.input", "strategy %s: unknown timeframe %q", strat.ID, tf)
	}
	from := now.Add(-time.Duration(e.cfg.Lookback) * step)
	candles, err := e.Market.GetHistoricalData(ctx, symbol, tf, from, now)
	if err != nil {
		return in, fmt.Errorf("history %s: %w", symbol, err)
	}
	in.Candles = candles

	switch strat.Type {
	case strategies.Arbitrage:
		vs, ok := e.Market.(market.VenueSource)
		if !ok {
			return in, nil
		}
		if in.Venues, err = vs.GetVenueQuotes(ctx, symbol, nil); err != nil {
			return in, fmt.Errorf("venue quotes %s: %w", symbol, err)
		}
	case strategies.MarketMaking:
		if bs, ok := e.Market.(market.BookSource); ok {
			book, err := bs.GetOrderBook(ctx, symbol)
			if err != nil {
				return in, fmt.Errorf("order book %s: %w", symbol, err)
			}
			in.Book = &book
		}
		in.Inventory = &signals.Inventory{}
		for _, p := range e.Book.OpenPositions(strat.AccountID) {
			if p.Symbol == symbol {
				in.Inventory.Quantity = p.Quantity
				in.Inventory.AvgPrice = p.EntryPrice
			}
		}
	case strategies.Sentiment, strategies.MLBased:
		scores, err := e.Market.GetMarketSentiment(ctx)
		if err != nil {
			return in, fmt.Errorf("sentiment: %w", err)
		}
		if s, ok := scores[symbol]; ok {
			in.Sentiment = &s
		}
	}
	return in, nil
}

// Process takes a generated signal through history, the gate, execution
// and the book. Hold signals are recorded but never gated.
func (e *Engine) Process(ctx context.Context, strat strategies.Strategy, sig *signals.Signal) (Outcome, error) {
	out := Outcome{Signal: sig, Status: signals.StatusGenerated}
	if e.Metrics != nil {
		e.Metrics.ObserveSignal(strat.ID, string(sig.Type))
	}
	if e.Journal != nil {
		e.journal("signal", e.Journal.RecordSignal(ctx, sig))
	}
	e.history(ctx, store.SignalsKey(strat.ID), sig)
	if !sig.Actionable() {
		return out, nil
	}

	qty, err := e.size(strat, sig)
	if err != nil {
		return out, err
	}
	d := e.Gate.Check(ctx, risk.Request{Signal: sig, AccountID: strat.AccountID, Quantity: qty, Risk: strat.Risk})
	out.Decision = &d
	if e.Metrics != nil {
		e.Metrics.ObserveDecision(d)
	}
	if e.Journal != nil {
		e.journal("decision", e.Journal.RecordDecision(ctx, d))
	}
	if !d.Approved {
		out.Status = signals.StatusRejected
		return out, nil
	}
	out.Status = signals.StatusApproved
	e.publish(ctx, events.TopicSignal, sig.Symbol, sig)

	tracker := e.Gate.Tracker()
	now := e.Clock()
	if err := tracker.Transition(sig.ID, signals.StatusSubmitted, now); err != nil {
		e.Gate.Ledger().Release(d.AccountID, sig.ID)
		return out, err
	}
	out.Status = signals.StatusSubmitted

	if sig.Metadata["strategy"] == "arbitrage" {
		return e.executePair(ctx, strat, sig, d, out)
	}

	order, err := e.Orders.CreateOrder(ctx, execution.SpecFor(sig, d))
	if err != nil {
		e.Gate.Ledger().Release(d.AccountID, sig.ID)
		_ = tracker.Transition(sig.ID, signals.StatusFailed, e.Clock())
		out.Status = signals.StatusFailed
		if e.Metrics != nil {
			e.Metrics.ObserveOrder(string(execution.OrderFailed))
		}
		return out, err
	}
	out.Order = &order
	e.settle(ctx, d, order)

	out.Status = order.SignalStatus()
	if err := tracker.Transition(sig.ID, out.Status, e.Clock()); err != nil {
		e.log.Warn("signal transition failed", zap.String("signal_id", sig.ID), zap.Error(err))
	}
	return out, nil
}

// settle books an order's fill and reconciles the gate's reservation.
func (e *Engine) settle(ctx context.Context, d risk.Decision, o execution.Order) {
	if e.Metrics != nil {
		e.Metrics.ObserveOrder(string(o.Status))
	}
	if e.Journal != nil {
		e.journal("order", e.Journal.RecordOrder(ctx, o))
	}
	if !o.Filled() {
		e.Gate.Ledger().Release(d.AccountID, d.SignalID)
		return
	}
	closed, err := e.Book.Apply(o.Fill())
	e.Gate.Ledger().Commit(d.AccountID, d.SignalID)
	if err != nil {
		e.log.Error("fill not booked", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	e.recordClosed(ctx, closed)
	e.history(ctx, store.PositionsKey(d.AccountID), e.Book.OpenPositions(d.AccountID))
}

func (e *Engine) executePair(ctx context.Context, strat strategies.Strategy, sig *signals.Signal, d risk.Decision, out Outcome) (Outcome, error) {
	opp := signals.Opportunity{
		Symbol:    sig.Symbol,
		BuyVenue:  sig.Metadata["buy_venue"],
		SellVenue: sig.Metadata["sell_venue"],
		BuyPrice:  sig.Price,
	}
	opp.SellPrice, _ = strconv.ParseFloat(sig.Metadata["sell_price"], 64)
	opp.NetProfitPct, _ = strconv.ParseFloat(sig.Metadata["net_profit_pct"], 64)

	res := e.Arbitrage.Execute(ctx, d.AccountID, sig.ID, opp, d.Quantity())
	out.Pair = &res
	for _, o := range []execution.Order{res.Buy, res.Sell} {
		if o.ID == "" {
			continue
		}
		o.StrategyID = strat.ID
		e.settle(ctx, d, o)
	}
	if res.Unwind != nil {
		e.settle(ctx, d, *res.Unwind)
	}
	e.Gate.Ledger().Release(d.AccountID, sig.ID)

	switch res.Status {
	case execution.Hedged:
		out.Status = signals.StatusFilled
	case execution.PartiallyHedged:
		out.Status = signals.StatusPartial
	default:
		out.Status = signals.StatusFailed
	}
	if res.NeedsIntervention {
		e.log.Error("arbitrage pair needs intervention", zap.String("signal_id", sig.ID), zap.String("pair", res.String()))
	}
	if err := e.Gate.Tracker().Transition(sig.ID, out.Status, e.Clock()); err != nil {
		e.log.Warn("signal transition failed", zap.String("signal_id", sig.ID), zap.Error(err))
	}
	return out, nil
}

// size is the quantity requested from the gate: the amount that loses the
// profile's risk-per-trade at the signal's stop, or the profile's position
// cap when the signal has no usable stop. The gate clips it further.
func (e *Engine) size(strat strategies.Strategy, sig *signals.Signal) (float64, error) {
	acct, err := e.Book.Account(strat.AccountID)
	if err != nil {
		return 0, err
	}
	prof, err := e.Profiles.Profile(acct.RiskProfileID)
	if err != nil {
		return 0, err
	}
	stop := sig.Price * (1 - sig.Side()*prof.StopLossPct)
	if sig.StopLoss != nil {
		stop = *sig.StopLoss
	}
	if qty := risk.SizeByRisk(acct.Equity, prof.RiskPerTradePct, sig.Price, stop); qty > 0 {
		return qty, nil
	}
	return acct.Equity * prof.MaxPositionSizePct / sig.Price, nil
}
