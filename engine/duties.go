package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/stress"
)

// MarkToMarket revalues every open position at the current quote, books
// stop and take-profit exits and records account equity. A symbol whose
// quote fails keeps its last mark.
func (e *Engine) MarkToMarket(ctx context.Context) error {
	now := e.Clock()
	var errs []error
	for _, sym := range e.Book.Symbols() {
		q, err := e.Market.GetQuote(ctx, sym)
		if err != nil {
			errs = append(errs, fmt.Errorf("quote %s: %w", sym, err))
			continue
		}
		e.recordClosed(ctx, e.Book.MarkToMarket(sym, q.Price(), now))
	}
	for _, a := range e.Book.Accounts() {
		e.History.RecordEquity(a.ID, now, a.Equity)
		e.history(ctx, store.PositionsKey(a.ID), e.Book.OpenPositions(a.ID))
	}
	return errors.Join(errs...)
}

// Rebalance closes positions held longer than their account profile's
// maximum holding period.
func (e *Engine) Rebalance(ctx context.Context) error {
	now := e.Clock()
	var errs []error
	for _, a := range e.Book.Accounts() {
		prof, err := e.Profiles.Profile(a.RiskProfileID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prof.MaxHoldingPeriod <= 0 {
			continue
		}
		for _, p := range e.Book.OpenPositions(a.ID) {
			if now.Sub(p.OpenedAt) < prof.MaxHoldingPeriod {
				continue
			}
			price := p.CurrentPrice
			if q, err := e.Market.GetQuote(ctx, p.Symbol); err == nil && q.Price() > 0 {
				price = q.Price()
			}
			c, err := e.Book.Close(p.ID, price, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			e.log.Info("position closed at holding limit",
				zap.String("position_id", p.ID),
				zap.String("account_id", a.ID),
				zap.Duration("held", now.Sub(p.OpenedAt)))
			e.recordClosed(ctx, []portfolio.Closed{c})
		}
	}
	return errors.Join(errs...)
}

// RefreshMetrics recomputes every account's risk metrics, stores the
// snapshot and checks it against the account's profile.
func (e *Engine) RefreshMetrics(ctx context.Context) error {
	var errs []error
	bench := e.returns(ctx, e.cfg.Benchmark)
	for _, a := range e.Book.Accounts() {
		if err := ctx.Err(); err != nil {
			return err
		}
		positions := e.Book.OpenPositions(a.ID)
		symRets := make(map[string][]float64, len(positions))
		for _, p := range positions {
			if r := e.returns(ctx, p.Symbol); len(r) > 0 {
				symRets[p.Symbol] = r
			}
		}
		rm, err := portfolio.Compute(portfolio.Input{
			Account:       a,
			Positions:     positions,
			Returns:       e.History.Returns(a.ID),
			Benchmark:     bench,
			Equity:        e.History.Equity(a.ID),
			SymbolReturns: symRets,
			RiskFreeRate:  e.cfg.RiskFreeRate,
			Window:        e.cfg.ReturnsWindow,
			Now:           e.Clock(),
		})
		if err != nil && !errors.Is(err, portfolio.ErrInsufficientData) {
			errs = append(errs, err)
			continue
		}
		e.History.Append(rm)
		if e.Metrics != nil {
			e.Metrics.ObserveRisk(rm)
		}
		if e.Journal != nil {
			e.journal("metrics", e.Journal.RecordMetrics(ctx, rm))
		}
		e.cache(ctx, store.MetricsKey(a.ID), rm)
		if err := e.checkAlerts(ctx, alerts.Input{AccountID: a.ID, Metrics: &rm}, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StressSweep runs every scenario against every account.
func (e *Engine) StressSweep(ctx context.Context) error {
	if e.Stress == nil {
		return nil
	}
	accounts := e.Book.Accounts()
	snaps := make([]stress.Snapshot, len(accounts))
	for i, a := range accounts {
		snaps[i] = stress.Snapshot{AccountID: a.ID, Value: a.Equity, Positions: e.Book.OpenPositions(a.ID)}
	}
	sweep, err := e.Stress.SweepAll(ctx, snaps, e.cfg.Concurrency)
	if err != nil {
		return err
	}

	var errs []error
	for i, ar := range sweep {
		if ar.Err != nil {
			errs = append(errs, fmt.Errorf("stress %s: %w", ar.AccountID, ar.Err))
			continue
		}
		for _, r := range ar.Results {
			if e.Metrics != nil {
				e.Metrics.ObserveStress(r)
			}
			if e.Journal != nil {
				e.journal("stress", e.Journal.RecordStress(ctx, r))
			}
		}
		e.cache(ctx, store.StressKey(ar.AccountID), ar.Results)
		results := ar.Results
		if results == nil {
			results = []stress.Result{}
		}
		if err := e.checkAlerts(ctx, alerts.Input{AccountID: ar.AccountID, Stress: results}, accounts[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Housekeeping drops reservations nobody committed or released and prunes
// old finished signals.
func (e *Engine) Housekeeping(_ context.Context) error {
	now := e.Clock()
	for _, r := range e.Gate.Ledger().Expire(now.Add(-e.cfg.ReserveTTL)) {
		e.log.Warn("reservation expired", zap.String("signal_id", r.SignalID), zap.String("symbol", r.Symbol))
	}
	if n := e.Gate.Tracker().Prune(now.Add(-e.cfg.SignalTTL)); n > 0 {
		e.log.Debug("signals pruned", zap.Int("count", n))
	}
	return nil
}

func (e *Engine) checkAlerts(ctx context.Context, in alerts.Input, a portfolio.Account) error {
	if e.Alerts == nil {
		return nil
	}
	prof, err := e.Profiles.Profile(a.RiskProfileID)
	if err != nil {
		return err
	}
	in.Profile = prof
	_, err = e.Alerts.Evaluate(ctx, in)
	return err
}

// recordClosed feeds closed trades to strategy performance and the journal.
func (e *Engine) recordClosed(ctx context.Context, closed []portfolio.Closed) {
	for _, c := range closed {
		if c.Position.StrategyID != "" {
			if err := e.Catalog.RecordTrade(c.Position.StrategyID, c.PnL, c.Position.UpdatedAt); err != nil {
				e.log.Warn("trade not recorded", zap.String("strategy_id", c.Position.StrategyID), zap.Error(err))
			}
		}
		if e.Journal != nil {
			e.journal("trade", e.Journal.RecordTrade(ctx, c))
		}
	}
}

// returns fetches daily returns for symbol over the returns window. Errors
// leave the symbol out rather than fail the refresh.
func (e *Engine) returns(ctx context.Context, symbol string) []float64 {
	if symbol == "" {
		return nil
	}
	r, err := MarketReturns{Source: e.Market, Window: e.cfg.ReturnsWindow, Clock: e.Clock}.Returns(ctx, symbol)
	if err != nil {
		e.log.Debug("returns unavailable", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	return r
}

// MarketReturns derives daily returns from a data source. It serves the
// risk gate's correlation and volatility checks.
type MarketReturns struct {
	Source market.DataSource
	Window int
	Clock  func() time.Time
}

func (m MarketReturns) Returns(ctx context.Context, symbol string) ([]float64, error) {
	now := time.Now()
	if m.Clock != nil {
		now = m.Clock()
	}
	window := m.Window
	if window <= 0 {
		window = 252
	}
	candles, err := m.Source.GetHistoricalData(ctx, symbol, "1d", now.AddDate(0, 0, -window-1), now)
	if err != nil {
		return nil, err
	}
	return market.Returns(market.Closes(candles)), nil
}
