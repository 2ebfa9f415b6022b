package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/backtest"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/stress"
)

// SQLite is the sqlite-backed journal. It satisfies the engine's recorder
// and the alert manager's recorder.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under the
	// engine's concurrent evaluations.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func (j *SQLite) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		return errs.External("journal."+op, err)
	}
	return nil
}

func (j *SQLite) RecordSignal(ctx context.Context, s *signals.Signal) error {
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return err
	}
	return j.exec(ctx, "signal", `
		INSERT OR IGNORE INTO signals
		(signal_id, strategy_id, symbol, type, strength, confidence, price, target_price, stop_loss, reasoning, metadata, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StrategyID, s.Symbol, string(s.Type), s.Strength, s.Confidence, s.Price,
		nullable(s.TargetPrice), nullable(s.StopLoss), s.Reasoning, string(meta), s.Timestamp.UTC(),
	)
}

func (j *SQLite) RecordDecision(ctx context.Context, d risk.Decision) error {
	viol, err := json.Marshal(d.Violations)
	if err != nil {
		return err
	}
	warn, err := json.Marshal(d.Warnings)
	if err != nil {
		return err
	}
	return j.exec(ctx, "decision", `
		INSERT OR REPLACE INTO decisions
		(signal_id, account_id, symbol, approved, reason, requested_quantity, quantity, required_stop, notional, post_leverage, post_var, violations, warnings, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SignalID, d.AccountID, d.Symbol, d.Approved, d.Reason, d.RequestedQuantity, d.Quantity(),
		nullable(d.RequiredStop), d.Notional, d.PostLeverage, d.PostVaR, string(viol), string(warn), d.At.UTC(),
	)
}

func (j *SQLite) RecordOrder(ctx context.Context, o execution.Order) error {
	return j.exec(ctx, "order", `
		INSERT OR REPLACE INTO orders
		(order_id, client_id, account_id, strategy_id, symbol, venue, status, quantity, filled_quantity, avg_price, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientID, o.AccountID, o.StrategyID, o.Symbol, o.Venue, string(o.Status),
		o.Quantity, o.FilledQuantity, o.AvgPrice, o.Reason, o.CreatedAt.UTC(),
	)
}

// RecordTrade journals a close from the live book.
func (j *SQLite) RecordTrade(ctx context.Context, c portfolio.Closed) error {
	return j.InsertTrade(ctx, TradeFromClosed(c))
}

func (j *SQLite) InsertTrade(ctx context.Context, t TradeRecord) error {
	return j.exec(ctx, "trade", `
		INSERT INTO trades
		(trade_id, run_id, account_id, strategy_id, position_id, instrument, units, entry_price, exit_price, open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.AccountID, t.StrategyID, t.PositionID, t.Symbol, t.Quantity,
		t.EntryPrice, t.ExitPrice, t.OpenTime.UTC(), t.CloseTime.UTC(), t.RealizedPL, t.Reason,
	)
}

func (j *SQLite) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	return j.exec(ctx, "equity", `
		INSERT INTO equity
		(time, run_id, account_id, balance, equity, margin_used, free_margin, margin_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.RunID, e.AccountID, e.Balance, e.Equity, e.MarginUsed, e.FreeMargin, e.MarginLevel,
	)
}

func (j *SQLite) RecordMetrics(ctx context.Context, m portfolio.RiskMetrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return j.exec(ctx, "metrics", `
		INSERT INTO risk_metrics
		(account_id, time, portfolio_value, leverage, var_95, var_99, max_drawdown, sharpe, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, m.Timestamp.UTC(), m.PortfolioValue, m.Leverage, m.VaR95, m.VaR99,
		m.MaxDrawdown, m.Sharpe, string(payload),
	)
}

func (j *SQLite) RecordStress(ctx context.Context, r stress.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	// Money columns keep the decimal text so nothing is lost to float rounding.
	return j.exec(ctx, "stress", `
		INSERT INTO stress_results
		(account_id, scenario_id, time, pre_value, post_value, loss, loss_pct, margin_call, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AccountID, r.ScenarioID, r.Timestamp.UTC(), r.PreValue.String(), r.PostValue.String(),
		r.Loss.String(), r.LossPct, r.MarginCall, string(payload),
	)
}

// SaveAlert upserts the alert's current state.
func (j *SQLite) SaveAlert(ctx context.Context, a alerts.Alert) error {
	return j.exec(ctx, "alert", `
		INSERT INTO alerts
		(alert_id, account_id, type, severity, symbol, metric, current, limit_value, message, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_id) DO UPDATE SET
			severity = excluded.severity,
			current = excluded.current,
			limit_value = excluded.limit_value,
			message = excluded.message,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		a.ID, a.AccountID, a.Type, a.Severity, a.Symbol, a.Metric, a.Current, a.Limit,
		a.Message, a.Status, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
}

// RecordBacktest stores a run's summary, trades and equity curve in one
// transaction.
func (j *SQLite) RecordBacktest(ctx context.Context, runID string, r backtest.Result, created time.Time) error {
	const op = "journal.backtest"

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.External(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var start, end *time.Time
	if n := len(r.Equity); n > 0 {
		s, e := r.Equity[0].Time.UTC(), r.Equity[n-1].Time.UTC()
		start, end = &s, &e
	}
	sum := r.Summary
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(run_id, created, strategy_id, symbol, start_time, end_time, signals, trades, wins, losses,
		 initial_equity, final_equity, total_return, max_drawdown, sharpe, win_rate, profit_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, created.UTC(), r.StrategyID, r.Symbol, start, end, sum.Signals, sum.Trades, sum.Wins, sum.Losses,
		sum.InitialEquity, sum.FinalEquity, sum.TotalReturn, sum.MaxDrawdown, sum.Sharpe, sum.WinRate, sum.ProfitFactor,
	); err != nil {
		return errs.External(op, fmt.Errorf("insert run: %w", err))
	}

	for _, t := range r.Trades {
		qty := t.Quantity
		if t.Side == portfolio.Short {
			qty = -qty
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trades
			(trade_id, run_id, account_id, strategy_id, position_id, instrument, units, entry_price, exit_price, open_time, close_time, realized_pl, reason)
			VALUES (?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID+"/"+t.ID, runID, r.StrategyID, t.SignalID, t.Symbol, qty, t.EntryPrice, t.ExitPrice,
			t.EntryTime.UTC(), t.ExitTime.UTC(), t.PnL, t.Reason,
		); err != nil {
			return errs.External(op, fmt.Errorf("insert trade %s: %w", t.ID, err))
		}
	}

	for _, p := range r.Equity {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO equity
			(time, run_id, account_id, balance, equity, margin_used, free_margin, margin_level)
			VALUES (?, ?, '', ?, ?, 0, ?, 0)`,
			p.Time.UTC(), runID, p.Value, p.Value, p.Value,
		); err != nil {
			return errs.External(op, fmt.Errorf("insert equity: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.External(op, err)
	}
	return nil
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
