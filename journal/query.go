package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/alerts"
)

var ErrNotFound = errors.New("not found")

const tradeColumns = `trade_id, run_id, account_id, strategy_id, position_id, instrument, units,
	entry_price, exit_price, open_time, close_time, realized_pl, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var rec TradeRecord
	err := s.Scan(
		&rec.TradeID,
		&rec.RunID,
		&rec.AccountID,
		&rec.StrategyID,
		&rec.PositionID,
		&rec.Symbol,
		&rec.Quantity,
		&rec.EntryPrice,
		&rec.ExitPrice,
		&rec.OpenTime,
		&rec.CloseTime,
		&rec.RealizedPL,
		&rec.Reason,
	)
	return rec, err
}

// GetTrade returns a single trade record by ID.
func (j *SQLite) GetTrade(ctx context.Context, tradeID string) (TradeRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)

	rec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
		}
		return TradeRecord{}, err
	}
	return rec, nil
}

// ListTradesClosedBetween returns live trades whose close_time is within
// [start, end).
func (j *SQLite) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	return j.listTrades(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = '' AND close_time >= ? AND close_time < ?
		ORDER BY close_time ASC, trade_id ASC`, start.UTC(), end.UTC())
}

func (j *SQLite) ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error) {
	return j.listTrades(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ?
		ORDER BY close_time ASC, trade_id ASC`, runID)
}

func (j *SQLite) listTrades(ctx context.Context, query string, args ...any) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquityBetween returns an account's live snapshots within [start, end).
func (j *SQLite) ListEquityBetween(ctx context.Context, accountID string, start, end time.Time) ([]EquitySnapshot, error) {
	return j.listEquity(ctx, `
		SELECT time, run_id, account_id, balance, equity, margin_used, free_margin, margin_level
		FROM equity
		WHERE run_id = '' AND account_id = ? AND time >= ? AND time < ?
		ORDER BY time ASC`, accountID, start.UTC(), end.UTC())
}

func (j *SQLite) ListEquityByRunID(ctx context.Context, runID string) ([]EquitySnapshot, error) {
	return j.listEquity(ctx, `
		SELECT time, run_id, account_id, balance, equity, margin_used, free_margin, margin_level
		FROM equity
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
}

func (j *SQLite) listEquity(ctx context.Context, query string, args ...any) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(
			&e.Time,
			&e.RunID,
			&e.AccountID,
			&e.Balance,
			&e.Equity,
			&e.MarginUsed,
			&e.FreeMargin,
			&e.MarginLevel,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAlerts returns an account's journaled alerts, oldest first. An empty
// status matches every status.
func (j *SQLite) ListAlerts(ctx context.Context, accountID string, status alerts.Status) ([]alerts.Alert, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT alert_id, account_id, type, severity, symbol, metric, current, limit_value, message, status, created_at, updated_at
		FROM alerts
		WHERE account_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at ASC, alert_id ASC`, accountID, string(status), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a            alerts.Alert
			typ, sev, st string
		)
		if err := rows.Scan(
			&a.ID, &a.AccountID, &typ, &sev, &a.Symbol, &a.Metric, &a.Current, &a.Limit,
			&a.Message, &st, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Type, a.Severity, a.Status = alerts.Type(typ), alerts.Severity(sev), alerts.Status(st)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBacktestRun loads a stored run's summary.
func (j *SQLite) GetBacktestRun(ctx context.Context, runID string) (BacktestRun, error) {
	var (
		r          BacktestRun
		start, end sql.NullTime
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT run_id, created, strategy_id, symbol, start_time, end_time, signals, trades, wins, losses,
		       initial_equity, final_equity, total_return, max_drawdown, sharpe, win_rate, profit_factor
		FROM backtest_runs
		WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.StrategyID, &r.Symbol, &start, &end,
		&r.Signals, &r.Trades, &r.Wins, &r.Losses,
		&r.StartBalance, &r.EndBalance, &r.ReturnPct, &r.MaxDDPct, &r.Sharpe, &r.WinRate, &r.ProfitFactor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BacktestRun{}, fmt.Errorf("backtest run %q: %w", runID, ErrNotFound)
		}
		return BacktestRun{}, err
	}
	r.Start, r.End = start.Time, end.Time
	r.NetPL = r.EndBalance - r.StartBalance
	return r, nil
}

// ExportBacktestOrg loads a run and its trades and renders the Org block.
func (j *SQLite) ExportBacktestOrg(ctx context.Context, runID string) (string, error) {
	r, err := j.GetBacktestRun(ctx, runID)
	if err != nil {
		return "", err
	}
	trades, err := j.ListTradesByRunID(ctx, runID)
	if err != nil {
		return "", err
	}
	r.TradeLog = trades
	return r.Org()
}
