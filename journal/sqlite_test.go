package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/engine"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/stress"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

var (
	_ engine.Recorder = (*SQLite)(nil)
	_ alerts.Recorder = (*SQLite)(nil)
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func count(t *testing.T, j *SQLite, table string) int {
	t.Helper()
	var n int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, table := range []string{"signals", "decisions", "orders", "trades", "equity", "risk_metrics", "stress_results", "alerts", "backtest_runs"} {
		assert.True(t, found[table], "missing table %s", table)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordEquity(context.Background(), EquitySnapshot{Time: t0, AccountID: "acct-1", Balance: 1, Equity: 1}))
	require.NoError(t, j.Close())

	j, err = NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	assert.Equal(t, 1, count(t, j, "equity"))
}

func TestSQLiteRecordSignalIsIdempotent(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()
	stop := 98.0
	sig := &signals.Signal{
		ID: "trend-1-AAPL", StrategyID: "trend-1", Symbol: "AAPL", Type: signals.Buy,
		Strength: 70, Confidence: 70, Price: 100, StopLoss: &stop,
		Reasoning: "fast above slow", Metadata: map[string]string{"k": "v"}, Timestamp: t0,
	}

	require.NoError(t, j.RecordSignal(ctx, sig))
	require.NoError(t, j.RecordSignal(ctx, sig))
	assert.Equal(t, 1, count(t, j, "signals"))

	var (
		gotStop   sql.NullFloat64
		gotTarget sql.NullFloat64
		meta      string
	)
	require.NoError(t, j.db.QueryRow(`SELECT stop_loss, target_price, metadata FROM signals`).Scan(&gotStop, &gotTarget, &meta))
	assert.Equal(t, 98.0, gotStop.Float64)
	assert.False(t, gotTarget.Valid)
	assert.JSONEq(t, `{"k":"v"}`, meta)
}

func TestSQLiteRecordDecisionAndOrder(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()
	adj := 100.0

	d := risk.Decision{
		SignalID: "s1", AccountID: "acct-1", Symbol: "AAPL", Approved: true,
		RequestedQuantity: 250, AdjustedQuantity: &adj, Notional: 10000,
		Warnings: []risk.Violation{{Code: risk.CodePositionClipped, Msg: "clipped"}},
		At:       t0,
	}
	require.NoError(t, j.RecordDecision(ctx, d))

	var (
		approved bool
		qty      float64
		warnings string
	)
	require.NoError(t, j.db.QueryRow(`SELECT approved, quantity, warnings FROM decisions WHERE signal_id = 's1'`).Scan(&approved, &qty, &warnings))
	assert.True(t, approved)
	assert.Equal(t, 100.0, qty)
	assert.Contains(t, warnings, risk.CodePositionClipped)

	o := execution.Order{
		ID: "o1", ClientID: "s1", AccountID: "acct-1", StrategyID: "trend-1", Symbol: "AAPL",
		Status: execution.OrderFilled, Quantity: 100, FilledQuantity: 100, AvgPrice: 100.1, CreatedAt: t0,
	}
	require.NoError(t, j.RecordOrder(ctx, o))
	o.Status = execution.OrderFailed
	require.NoError(t, j.RecordOrder(ctx, o))

	var status string
	require.NoError(t, j.db.QueryRow(`SELECT status FROM orders WHERE order_id = 'o1'`).Scan(&status))
	assert.Equal(t, string(execution.OrderFailed), status)
	assert.Equal(t, 1, count(t, j, "orders"))
}

func TestSQLiteRecordMetricsAndStress(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, j.RecordMetrics(ctx, portfolio.RiskMetrics{AccountID: "acct-1", PortfolioValue: 100000, VaR95: 0.02, Timestamp: t0}))

	r := stress.Result{
		ScenarioID: "flash_crash", AccountID: "acct-1",
		PreValue:  decimal.RequireFromString("100000.10"),
		PostValue: decimal.RequireFromString("96000.10"),
		Loss:      decimal.RequireFromString("4000"),
		LossPct:   0.04, Timestamp: t0,
	}
	require.NoError(t, j.RecordStress(ctx, r))

	var pre, loss string
	require.NoError(t, j.db.QueryRow(`SELECT pre_value, loss FROM stress_results`).Scan(&pre, &loss))
	assert.Equal(t, "100000.1", pre)
	assert.Equal(t, "4000", loss)
	assert.Equal(t, 1, count(t, j, "risk_metrics"))
}

func TestSQLiteSaveAlertUpserts(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()

	a := alerts.Alert{
		ID: "a1", Type: alerts.TypeVaRBreach, Severity: alerts.SeverityMedium, AccountID: "acct-1",
		Metric: "var_95", Current: 0.055, Limit: 0.05, Message: "var above limit",
		Status: alerts.StatusNew, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, j.SaveAlert(ctx, a))

	a.Status = alerts.StatusResolved
	a.Severity = alerts.SeverityHigh
	a.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, j.SaveAlert(ctx, a))

	all, err := j.ListAlerts(ctx, "acct-1", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, alerts.StatusResolved, all[0].Status)
	assert.Equal(t, alerts.SeverityHigh, all[0].Severity)
	assert.True(t, t0.Equal(all[0].CreatedAt))

	open, err := j.ListAlerts(ctx, "acct-1", alerts.StatusNew)
	require.NoError(t, err)
	assert.Empty(t, open)
}
