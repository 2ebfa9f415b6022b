package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func newTestBook(t *testing.T) *Book {
	t.Helper()
	b := NewBook(nil)
	require.NoError(t, b.AddAccount(Account{ID: "acct-1", Currency: "USD", Balance: 100_000, RiskProfileID: "moderate"}))
	return b
}

func fill(symbol string, qty, price float64) Fill {
	return Fill{AccountID: "acct-1", StrategyID: "s1", Symbol: symbol, Quantity: qty, Price: price, Time: t0}
}

func f64(v float64) *float64 { return &v }

func TestApplyAddsReducesAndReverses(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)

	_, err := b.Apply(fill("AAPL", 100, 10))
	require.NoError(t, err)
	_, err = b.Apply(fill("AAPL", 50, 13))
	require.NoError(t, err)

	pos := b.OpenPositions("acct-1")
	require.Len(t, pos, 1)
	assert.Equal(t, 150.0, pos[0].Quantity)
	assert.InDelta(t, 11, pos[0].EntryPrice, 1e-12)
	assert.Equal(t, Long, pos[0].Side)
	assert.Equal(t, StatusOpen, pos[0].Status)

	closed, err := b.Apply(fill("AAPL", -60, 14))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.InDelta(t, 180, closed[0].PnL, 1e-9)
	pos = b.OpenPositions("acct-1")
	assert.Equal(t, 90.0, pos[0].Quantity)
	assert.Equal(t, StatusPartial, pos[0].Status)

	closed, err = b.Apply(fill("AAPL", -150, 12))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, StatusClosed, closed[0].Position.Status)
	assert.InDelta(t, 90, closed[0].PnL, 1e-9)

	pos = b.OpenPositions("acct-1")
	require.Len(t, pos, 1)
	assert.Equal(t, -60.0, pos[0].Quantity)
	assert.Equal(t, Short, pos[0].Side)
	assert.Equal(t, 12.0, pos[0].EntryPrice)

	acct, err := b.Account("acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 100_270, acct.Balance, 1e-9)
	assert.InDelta(t, 270, acct.DailyRealizedPnL, 1e-9)
}

func TestApplyRejectsBadFills(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)
	_, err := b.Apply(fill("AAPL", 0, 10))
	assert.Error(t, err)
	_, err = b.Apply(fill("AAPL", 1, 0))
	assert.Error(t, err)

	f := fill("AAPL", 1, 10)
	f.AccountID = "ghost"
	_, err = b.Apply(f)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestSideAndSignAlwaysAgree(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)
	for _, q := range []float64{10, -25, 5, 30, -7, -13} {
		_, err := b.Apply(fill("MSFT", q, 100))
		require.NoError(t, err)
		for _, p := range b.OpenPositions("acct-1") {
			assert.Equal(t, SideOf(p.Quantity), p.Side)
			assert.NotZero(t, p.Quantity)
		}
	}
}

func TestMarkToMarketTriggers(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)

	long := fill("AAPL", 100, 100)
	long.StopLoss, long.TakeProfit = f64(95), f64(110)
	_, err := b.Apply(long)
	require.NoError(t, err)

	short := fill("MSFT", -10, 100)
	short.StopLoss, short.TakeProfit = f64(105), f64(90)
	_, err = b.Apply(short)
	require.NoError(t, err)

	assert.Empty(t, b.MarkToMarket("AAPL", 98, t0.Add(time.Minute)))
	acct, _ := b.Account("acct-1")
	assert.InDelta(t, 100_000-200, acct.Equity, 1e-9)

	closed := b.MarkToMarket("AAPL", 94, t0.Add(2*time.Minute))
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonStopLoss, closed[0].Reason)
	assert.Equal(t, 95.0, closed[0].Price)
	assert.InDelta(t, -500, closed[0].PnL, 1e-9)

	closed = b.MarkToMarket("MSFT", 89, t0.Add(3*time.Minute))
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonTakeProfit, closed[0].Reason)
	assert.InDelta(t, 100, closed[0].PnL, 1e-9)

	assert.Empty(t, b.OpenPositions("acct-1"))
	acct, _ = b.Account("acct-1")
	assert.InDelta(t, 99_600, acct.Balance, 1e-9)
	assert.InDelta(t, 99_600, acct.Equity, 1e-9)
	assert.Zero(t, acct.Margin)
}

func TestManualClose(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)
	_, err := b.Apply(fill("JPM", 20, 150))
	require.NoError(t, err)
	p := b.OpenPositions("acct-1")[0]

	c, err := b.Close(p.ID, 140, t0)
	require.NoError(t, err)
	assert.Equal(t, ReasonManual, c.Reason)
	assert.InDelta(t, -200, c.PnL, 1e-9)

	_, err = b.Close(p.ID, 140, t0)
	assert.ErrorIs(t, err, ErrPositionClosed)

	got, err := b.Position(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
}

func TestAccountRevaluation(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)
	_, err := b.Apply(fill("AAPL", 1000, 100))
	require.NoError(t, err)
	_, err = b.Apply(fill("EUR_USD", -10_000, 1.1))
	require.NoError(t, err)

	acct, err := b.Account("acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 111_000, acct.Exposure, 1e-6)
	assert.InDelta(t, 100_000*0.25+11_000*0.02, acct.Margin, 1e-6)
	assert.InDelta(t, 1.11, acct.Leverage, 1e-9)
	assert.False(t, acct.MarginCall())

	exp := b.Exposure("acct-1")
	assert.InDelta(t, -11_000, exp["EUR_USD"], 1e-9)
	assert.Equal(t, []string{"AAPL", "EUR_USD"}, b.Symbols())
}

func TestDailyLossRollsOver(t *testing.T) {
	t.Parallel()

	b := newTestBook(t)
	_, err := b.Apply(fill("AAPL", 100, 100))
	require.NoError(t, err)
	p := b.OpenPositions("acct-1")[0]
	_, err = b.Close(p.ID, 90, t0)
	require.NoError(t, err)

	acct, _ := b.Account("acct-1")
	assert.InDelta(t, -1000, acct.DailyRealizedPnL, 1e-9)
	assert.InDelta(t, 1000/99_000.0, acct.DailyLossPct(t0), 1e-12)
	// a later day with nothing realized starts clean
	assert.Zero(t, acct.DailyLossPct(t0.Add(7*24*time.Hour)))

	_, err = b.Apply(Fill{AccountID: "acct-1", Symbol: "AAPL", Quantity: 1, Price: 100, Time: t0.Add(24 * time.Hour)})
	require.NoError(t, err)
	p = b.OpenPositions("acct-1")[0]
	_, err = b.Close(p.ID, 101, t0.Add(25*time.Hour))
	require.NoError(t, err)
	acct, _ = b.Account("acct-1")
	assert.InDelta(t, 1, acct.DailyRealizedPnL, 1e-9)
}
