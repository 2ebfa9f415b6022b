package stress

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/portfolio"
)

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func pos(symbol string, qty, price float64) portfolio.Position {
	return portfolio.Position{
		ID:           "pos-" + symbol,
		AccountID:    "acct-1",
		Symbol:       symbol,
		Side:         portfolio.SideOf(qty),
		Quantity:     qty,
		EntryPrice:   price,
		CurrentPrice: price,
		Status:       portfolio.StatusOpen,
	}
}

func TestApplyExactLoss(t *testing.T) {
	t.Parallel()

	s := Scenario{ID: "crash_40", MarketShock: -0.40, VolatilityMultiplier: 1}
	snap := Snapshot{AccountID: "acct-1", Value: 1_000_000, Positions: []portfolio.Position{pos("SPY", 10_000, 100)}}

	r := Apply(s, snap, at)
	require.Len(t, r.Positions, 1)
	assert.True(t, r.Positions[0].Loss().Equal(decimal.NewFromInt(400_000)), r.Positions[0].Loss().String())
	assert.True(t, r.Loss.Equal(decimal.NewFromInt(400_000)), r.Loss.String())
	assert.True(t, r.PostValue.Equal(decimal.NewFromInt(600_000)), r.PostValue.String())
	assert.InDelta(t, 0.4, r.LossPct, 1e-12)
	assert.Equal(t, 292, r.RecoveryDays)
	assert.False(t, r.MarginCall)
	require.NotNil(t, r.WorstPosition)
	assert.Equal(t, "SPY", r.WorstPosition.Symbol)
	require.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations[0], "critical")
	assert.Equal(t, at, r.Timestamp)
}

func TestApplyBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		shock    float64
		recovery int
		margin   bool
		band     string
	}{
		{"margin call", -0.60, 438, true, "critical"},
		{"high", -0.25, 183, false, "high"},
		{"moderate", -0.12, 88, false, "moderate"},
		{"small loss keeps recovery floor", -0.01, 30, false, "low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Scenario{ID: "x", MarketShock: tt.shock}
			snap := Snapshot{Value: 100_000, Positions: []portfolio.Position{pos("SPY", 1000, 100)}}
			r := Apply(s, snap, at)
			assert.Equal(t, tt.recovery, r.RecoveryDays)
			assert.Equal(t, tt.margin, r.MarginCall)
			assert.Contains(t, r.Recommendations[0], tt.band)
		})
	}
}

func TestApplyHaircuts(t *testing.T) {
	t.Parallel()

	s := Scenario{ID: "stressed", MarketShock: -0.40, VolatilityMultiplier: 3, LiquidityShock: 0.1}
	snap := Snapshot{Value: 1_000_000, Positions: []portfolio.Position{pos("SPY", 10_000, 100)}}

	r := Apply(s, snap, at)
	assert.True(t, r.VolatilityImpact.Equal(decimal.NewFromInt(100_000)), r.VolatilityImpact.String())
	assert.True(t, r.LiquidityImpact.Equal(decimal.NewFromInt(100_000)), r.LiquidityImpact.String())
	assert.True(t, r.Loss.Equal(decimal.NewFromInt(600_000)), r.Loss.String())
}

func TestApplyShortsGainAndSectorShocks(t *testing.T) {
	t.Parallel()

	s := Scenario{
		ID:           "sector",
		MarketShock:  -0.10,
		SectorShocks: map[string]float64{"financials": -0.20, "commodities": 0.15},
	}
	snap := Snapshot{Value: 100_000, Positions: []portfolio.Position{
		pos("JPM", 100, 100),
		pos("GOLD", 100, 100),
		pos("MSFT", -100, 100),
	}}

	r := Apply(s, snap, at)
	require.Len(t, r.Positions, 3)

	assert.InDelta(t, -0.30, r.Positions[0].Shock, 1e-12)
	assert.True(t, r.SectorImpact["financials"].Equal(decimal.NewFromInt(-3000)))
	assert.True(t, r.SectorImpact["commodities"].Equal(decimal.NewFromInt(500)))
	assert.True(t, r.SectorImpact["technology"].Equal(decimal.NewFromInt(1000)), "short gains when the market falls")

	require.NotNil(t, r.WorstPosition)
	assert.Equal(t, "JPM", r.WorstPosition.Symbol)
	assert.True(t, r.Loss.Equal(decimal.NewFromInt(1500)), r.Loss.String())
}

func TestApplySkipsClosedAndFallsBackToGross(t *testing.T) {
	t.Parallel()

	closed := pos("AAPL", 50, 100)
	closed.Status = portfolio.StatusClosed
	snap := Snapshot{Positions: []portfolio.Position{closed, pos("SPY", 100, 100)}}

	r := Apply(Scenario{ID: "x", MarketShock: -0.5}, snap, at)
	assert.Len(t, r.Positions, 1)
	assert.True(t, r.PreValue.Equal(decimal.NewFromInt(10_000)))
	assert.InDelta(t, 0.5, r.LossPct, 1e-12)
}

func TestApplyEmpty(t *testing.T) {
	t.Parallel()

	r := Apply(Scenario{ID: "x", MarketShock: -0.5}, Snapshot{}, at)
	assert.Zero(t, r.LossPct)
	assert.Nil(t, r.WorstPosition)
	assert.Equal(t, 30, r.RecoveryDays)
	assert.False(t, r.Exceeds(0.1))
}

func TestEngineRegistry(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	ids := make([]string, 0)
	for _, s := range e.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{
		"covid_crash_2020", "currency_crisis", "flash_crash",
		"interest_rate_shock", "liquidity_crisis", "market_crash_2008",
	}, ids)

	_, err := e.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownScenario)

	assert.Error(t, e.Register(Scenario{}))
	assert.Error(t, e.Register(Scenario{ID: "bad", MarketShock: -1}))
	assert.Error(t, e.Register(Scenario{ID: "bad", LiquidityShock: 2}))
	require.NoError(t, e.Register(Scenario{ID: "custom", MarketShock: -0.2}))
	assert.Len(t, e.List(), 7)
}

func TestEngineRun(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	e.SetClock(func() time.Time { return at })
	snap := Snapshot{AccountID: "acct-1", Value: 100_000, Positions: []portfolio.Position{pos("JPM", 500, 100)}}

	r, err := e.Run(context.Background(), "market_crash_2008", snap)
	require.NoError(t, err)
	assert.InDelta(t, -0.65, r.Positions[0].Shock, 1e-12)
	assert.True(t, r.Exceeds(0.30))
	assert.Equal(t, at, r.Timestamp)

	_, err = e.Run(context.Background(), "nope", snap)
	assert.ErrorIs(t, err, ErrUnknownScenario)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, "flash_crash", snap)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepAll(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	snaps := []Snapshot{
		{AccountID: "a", Value: 100_000, Positions: []portfolio.Position{pos("SPY", 100, 100)}},
		{AccountID: "b", Value: 50_000, Positions: []portfolio.Position{pos("BTC_USD", 1, 40_000)}},
	}

	out, err := e.SweepAll(context.Background(), snaps, 1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i, ar := range out {
		assert.Equal(t, snaps[i].AccountID, ar.AccountID)
		assert.NoError(t, ar.Err)
		assert.Len(t, ar.Results, len(Builtin()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err = e.SweepAll(ctx, snaps, 0)
	assert.ErrorIs(t, err, context.Canceled)
	for _, ar := range out {
		assert.ErrorIs(t, ar.Err, context.Canceled)
	}
}
