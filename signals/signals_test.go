package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/internal/fixtures"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/strategies"
)

func strategy(t strategies.Type, params map[string]float64) strategies.Strategy {
	return strategies.Strategy{
		ID:          string(t) + "-1",
		Type:        t,
		Instruments: []string{"AAPL"},
		Timeframes:  []string{"1h"},
		Parameters:  params,
		Active:      true,
	}
}

func input(s strategies.Strategy, candles []market.Candle) Input {
	seq := id.NewSequence("sig")
	return Input{
		Strategy: s,
		Symbol:   "AAPL",
		Candles:  candles,
		Now:      candles[len(candles)-1].Time,
		NewID:    seq.Next,
	}
}

// replay evaluates every prefix of candles the way a live loop would.
func replay(t *testing.T, r *Registry, s strategies.Strategy, candles []market.Candle) []*Signal {
	t.Helper()
	var out []*Signal
	for i := range candles {
		sig, err := r.Evaluate(context.Background(), input(s, candles[:i+1]))
		require.NoError(t, err)
		if sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

func TestTrendFollowingRisingSeriesFiresOnce(t *testing.T) {
	t.Parallel()

	candles := fixtures.FromCloses(fixtures.Linear(100, 120, 30), 0.1, 1000)
	sigs := replay(t, NewRegistry(), strategy(strategies.TrendFollowing, map[string]float64{
		ParamFastPeriod: 10, ParamSlowPeriod: 20,
	}), candles)

	require.Len(t, sigs, 1)
	sig := sigs[0]
	assert.Equal(t, Buy, sig.Type)
	assert.Greater(t, sig.Strength, 50.0)
	require.NotNil(t, sig.TargetPrice)
	assert.Greater(t, *sig.TargetPrice, sig.Price)
	require.NotNil(t, sig.StopLoss)
	assert.Less(t, *sig.StopLoss, sig.Price)
	assert.Equal(t, 70.0, sig.Confidence)
	assert.Equal(t, candles[19].Time, sig.Timestamp)
	require.NotNil(t, sig.ExpiresAt)
	assert.Equal(t, sig.Timestamp.Add(time.Hour), *sig.ExpiresAt)
}

func TestTrendFollowingBearishCross(t *testing.T) {
	t.Parallel()

	closes := fixtures.Concat(fixtures.Linear(100, 120, 30), fixtures.Linear(119, 95, 15))
	sigs := replay(t, NewRegistry(), strategy(strategies.TrendFollowing, nil), fixtures.FromCloses(closes, 0.1, 1000))

	require.Len(t, sigs, 2)
	assert.Equal(t, Buy, sigs[0].Type)
	assert.Equal(t, Sell, sigs[1].Type)
	assert.Less(t, *sigs[1].TargetPrice, sigs[1].Price)
	assert.Greater(t, *sigs[1].StopLoss, sigs[1].Price)
}

func TestTrendFollowingFlatSeriesNeverFires(t *testing.T) {
	t.Parallel()

	closes := fixtures.Linear(100, 100, 40)
	sigs := replay(t, NewRegistry(), strategy(strategies.TrendFollowing, nil), fixtures.FromCloses(closes, 0.1, 1000))
	assert.Empty(t, sigs)
}

func TestMeanReversionDecliningSeries(t *testing.T) {
	t.Parallel()

	candles := fixtures.FromCloses(fixtures.Linear(120, 101, 20), 0.1, 1000)
	sig, err := NewRegistry().Evaluate(context.Background(), input(strategy(strategies.MeanReversion, nil), candles))
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, Buy, sig.Type)
	assert.Equal(t, 80.0, sig.Confidence)
	assert.Equal(t, "0.0000", sig.Metadata["rsi"])
	assert.InDelta(t, 110.5, *sig.TargetPrice, 1e-9)
	assert.LessOrEqual(t, sig.Strength, 100.0)
	assert.Greater(t, sig.Strength, 60.0)
}

func TestMeanReversionNeedsDeviation(t *testing.T) {
	t.Parallel()

	// Oversold RSI but the close sits on the SMA.
	candles := fixtures.FromCloses(fixtures.Linear(101, 100, 20), 0.01, 1000)
	sig, err := NewRegistry().Evaluate(context.Background(), input(strategy(strategies.MeanReversion, nil), candles))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestMeanReversionOverbought(t *testing.T) {
	t.Parallel()

	candles := fixtures.FromCloses(fixtures.Linear(100, 119, 20), 0.1, 1000)
	sig, err := NewRegistry().Evaluate(context.Background(), input(strategy(strategies.MeanReversion, nil), candles))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Sell, sig.Type)
	assert.Greater(t, *sig.StopLoss, sig.Price)
}

func TestMomentumBreakout(t *testing.T) {
	t.Parallel()

	closes := fixtures.Concat(fixtures.Wave(100, 1, 10, 24), []float64{110})
	candles := fixtures.FromCloses(closes, 0.2, 1000)
	candles[len(candles)-1].Volume = 3000

	sig, err := NewRegistry().Evaluate(context.Background(), input(strategy(strategies.Momentum, nil), candles))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Buy, sig.Type)
	assert.Equal(t, 75.0, sig.Confidence)
	assert.Greater(t, *sig.TargetPrice, sig.Price)
	assert.Less(t, *sig.StopLoss, sig.Price)

	// Twice the stop distance is a quarter of the target distance.
	assert.InDelta(t, (*sig.TargetPrice-sig.Price)/4, sig.Price-*sig.StopLoss, 1e-9)
}

func TestMomentumRequiresVolume(t *testing.T) {
	t.Parallel()

	closes := fixtures.Concat(fixtures.Wave(100, 1, 10, 24), []float64{110})
	candles := fixtures.FromCloses(closes, 0.2, 1000)
	candles[len(candles)-1].Volume = 1400

	sig, err := NewRegistry().Evaluate(context.Background(), input(strategy(strategies.Momentum, nil), candles))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestFindOpportunitiesRanked(t *testing.T) {
	t.Parallel()

	quotes := []market.VenueQuote{
		{Venue: "a", Symbol: "BTC_USD", Bid: 99.5, Ask: 100, AskSize: 2, BidSize: 2, Fee: 0.001},
		{Venue: "b", Symbol: "BTC_USD", Bid: 101, Ask: 101.5, AskSize: 1, BidSize: 1, Fee: 0.001},
		{Venue: "c", Symbol: "BTC_USD", Bid: 100.5, Ask: 101, AskSize: 3, BidSize: 3, Fee: 0.001},
	}
	opps := FindOpportunities(quotes, 0)
	require.Len(t, opps, 2)

	assert.Equal(t, "a", opps[0].BuyVenue)
	assert.Equal(t, "b", opps[0].SellVenue)
	assert.InDelta(t, 0.008, opps[0].NetProfitPct, 1e-12)
	assert.Equal(t, 1.0, opps[0].Quantity)
	assert.Equal(t, "c", opps[1].SellVenue)
	assert.InDelta(t, 0.003, opps[1].NetProfitPct, 1e-12)

	assert.Empty(t, FindOpportunities(quotes, 0.01))
}

func TestFeesEraseArbitrage(t *testing.T) {
	t.Parallel()

	quotes := []market.VenueQuote{
		{Venue: "a", Symbol: "X", Bid: 99, Ask: 100, Fee: 0.006},
		{Venue: "b", Symbol: "X", Bid: 101, Ask: 102, Fee: 0.006},
	}
	assert.Empty(t, FindOpportunities(quotes, 0))
}

func TestArbitrageGenerator(t *testing.T) {
	t.Parallel()

	in := Input{
		Strategy: strategy(strategies.Arbitrage, nil),
		Symbol:   "BTC_USD",
		Now:      fixtures.Start,
		Venues: []market.VenueQuote{
			{Venue: "a", Bid: 99.5, Ask: 100, AskSize: 2, BidSize: 2, Fee: 0.001},
			{Venue: "b", Bid: 101, Ask: 101.5, AskSize: 1, BidSize: 1, Fee: 0.001},
		},
	}
	sig, err := NewRegistry().Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, Buy, sig.Type)
	assert.Equal(t, 100.0, sig.Price)
	assert.Equal(t, "a", sig.Metadata["buy_venue"])
	assert.Equal(t, "b", sig.Metadata["sell_venue"])
	assert.InDelta(t, 80, sig.Strength, 1e-9)
}

func TestUnsupportedType(t *testing.T) {
	t.Parallel()

	candles := fixtures.FromCloses(fixtures.Linear(100, 101, 5), 0.1, 1)
	_, err := NewRegistry().Evaluate(context.Background(), input(strategy(strategies.PairsTrading, nil), candles))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRegistryValidatesGeneratedSignals(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(strategies.StatisticalArbitrage, GeneratorFunc(func(context.Context, Input) (*Signal, error) {
		return &Signal{ID: "x", Symbol: "AAPL", Type: Buy, Strength: 10, Confidence: 10, Price: 0}, nil
	}))
	candles := fixtures.FromCloses(fixtures.Linear(100, 101, 5), 0.1, 1)
	_, err := r.Evaluate(context.Background(), input(strategy(strategies.StatisticalArbitrage, nil), candles))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestEvaluateHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	candles := fixtures.FromCloses(fixtures.Linear(100, 120, 30), 0.1, 1)
	_, err := NewRegistry().Evaluate(ctx, input(strategy(strategies.TrendFollowing, nil), candles))
	assert.ErrorIs(t, err, context.Canceled)
}
