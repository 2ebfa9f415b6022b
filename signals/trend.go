package signals

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rustyeddy/tradeguard/indicators"
	"github.com/rustyeddy/tradeguard/market"
)

// Trend parameter names and defaults.
const (
	ParamFastPeriod = "fast_period"
	ParamSlowPeriod = "slow_period"
	ParamTargetPct  = "target_pct"
	ParamStopPct    = "stop_pct"

	defaultFast      = 10
	defaultSlow      = 20
	defaultTargetPct = 0.04
	defaultStopPct   = 0.02
	trendConfidence  = 70
)

// TrendFollowing fires on a strict crossing of a fast SMA over a slow SMA.
// Equality counts as "not yet crossed". When the slow average has only one
// value there is no previous bar to compare with, and the previous averages
// are taken as equal.
type TrendFollowing struct{}

func (TrendFollowing) Evaluate(_ context.Context, in Input) (*Signal, error) {
	fastN := int(in.Strategy.Param(ParamFastPeriod, defaultFast))
	slowN := int(in.Strategy.Param(ParamSlowPeriod, defaultSlow))
	if fastN <= 0 || slowN <= fastN {
		return nil, fmt.Errorf("trend: need 0 < fast (%d) < slow (%d)", fastN, slowN)
	}
	closes := market.Closes(in.Candles)
	if len(closes) < slowN {
		return nil, nil
	}

	fast, err := indicators.SMA(closes, fastN)
	if err != nil {
		return nil, err
	}
	slow, err := indicators.SMA(closes, slowN)
	if err != nil {
		return nil, err
	}

	curFast, _ := indicators.Last(fast)
	curSlow, _ := indicators.Last(slow)
	prevFast, prevSlow := curFast, curFast
	if len(slow) >= 2 {
		prevFast = fast[len(fast)-2]
		prevSlow = slow[len(slow)-2]
	}

	var typ Type
	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		typ = Buy
	case prevFast >= prevSlow && curFast < curSlow:
		typ = Sell
	default:
		return nil, nil
	}

	price := in.Price()
	gap := (curFast - curSlow) / curSlow
	strength := 50 + math.Min(50, math.Abs(gap)*1000)
	targetPct := in.Strategy.Param(ParamTargetPct, defaultTargetPct)
	stopPct := in.Strategy.Param(ParamStopPct, defaultStopPct)

	sig := newSignal(in, typ, price, strength, trendConfidence,
		fmt.Sprintf("SMA(%d) crossed %s SMA(%d): %.4f vs %.4f", fastN, crossWord(typ), slowN, curFast, curSlow))
	dir := sig.Side()
	sig.TargetPrice = ptr(price * (1 + dir*targetPct))
	sig.StopLoss = ptr(price * (1 - dir*stopPct))
	sig.Metadata["fast_sma"] = strconv.FormatFloat(curFast, 'f', -1, 64)
	sig.Metadata["slow_sma"] = strconv.FormatFloat(curSlow, 'f', -1, 64)
	return sig, nil
}

func crossWord(t Type) string {
	if t == Buy {
		return "above"
	}
	return "below"
}
