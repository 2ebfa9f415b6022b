package signals

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rustyeddy/tradeguard/indicators"
)

const (
	ParamLookback      = "lookback"
	ParamVolumeMult    = "volume_multiplier"
	ParamATRPeriod     = "atr_period"
	ParamTargetATRMult = "target_atr"
	ParamStopATRMult   = "stop_atr"

	defaultLookback    = 20
	defaultVolumeMult  = 1.5
	defaultATRPeriod   = 14
	defaultTargetATR   = 2
	defaultStopATR     = 0.5
	momentumConfidence = 75
)

// Momentum trades a close outside the prior lookback range when volume
// confirms it. The current bar is excluded from the range.
type Momentum struct{}

func (Momentum) Evaluate(_ context.Context, in Input) (*Signal, error) {
	lookback := int(in.Strategy.Param(ParamLookback, defaultLookback))
	volMult := in.Strategy.Param(ParamVolumeMult, defaultVolumeMult)
	atrN := int(in.Strategy.Param(ParamATRPeriod, defaultATRPeriod))
	if lookback <= 0 {
		return nil, fmt.Errorf("momentum: lookback must be positive")
	}
	n := len(in.Candles)
	if n < lookback+1 {
		return nil, nil
	}
	atrs, err := indicators.ATR(in.Candles, atrN)
	if err != nil {
		return nil, err
	}
	atr, ok := indicators.Last(atrs)
	if !ok {
		return nil, nil
	}

	window := in.Candles[n-1-lookback : n-1]
	cur := in.Candles[n-1]
	hi, lo := indicators.Highest(window), indicators.Lowest(window)
	var avgVol float64
	for _, c := range window {
		avgVol += c.Volume
	}
	avgVol /= float64(len(window))

	if avgVol <= 0 || cur.Volume <= avgVol*volMult {
		return nil, nil
	}

	var (
		typ  Type
		edge float64
	)
	switch {
	case cur.Close > hi:
		typ, edge = Buy, (cur.Close-hi)/hi
	case cur.Close < lo:
		typ, edge = Sell, (lo-cur.Close)/lo
	default:
		return nil, nil
	}

	volRatio := cur.Volume / avgVol
	strength := 50 + math.Min(25, edge*1000) + math.Min(25, (volRatio-1)*25)
	price := in.Price()
	sig := newSignal(in, typ, price, strength, momentumConfidence,
		fmt.Sprintf("close %.4f broke %d-bar range [%.4f, %.4f] on %.2fx volume", cur.Close, lookback, lo, hi, volRatio))
	dir := sig.Side()
	sig.TargetPrice = ptr(price + dir*atr*in.Strategy.Param(ParamTargetATRMult, defaultTargetATR))
	sig.StopLoss = ptr(price - dir*atr*in.Strategy.Param(ParamStopATRMult, defaultStopATR))
	sig.Metadata["atr"] = strconv.FormatFloat(atr, 'f', 6, 64)
	sig.Metadata["volume_ratio"] = strconv.FormatFloat(volRatio, 'f', 4, 64)
	return sig, nil
}
