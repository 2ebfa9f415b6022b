package signals

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rustyeddy/tradeguard/indicators"
	"github.com/rustyeddy/tradeguard/market"
)

const (
	ParamRSIPeriod    = "rsi_period"
	ParamOversold     = "oversold"
	ParamOverbought   = "overbought"
	ParamSMAPeriod    = "sma_period"
	ParamMinDeviation = "min_deviation"

	defaultRSIPeriod        = 14
	defaultOversold         = 30
	defaultOverbought       = 70
	defaultSMAPeriod        = 20
	defaultMinDeviation     = 0.02
	meanReversionConfidence = 80
)

// MeanReversion buys an oversold RSI with price stretched below its SMA and
// sells the mirror case. The target is the SMA itself.
type MeanReversion struct{}

func (MeanReversion) Evaluate(_ context.Context, in Input) (*Signal, error) {
	rsiN := int(in.Strategy.Param(ParamRSIPeriod, defaultRSIPeriod))
	smaN := int(in.Strategy.Param(ParamSMAPeriod, defaultSMAPeriod))
	oversold := in.Strategy.Param(ParamOversold, defaultOversold)
	overbought := in.Strategy.Param(ParamOverbought, defaultOverbought)
	minDev := in.Strategy.Param(ParamMinDeviation, defaultMinDeviation)
	stopPct := in.Strategy.Param(ParamStopPct, defaultStopPct)

	closes := market.Closes(in.Candles)
	rsi, err := indicators.RSI(closes, rsiN)
	if err != nil {
		return nil, err
	}
	sma, err := indicators.SMA(closes, smaN)
	if err != nil {
		return nil, err
	}
	r, ok1 := indicators.Last(rsi)
	mean, ok2 := indicators.Last(sma)
	if !ok1 || !ok2 || mean == 0 {
		return nil, nil
	}

	price := in.Price()
	dev := (price - mean) / mean

	var (
		typ  Type
		past float64
	)
	switch {
	case r < oversold && dev < -minDev:
		typ, past = Buy, oversold-r
	case r > overbought && dev > minDev:
		typ, past = Sell, r-overbought
	default:
		return nil, nil
	}

	strength := math.Min(100, past*2+math.Abs(dev)*100)
	sig := newSignal(in, typ, price, strength, meanReversionConfidence,
		fmt.Sprintf("RSI(%d)=%.2f, price %.2f%% from SMA(%d)", rsiN, r, dev*100, smaN))
	sig.TargetPrice = ptr(mean)
	sig.StopLoss = ptr(price * (1 - sig.Side()*stopPct))
	sig.Metadata["rsi"] = strconv.FormatFloat(r, 'f', 4, 64)
	sig.Metadata["sma"] = strconv.FormatFloat(mean, 'f', 4, 64)
	return sig, nil
}
