package indicators

import (
	"math"

	"github.com/rustyeddy/tradeguard/market"
)

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)

	return math.Max(highLow, math.Max(highClose, lowClose))
}

// TrueRanges returns the true range of every candle after the first.
func TrueRanges(candles []market.Candle) []float64 {
	if len(candles) < 2 {
		return []float64{}
	}
	out := make([]float64, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		out[i-1] = TrueRange(candles[i], candles[i-1])
	}
	return out
}

// ATR returns the rolling mean of the true range over period bars. Because the
// true range needs a previous close the result has len(candles)-period
// elements.
func ATR(candles []market.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return SMA(TrueRanges(candles), period)
}
