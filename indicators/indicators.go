// Package indicators provides technical analysis indicators for trading.
//
// Every indicator exists in two forms: a series function over a closed bar
// window (SMA, EMA, RSI, ATR, MACD) and a streaming type fed one bar at a
// time. Both perform the same floating point operations in the same order,
// so live evaluation and backtest replay over identical windows produce
// identical values.
package indicators

import (
	"errors"

	"github.com/rustyeddy/tradeguard/market"
)

var ErrInvalidPeriod = errors.New("period must be positive")

// Indicator computes a single streaming value from candles.
// It is deterministic and safe to use in live, replay, and backtests.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "RSI(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* candle and updates internal state.
	Update(c market.Candle)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current indicator value, or 0 before warmup.
	Value() float64
}

// Last returns the final element of a series and whether it exists.
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// LastTwo returns the final two elements of a series.
func LastTwo(series []float64) (prev, cur float64, ok bool) {
	if len(series) < 2 {
		return 0, 0, false
	}
	return series[len(series)-2], series[len(series)-1], true
}

// Highest returns the maximum High over cs, 0 for an empty window.
func Highest(cs []market.Candle) float64 {
	if len(cs) == 0 {
		return 0
	}
	h := cs[0].High
	for _, c := range cs[1:] {
		if c.High > h {
			h = c.High
		}
	}
	return h
}

// Lowest returns the minimum Low over cs, 0 for an empty window.
func Lowest(cs []market.Candle) float64 {
	if len(cs) == 0 {
		return 0
	}
	l := cs[0].Low
	for _, c := range cs[1:] {
		if c.Low < l {
			l = c.Low
		}
	}
	return l
}

func outLen(n, warmup int) int {
	if n < warmup {
		return 0
	}
	return n - warmup + 1
}
