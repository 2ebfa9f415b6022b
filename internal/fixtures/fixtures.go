// Package fixtures generates deterministic market data for tests. Nothing
// here uses randomness.
package fixtures

import (
	"math"
	"time"

	"github.com/rustyeddy/tradeguard/market"
)

// Start is the timestamp of the first generated bar.
var Start = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

// FromCloses builds hourly bars with the given closes. Each bar opens at the
// previous close, and high/low bracket open and close by spread.
func FromCloses(closes []float64, spread, volume float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = market.Candle{
			Time:   Start.Add(time.Duration(i) * time.Hour),
			Open:   open,
			High:   math.Max(open, c) + spread,
			Low:    math.Min(open, c) - spread,
			Close:  c,
			Volume: volume,
		}
	}
	return out
}

// Linear returns n closes moving evenly from first to last.
func Linear(first, last float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = first
		return out
	}
	step := (last - first) / float64(n-1)
	for i := range out {
		out[i] = first + step*float64(i)
	}
	return out
}

// Wave returns n closes oscillating around base with the given amplitude and
// period in bars.
func Wave(base, amplitude float64, period, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period))
	}
	return out
}

// Concat joins close series.
func Concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Returns produces a repeating daily return pattern of length n. The pattern
// has both gains and losses so every risk metric is defined.
func Returns(n int) []float64 {
	pattern := []float64{0.012, -0.008, 0.004, -0.021, 0.015, 0.002, -0.011, 0.007, -0.003, 0.018, -0.027, 0.009}
	out := make([]float64, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}
