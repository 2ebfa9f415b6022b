package indicators

import "fmt"

const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACDSeries holds the aligned MACD outputs. Line has len(values)-slow+1
// elements; Signal and Histogram are a further signal-1 shorter and aligned to
// the tail of Line.
type MACDSeries struct {
	Line      []float64 `json:"line"`
	Signal    []float64 `json:"signal"`
	Histogram []float64 `json:"histogram"`
}

// MACD computes EMA(fast) - EMA(slow), its EMA(signal) and the histogram.
func MACD(values []float64, fast, slow, signal int) (MACDSeries, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDSeries{}, ErrInvalidPeriod
	}
	if fast >= slow {
		return MACDSeries{}, fmt.Errorf("macd: fast period %d must be below slow period %d", fast, slow)
	}

	fastEMA, _ := EMA(values, fast)
	slowEMA, _ := EMA(values, slow)
	if len(slowEMA) == 0 {
		return MACDSeries{Line: []float64{}, Signal: []float64{}, Histogram: []float64{}}, nil
	}

	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for k := range slowEMA {
		line[k] = fastEMA[k+offset] - slowEMA[k]
	}

	sig, _ := EMA(line, signal)
	hist := make([]float64, len(sig))
	for k := range sig {
		hist[k] = line[k+signal-1] - sig[k]
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}, nil
}

// DefaultMACD is MACD(12, 26, 9).
func DefaultMACD(values []float64) (MACDSeries, error) {
	return MACD(values, MACDFast, MACDSlow, MACDSignal)
}
