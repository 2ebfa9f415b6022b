package indicators

import "github.com/rustyeddy/tradeguard/market"

// Snapshot is the latest value of a standard indicator set over one window,
// keyed by indicator name ("SMA(20)", "RSI(14)", ...). Indicators without
// enough data are absent.
type Snapshot struct {
	Bars   int                `json:"bars"`
	Close  float64            `json:"close"`
	Values map[string]float64 `json:"values"`
}

// Get returns a named value.
func (s Snapshot) Get(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// TakeSnapshot computes SMA(20), SMA(50), EMA(20), RSI(14), ATR(14), the
// default MACD triple and the 20-bar average volume over candles.
func TakeSnapshot(candles []market.Candle) Snapshot {
	s := Snapshot{Bars: len(candles), Values: make(map[string]float64)}
	if len(candles) == 0 {
		return s
	}
	closes := market.Closes(candles)
	s.Close = closes[len(closes)-1]

	put := func(name string, series []float64) {
		if v, ok := Last(series); ok {
			s.Values[name] = v
		}
	}

	sma20, _ := SMA(closes, 20)
	put("SMA(20)", sma20)
	sma50, _ := SMA(closes, 50)
	put("SMA(50)", sma50)
	ema20, _ := EMA(closes, 20)
	put("EMA(20)", ema20)
	rsi14, _ := RSI(closes, 14)
	put("RSI(14)", rsi14)
	atr14, _ := ATR(candles, 14)
	put("ATR(14)", atr14)
	vol20, _ := SMA(market.Volumes(candles), 20)
	put("VOL(20)", vol20)

	if m, err := DefaultMACD(closes); err == nil {
		put("MACD", m.Line)
		put("MACD_SIGNAL", m.Signal)
		put("MACD_HIST", m.Histogram)
	}
	return s
}
