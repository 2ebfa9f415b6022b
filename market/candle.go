package market

import "time"

// Candle is one closed OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes returns the close prices of cs in order.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Volumes returns the volumes of cs in order.
func Volumes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Volume
	}
	return out
}

// Returns converts a close series to simple period returns. The result is one
// element shorter than closes; a zero previous close yields a zero return.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		out[i-1] = (closes[i] - prev) / prev
	}
	return out
}
