package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradeguard/market"
)

// SimpleMA is a streaming Simple Moving Average of closes.
type SimpleMA struct {
	period int
	window []float64
}

// NewSMA creates a new Simple Moving Average indicator with the given period.
func NewSMA(period int) *SimpleMA {
	return &SimpleMA{
		period: period,
		window: make([]float64, 0, period),
	}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("SMA(%d)", m.period)
}

func (m *SimpleMA) Warmup() int {
	return m.period
}

func (m *SimpleMA) Reset() {
	m.window = m.window[:0]
}

func (m *SimpleMA) Update(c market.Candle) {
	m.window = append(m.window, c.Close)
	// Keep only the last 'period' closes
	if len(m.window) > m.period {
		m.window = m.window[1:]
	}
}

func (m *SimpleMA) Ready() bool {
	return m.period > 0 && len(m.window) >= m.period
}

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}

	sum := 0.0
	for _, v := range m.window {
		sum += v
	}
	return sum / float64(m.period)
}

// ExponentialMA is a streaming Exponential Moving Average of closes.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates a new Exponential Moving Average indicator with the given period.
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(c market.Candle) {
	if e.count < e.period {
		// During warmup, accumulate sum for initial SMA
		e.warmupSum += c.Close
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (c.Close-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool {
	return e.period > 0 && e.count >= e.period
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

// RSIStream is a streaming Wilder RSI of closes.
type RSIStream struct {
	period  int
	prev    float64
	hasPrev bool
	count   int
	gainSum float64
	lossSum float64
	avgGain float64
	avgLoss float64
}

// NewRSI creates a new streaming RSI with the given period.
func NewRSI(period int) *RSIStream {
	return &RSIStream{period: period}
}

func (r *RSIStream) Name() string {
	return fmt.Sprintf("RSI(%d)", r.period)
}

func (r *RSIStream) Warmup() int {
	// period changes need period+1 closes
	return r.period + 1
}

func (r *RSIStream) Reset() {
	*r = RSIStream{period: r.period}
}

func (r *RSIStream) Update(c market.Candle) {
	if !r.hasPrev {
		r.prev = c.Close
		r.hasPrev = true
		return
	}
	g, l := split(c.Close - r.prev)
	r.prev = c.Close

	if r.count < r.period {
		r.gainSum += g
		r.lossSum += l
		r.count++
		if r.count == r.period {
			r.avgGain = r.gainSum / float64(r.period)
			r.avgLoss = r.lossSum / float64(r.period)
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + g) / p
	r.avgLoss = (r.avgLoss*(p-1) + l) / p
}

func (r *RSIStream) Ready() bool {
	return r.period > 0 && r.count >= r.period
}

func (r *RSIStream) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return rsiValue(r.avgGain, r.avgLoss)
}

// ATRStream is a streaming Average True Range (rolling mean of true range).
type ATRStream struct {
	period      int
	ranges      []float64
	prevCandle  market.Candle
	hasPrevious bool
}

// NewATR creates a new Average True Range indicator with the given period.
func NewATR(period int) *ATRStream {
	return &ATRStream{
		period: period,
		ranges: make([]float64, 0, period),
	}
}

func (a *ATRStream) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

func (a *ATRStream) Warmup() int {
	// Need period+1 candles because TR requires previous candle
	return a.period + 1
}

func (a *ATRStream) Reset() {
	a.ranges = a.ranges[:0]
	a.hasPrevious = false
}

func (a *ATRStream) Update(c market.Candle) {
	if !a.hasPrevious {
		a.prevCandle = c
		a.hasPrevious = true
		return
	}

	a.ranges = append(a.ranges, TrueRange(c, a.prevCandle))
	if len(a.ranges) > a.period {
		a.ranges = a.ranges[1:]
	}
	a.prevCandle = c
}

func (a *ATRStream) Ready() bool {
	return a.period > 0 && len(a.ranges) >= a.period
}

func (a *ATRStream) Value() float64 {
	if !a.Ready() {
		return 0
	}
	sum := 0.0
	for _, tr := range a.ranges {
		sum += tr
	}
	return sum / float64(a.period)
}

var (
	_ Indicator = (*SimpleMA)(nil)
	_ Indicator = (*ExponentialMA)(nil)
	_ Indicator = (*RSIStream)(nil)
	_ Indicator = (*ATRStream)(nil)
)
