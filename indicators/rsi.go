package indicators

// RSI returns Wilder's Relative Strength Index of values. The first value
// averages the first period changes; later values use Wilder smoothing. The
// result has len(values)-period elements, each clamped to [0, 100].
//
// Fallbacks: no losses in the window gives 100, no gains gives 0, a flat
// window (no gains and no losses) gives 50.
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(values) <= period {
		return []float64{}, nil
	}

	out := make([]float64, len(values)-period)

	gain, loss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		g, l := split(values[i] - values[i-1])
		gain += g
		loss += l
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	out[0] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		g, l := split(values[i] - values[i-1])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out[i-period] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - 100/(1+rs)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
