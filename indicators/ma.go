package indicators

// SMA returns the rolling arithmetic mean of values. The result has
// len(values)-period+1 elements (empty when there is not enough data); out[j]
// is the mean of values[j : j+period].
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	out := make([]float64, outLen(len(values), period))
	for j := range out {
		sum := 0.0
		for _, v := range values[j : j+period] {
			sum += v
		}
		out[j] = sum / float64(period)
	}
	return out, nil
}

// EMA returns the exponential moving average of values, seeded with the SMA of
// the first period values and smoothed with alpha = 2/(period+1). The result
// has len(values)-period+1 elements.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	n := outLen(len(values), period)
	if n == 0 {
		return []float64{}, nil
	}

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, n)

	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	ema := sum / float64(period)
	out[0] = ema

	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i-period+1] = ema
	}
	return out, nil
}
