package portfolio

import (
	"math"
	"sort"
)

// TradingDays annualises daily figures.
const TradingDays = 252

// Every function here is total: an empty or degenerate input returns 0
// instead of NaN or an error.

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// StdDev is the sample standard deviation (n-1 denominator).
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func sortedCopy(xs []float64) []float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s
}

func varIndex(n int, confidence float64) int {
	idx := int(math.Floor((1 - confidence) * float64(n)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// VaR is historical value at risk at confidence c, as a positive loss
// fraction: the return at index floor((1-c)N) of the ascending series,
// negated. A series whose tail is a gain has no loss at risk and gives 0,
// which keeps VaR non-decreasing in c.
func VaR(returns []float64, c float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	s := sortedCopy(returns)
	return math.Max(0, -s[varIndex(len(s), c)])
}

// ExpectedShortfall is the mean of the returns at or below the VaR index,
// as a positive loss fraction.
func ExpectedShortfall(returns []float64, c float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	s := sortedCopy(returns)
	return math.Max(0, -Mean(s[:varIndex(len(s), c)+1]))
}

func excess(returns []float64, riskFree float64) []float64 {
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = r - riskFree
	}
	return out
}

// Sharpe is mean excess return over its standard deviation, per period.
func Sharpe(returns []float64, riskFree float64) float64 {
	ex := excess(returns, riskFree)
	sd := StdDev(ex)
	if sd == 0 {
		return 0
	}
	return Mean(ex) / sd
}

// Sortino divides mean excess return by the deviation of the negative
// excess returns only.
func Sortino(returns []float64, riskFree float64) float64 {
	ex := excess(returns, riskFree)
	var neg []float64
	for _, r := range ex {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	sd := StdDev(neg)
	if sd == 0 {
		return 0
	}
	return Mean(ex) / sd
}

// Drawdown walks an equity curve tracking the running peak. maxDD is the
// largest (peak-equity)/peak seen, current the same against the most
// recent peak at the last point.
func Drawdown(equity []float64) (maxDD, current float64) {
	var peak float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		current = (peak - e) / peak
		if current > maxDD {
			maxDD = current
		}
	}
	return maxDD, current
}

// DrawdownSeries returns the drawdown at each point of equity.
func DrawdownSeries(equity []float64) []float64 {
	out := make([]float64, len(equity))
	var peak float64
	for i, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			out[i] = (peak - e) / peak
		}
	}
	return out
}

func centralMoment(xs []float64, k float64) float64 {
	m := Mean(xs)
	var s float64
	for _, x := range xs {
		s += math.Pow(x-m, k)
	}
	return s / float64(len(xs))
}

// Skewness is the standardised third central moment.
func Skewness(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	m2 := centralMoment(xs, 2)
	if m2 == 0 {
		return 0
	}
	return centralMoment(xs, 3) / math.Pow(m2, 1.5)
}

// Kurtosis is the standardised fourth central moment minus 3.
func Kurtosis(xs []float64) float64 {
	if len(xs) < 4 {
		return 0
	}
	m2 := centralMoment(xs, 2)
	if m2 == 0 {
		return 0
	}
	return centralMoment(xs, 4)/(m2*m2) - 3
}

// align trims a and b to their common most recent length.
func align(a, b []float64) ([]float64, []float64) {
	n := min(len(a), len(b))
	return a[len(a)-n:], b[len(b)-n:]
}

func covariance(a, b []float64) float64 {
	a, b = align(a, b)
	if len(a) < 2 {
		return 0
	}
	ma, mb := Mean(a), Mean(b)
	var s float64
	for i := range a {
		s += (a[i] - ma) * (b[i] - mb)
	}
	return s / float64(len(a)-1)
}

// Beta is Cov(portfolio, benchmark) / Var(benchmark).
func Beta(portfolio, benchmark []float64) float64 {
	p, b := align(portfolio, benchmark)
	v := StdDev(b)
	if v == 0 {
		return 0
	}
	return covariance(p, b) / (v * v)
}

// Alpha is the portfolio's mean return over what beta predicts from the
// benchmark's mean return.
func Alpha(portfolio, benchmark []float64, riskFree float64) float64 {
	p, b := align(portfolio, benchmark)
	if len(p) == 0 {
		return 0
	}
	return Mean(p) - (riskFree + Beta(p, b)*(Mean(b)-riskFree))
}

func active(portfolio, benchmark []float64) []float64 {
	p, b := align(portfolio, benchmark)
	out := make([]float64, len(p))
	for i := range p {
		out[i] = p[i] - b[i]
	}
	return out
}

// TrackingError is the standard deviation of active returns.
func TrackingError(portfolio, benchmark []float64) float64 {
	return StdDev(active(portfolio, benchmark))
}

// InformationRatio is mean active return over tracking error.
func InformationRatio(portfolio, benchmark []float64) float64 {
	a := active(portfolio, benchmark)
	te := StdDev(a)
	if te == 0 {
		return 0
	}
	return Mean(a) / te
}

// Pearson is the correlation coefficient of a and b over their common tail.
func Pearson(a, b []float64) float64 {
	a, b = align(a, b)
	sa, sb := StdDev(a), StdDev(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	return covariance(a, b) / (sa * sb)
}

// Volatility is the annualised standard deviation of daily returns.
func Volatility(returns []float64) float64 {
	return StdDev(returns) * math.Sqrt(TradingDays)
}

// Calmar is annualised mean return over maximum drawdown.
func Calmar(returns []float64, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return Mean(returns) * TradingDays / maxDrawdown
}

// EquityCurve compounds returns from a starting value.
func EquityCurve(start float64, returns []float64) []float64 {
	out := make([]float64, len(returns)+1)
	out[0] = start
	for i, r := range returns {
		out[i+1] = out[i] * (1 + r)
	}
	return out
}
