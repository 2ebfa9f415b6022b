package risk

import "math"

// SizeByRisk returns the quantity that loses riskPct of equity if price
// moves from entry to stop. It is 0 when the stop distance is zero.
func SizeByRisk(equity, riskPct, entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if dist == 0 || equity <= 0 {
		return 0
	}
	return equity * riskPct / dist
}

// RR is the reward to risk ratio of a trade.
func RR(entry, stop, takeProfit float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / risk
}

// RiskPct is the planned loss as a fraction of equity; +Inf without equity.
func RiskPct(plannedLoss, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedLoss / equity
}
