package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/stress"
)

// liquidityLimit is the stressed liquidity haircut, as a fraction of
// pre-stress value, above which a liquidity alert is raised.
const liquidityLimit = 0.2

const stressMetric = "stress:"

// Input is one account's latest risk picture. Metrics and Stress are each
// optional; only the sources present are checked and auto-resolved.
type Input struct {
	AccountID string
	Profile   risk.Profile
	Metrics   *portfolio.RiskMetrics
	Stress    []stress.Result
}

// Check turns in into the set of breaches it contains, sorted for stable
// output.
func Check(in Input) []Breach {
	var out []Breach
	if rm := in.Metrics; rm != nil {
		out = append(out, metricBreaches(in.AccountID, in.Profile, *rm)...)
	}
	for _, r := range in.Stress {
		out = append(out, stressBreaches(in.AccountID, in.Profile, r)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func metricBreaches(acct string, p risk.Profile, rm portfolio.RiskMetrics) []Breach {
	var out []Breach
	over := func(t Type, symbol, metric string, current, limit float64, rec string) {
		if limit <= 0 || current <= limit {
			return
		}
		out = append(out, Breach{
			Type:           t,
			Severity:       SeverityFor(current, limit),
			AccountID:      acct,
			Symbol:         symbol,
			Metric:         metric,
			Current:        current,
			Limit:          limit,
			Message:        fmt.Sprintf("%s %.4f above limit %.4f", metric, current, limit),
			Recommendation: rec,
		})
	}

	over(TypeVaRBreach, "", "var_95", rm.VaR95, p.MaxVaR, "Reduce position sizes or hedge to bring VaR under the limit")
	over(TypeDrawdown, "", "current_drawdown", rm.CurrentDrawdown, p.MaxDrawdownPct, "Pause new entries until equity recovers")
	over(TypeLimitBreach, "", "leverage", rm.Leverage, p.MaxLeverage, "Close or reduce positions to cut leverage")
	over(TypeVolatility, "", "volatility", rm.Volatility, p.MaxVolatility, "Tighten stops and reduce size in volatile names")
	for _, sym := range sortedKeys(rm.Concentration) {
		over(TypeConcentration, sym, "concentration", rm.Concentration[sym], p.MaxConcentrationPct,
			fmt.Sprintf("Trim %s to diversify", sym))
	}
	for _, sym := range sortedKeys(rm.Correlation) {
		over(TypeCorrelation, sym, "correlation", rm.Correlation[sym], p.MaxCorrelation,
			fmt.Sprintf("%s moves with the portfolio; add uncorrelated exposure", sym))
	}
	return out
}

func stressBreaches(acct string, p risk.Profile, r stress.Result) []Breach {
	var out []Breach
	metric := stressMetric + r.ScenarioID
	if r.MarginCall {
		out = append(out, Breach{
			Type:           TypeMarginCall,
			Severity:       SeverityCritical,
			AccountID:      acct,
			Metric:         metric,
			Current:        r.LossPct,
			Limit:          0.5,
			Message:        fmt.Sprintf("scenario %s triggers a margin call at %.1f%% loss", r.ScenarioID, r.LossPct*100),
			Recommendation: "Raise cash or reduce leverage before the scenario materialises",
		})
	}
	if limit := p.StressLimits[r.ScenarioID]; r.Exceeds(limit) {
		out = append(out, Breach{
			Type:           TypeLimitBreach,
			Severity:       SeverityFor(r.LossPct, limit),
			AccountID:      acct,
			Metric:         metric,
			Current:        r.LossPct,
			Limit:          limit,
			Message:        fmt.Sprintf("scenario %s loss %.1f%% above limit %.1f%%", r.ScenarioID, r.LossPct*100, limit*100),
			Recommendation: strings.Join(r.Recommendations, "; "),
		})
	}
	if r.PreValue.IsPositive() {
		liq := r.LiquidityImpact.Div(r.PreValue).InexactFloat64()
		if liq > liquidityLimit {
			out = append(out, Breach{
				Type:           TypeLiquidity,
				Severity:       SeverityFor(liq, liquidityLimit),
				AccountID:      acct,
				Metric:         metric,
				Current:        liq,
				Limit:          liquidityLimit,
				Message:        fmt.Sprintf("scenario %s liquidity haircut %.1f%%", r.ScenarioID, liq*100),
				Recommendation: "Shift exposure toward more liquid instruments",
			})
		}
	}
	return out
}

// Evaluate raises an alert for every breach in in and resolves the
// account's open alerts whose condition has cleared. It returns the alerts
// raised or refreshed in this pass.
func (m *Manager) Evaluate(ctx context.Context, in Input) ([]Alert, error) {
	breaches := Check(in)
	seen := make(map[string]bool, len(breaches))

	var (
		out  []Alert
		errs []error
	)
	for _, b := range breaches {
		seen[b.key()] = true
		a, _, err := m.Raise(ctx, b)
		if err != nil {
			errs = append(errs, err)
		}
		if a.ID != "" {
			out = append(out, a)
		}
	}

	for _, a := range m.List(in.AccountID, false) {
		if seen[a.key()] || !covered(in, a) {
			continue
		}
		if _, err := m.Resolve(ctx, a.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// covered reports whether in carries the source that produced a, so an
// absent source never clears alerts it raised.
func covered(in Input, a Alert) bool {
	if strings.HasPrefix(a.Metric, stressMetric) {
		return in.Stress != nil
	}
	return in.Metrics != nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
