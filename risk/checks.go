package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/tradeguard/portfolio"
)

// evaluate runs the checks in order and reports whether the request
// survived. Hard failures stop at the first one.
func (g *Gate) evaluate(ctx context.Context, d *Decision, req Request, st state, at time.Time) bool {
	sig := req.Signal
	prof := st.profile
	pv := st.account.Equity
	side := sig.Side()
	qty := req.Quantity
	notional := qty * sig.Price

	// Exposure already held or reserved.
	var existing, gross float64
	for _, p := range st.positions {
		gross += p.Notional()
		if p.Symbol == sig.Symbol {
			existing += p.Value()
		}
	}
	for _, r := range st.pending {
		gross += math.Abs(r.Notional)
		if r.Symbol == sig.Symbol {
			existing += r.Notional
		}
	}

	// 1. instrument lists
	if !prof.Permits(sig.Symbol) {
		d.reject(CodeForbidden, fmt.Sprintf("%s is not permitted by profile %s", sig.Symbol, prof.ID))
		return false
	}
	if loss := st.account.DailyLossPct(at); prof.MaxDailyLossPct > 0 && loss >= prof.MaxDailyLossPct {
		d.reject(CodeDailyLoss, fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", 100*loss, 100*prof.MaxDailyLossPct))
		return false
	}

	// 2. position size: clip, never reject for size alone
	maxPct := prof.MaxPositionSizePct
	if req.Risk != nil && req.Risk.MaxPositionSize > 0 && req.Risk.MaxPositionSize < maxPct {
		maxPct = req.Risk.MaxPositionSize
	}
	if maxNotional := maxPct * pv; notional > maxNotional {
		clipped := maxNotional / sig.Price
		if !(clipped > 0) || clipped >= qty {
			d.reject(CodePositionClipped, fmt.Sprintf("cannot size %s within %.2f%% of portfolio", sig.Symbol, 100*maxPct))
			return false
		}
		d.AdjustedQuantity = &clipped
		d.warn(CodePositionClipped, fmt.Sprintf("quantity %.6g clipped to %.6g (max position %.2f%% of %.2f)", qty, clipped, 100*maxPct, pv))
		qty = clipped
		notional = qty * sig.Price
	}
	d.Notional = notional
	post := existing + side*notional
	increases := math.Abs(post) > math.Abs(existing)

	// 3. concentration
	if conc := math.Abs(post) / pv; increases && conc > prof.MaxConcentrationPct {
		d.reject(CodeConcentration, fmt.Sprintf("%s concentration %.2f%% exceeds %.2f%%", sig.Symbol, 100*conc, 100*prof.MaxConcentrationPct))
		return false
	}

	candidate := g.symbolReturns(ctx, sig.Symbol)

	// 4. correlation, warning only
	if len(candidate) > 1 {
		for _, p := range st.positions {
			if p.Symbol == sig.Symbol {
				continue
			}
			held := g.symbolReturns(ctx, p.Symbol)
			if c := portfolio.Pearson(candidate, held); c > prof.MaxCorrelation {
				d.warn(CodeCorrelation, fmt.Sprintf("%s correlates %.2f with held %s", sig.Symbol, c, p.Symbol))
			}
		}
	}

	// 5. leverage after the trade
	postGross := gross - math.Abs(existing) + math.Abs(post)
	d.PostLeverage = postGross / pv
	if increases && d.PostLeverage > prof.MaxLeverage {
		d.reject(CodeLeverage, fmt.Sprintf("post-trade leverage %.2f exceeds %.2f", d.PostLeverage, prof.MaxLeverage))
		return false
	}

	stopPct := prof.StopLossPct
	if req.Risk != nil && req.Risk.StopLossPct > 0 && req.Risk.StopLossPct < stopPct {
		stopPct = req.Risk.StopLossPct
	}
	stop := clipStop(sig, stopPct)

	// 6. VaR after the trade. Without a return series for the symbol the
	// added exposure is charged its loss to the required stop.
	d.PostVaR = st.metrics.VaR95
	if increases {
		added := math.Abs(post) - math.Abs(existing)
		if len(candidate) > 0 {
			d.PostVaR = (st.metrics.VaR95*pv + added*portfolio.VaR(candidate, 0.95)) / pv
		} else {
			d.PostVaR = st.metrics.VaR95 + added*math.Abs(sig.Price-stop)/sig.Price/pv
		}
	}
	if d.PostVaR > prof.MaxVaR {
		d.reject(CodeVaR, fmt.Sprintf("post-trade VaR95 %.2f%% exceeds %.2f%%", 100*d.PostVaR, 100*prof.MaxVaR))
		return false
	}
	if st.metrics.Timestamp.IsZero() {
		d.warn(CodeNoMetrics, "no risk metrics computed for account yet")
	}

	// 7. liquidity
	meta := lookup(sig.Symbol)
	if meta.Liquidity < prof.MinLiquidity {
		d.warn(CodeLiquidity, fmt.Sprintf("%s liquidity score %.2f is high risk", sig.Symbol, meta.Liquidity))
	}

	// 8. market hours and volatility
	if !meta.IsOpen(at) {
		d.warn(CodeMarketClosed, fmt.Sprintf("%s market is closed at %s", sig.Symbol, at.UTC().Format(time.RFC3339)))
	}
	if prof.MaxVolatility > 0 {
		if v := portfolio.Volatility(candidate); v > prof.MaxVolatility {
			d.warn(CodeVolatility, fmt.Sprintf("%s annualised volatility %.2f%% above %.2f%%", sig.Symbol, 100*v, 100*prof.MaxVolatility))
		}
		if st.metrics.Volatility > prof.MaxVolatility {
			d.warn(CodeVolatility, fmt.Sprintf("portfolio volatility %.2f%% above %.2f%%", 100*st.metrics.Volatility, 100*prof.MaxVolatility))
		}
	}

	d.RequiredStop = &stop
	d.MaxHoldingPeriod = prof.MaxHoldingPeriod
	return true
}

func (g *Gate) symbolReturns(ctx context.Context, symbol string) []float64 {
	if g.returns == nil {
		return nil
	}
	r, err := g.returns.Returns(ctx, symbol)
	if err != nil {
		return nil
	}
	return r
}
