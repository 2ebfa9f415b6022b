package portfolio

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradeguard/market"
)

// Account is a trading account. Balance moves on realized P&L; equity,
// margin and leverage are recomputed on every revaluation.
type Account struct {
	ID               string    `json:"id" yaml:"id"`
	Currency         string    `json:"currency" yaml:"currency"`
	RiskProfileID    string    `json:"risk_profile_id" yaml:"risk_profile_id"`
	Balance          float64   `json:"balance" yaml:"balance"`
	Equity           float64   `json:"equity" yaml:"-"`
	Margin           float64   `json:"margin" yaml:"-"`
	FreeMargin       float64   `json:"free_margin" yaml:"-"`
	MarginLevel      float64   `json:"margin_level" yaml:"-"`
	Leverage         float64   `json:"leverage" yaml:"-"`
	Exposure         float64   `json:"exposure" yaml:"-"`
	DailyRealizedPnL float64   `json:"daily_realized_pnl" yaml:"-"`
	Day              time.Time `json:"day" yaml:"-"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"-"`
}

// MarginCall reports whether equity no longer covers used margin.
func (a Account) MarginCall() bool {
	return a.Margin > 0 && a.Equity < a.Margin
}

// revalue recomputes equity, margin and leverage from open positions. Sums
// are taken in decimal so that the account figures do not drift with the
// number of positions.
func (a *Account) revalue(open []*Position, at time.Time) {
	equity := decimal.NewFromFloat(a.Balance)
	margin := decimal.Zero
	exposure := decimal.Zero
	for _, p := range open {
		equity = equity.Add(decimal.NewFromFloat(p.UnrealizedPnL))
		notional := decimal.NewFromFloat(p.Notional())
		exposure = exposure.Add(notional)
		margin = margin.Add(notional.Mul(decimal.NewFromFloat(market.Lookup(p.Symbol).MarginRate)))
	}

	a.Equity = equity.InexactFloat64()
	a.Margin = margin.InexactFloat64()
	a.Exposure = exposure.InexactFloat64()
	a.FreeMargin = equity.Sub(margin).InexactFloat64()
	a.MarginLevel = 0
	if margin.IsPositive() {
		a.MarginLevel = equity.Div(margin).InexactFloat64()
	}
	a.Leverage = 0
	if equity.IsPositive() {
		a.Leverage = exposure.Div(equity).InexactFloat64()
	}
	a.UpdatedAt = at
}

// realize books P&L into the balance and the daily counter, rolling the
// counter at the UTC day boundary.
func (a *Account) realize(pnl float64, at time.Time) {
	a.rollDay(at)
	a.Balance = decimal.NewFromFloat(a.Balance).Add(decimal.NewFromFloat(pnl)).InexactFloat64()
	a.DailyRealizedPnL += pnl
}

func (a *Account) rollDay(at time.Time) {
	day := at.UTC().Truncate(24 * time.Hour)
	if !day.Equal(a.Day) {
		a.Day = day
		a.DailyRealizedPnL = 0
	}
}

// DailyLossPct is the realized loss for the UTC day of at as a fraction of
// equity, 0 when that day is flat or up or has no realized trades yet.
func (a Account) DailyLossPct(at time.Time) float64 {
	if !at.UTC().Truncate(24 * time.Hour).Equal(a.Day) {
		return 0
	}
	if a.DailyRealizedPnL >= 0 || a.Equity <= 0 {
		return 0
	}
	return math.Abs(a.DailyRealizedPnL) / a.Equity
}
