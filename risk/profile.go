package risk

import (
	"fmt"
	"slices"
	"time"
)

// Profile is an account's static risk configuration. Percentages are
// fractions: 0.1 means 10%.
type Profile struct {
	ID                   string             `json:"id" yaml:"id"`
	MaxPositionSizePct   float64            `json:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxDailyLossPct      float64            `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct       float64            `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxLeverage          float64            `json:"max_leverage" yaml:"max_leverage"`
	MaxConcentrationPct  float64            `json:"max_concentration_pct" yaml:"max_concentration_pct"`
	MaxCorrelation       float64            `json:"max_correlation" yaml:"max_correlation"`
	MaxVaR               float64            `json:"max_var" yaml:"max_var"`
	MaxVolatility        float64            `json:"max_volatility" yaml:"max_volatility"`
	MinLiquidity         float64            `json:"min_liquidity" yaml:"min_liquidity"`
	RiskPerTradePct      float64            `json:"risk_per_trade_pct" yaml:"risk_per_trade_pct"`
	StopLossPct          float64            `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxHoldingPeriod     time.Duration      `json:"max_holding_period" yaml:"max_holding_period"`
	AllowedInstruments   []string           `json:"allowed_instruments,omitempty" yaml:"allowed_instruments,omitempty"`
	ForbiddenInstruments []string           `json:"forbidden_instruments,omitempty" yaml:"forbidden_instruments,omitempty"`
	StressLimits         map[string]float64 `json:"stress_limits,omitempty" yaml:"stress_limits,omitempty"`
}

// DefaultProfile is a moderate profile.
func DefaultProfile() Profile {
	return Profile{
		ID:                  "moderate",
		MaxPositionSizePct:  0.10,
		MaxDailyLossPct:     0.03,
		MaxDrawdownPct:      0.15,
		MaxLeverage:         2,
		MaxConcentrationPct: 0.25,
		MaxCorrelation:      0.8,
		MaxVaR:              0.05,
		MaxVolatility:       0.40,
		MinLiquidity:        0.3,
		RiskPerTradePct:     0.01,
		StopLossPct:         0.02,
		MaxHoldingPeriod:    5 * 24 * time.Hour,
		StressLimits: map[string]float64{
			"market_crash_2008": 0.30,
			"flash_crash":       0.15,
		},
	}
}

func (p Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("risk profile id is required")
	}
	fracs := []struct {
		name string
		v    float64
	}{
		{"max_position_size_pct", p.MaxPositionSizePct},
		{"max_daily_loss_pct", p.MaxDailyLossPct},
		{"max_drawdown_pct", p.MaxDrawdownPct},
		{"max_concentration_pct", p.MaxConcentrationPct},
		{"max_var", p.MaxVaR},
		{"risk_per_trade_pct", p.RiskPerTradePct},
		{"stop_loss_pct", p.StopLossPct},
	}
	for _, f := range fracs {
		if f.v <= 0 || f.v > 1 {
			return fmt.Errorf("risk profile %s: %s must be in (0,1], got %v", p.ID, f.name, f.v)
		}
	}
	if p.MaxLeverage <= 0 {
		return fmt.Errorf("risk profile %s: max_leverage must be positive", p.ID)
	}
	if p.MaxCorrelation < 0 || p.MaxCorrelation > 1 {
		return fmt.Errorf("risk profile %s: max_correlation must be in [0,1]", p.ID)
	}
	for _, s := range p.AllowedInstruments {
		if slices.Contains(p.ForbiddenInstruments, s) {
			return fmt.Errorf("risk profile %s: %s is both allowed and forbidden", p.ID, s)
		}
	}
	return nil
}

// Permits reports whether symbol passes the allow and deny lists. An empty
// allow list allows everything not forbidden.
func (p Profile) Permits(symbol string) bool {
	if slices.Contains(p.ForbiddenInstruments, symbol) {
		return false
	}
	return len(p.AllowedInstruments) == 0 || slices.Contains(p.AllowedInstruments, symbol)
}

// Profiles is a static lookup of profiles by id.
type Profiles map[string]Profile

func (ps Profiles) Profile(id string) (Profile, error) {
	p, ok := ps[id]
	if !ok {
		return Profile{}, fmt.Errorf("unknown risk profile %q", id)
	}
	return p, nil
}
