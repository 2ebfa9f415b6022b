// Package stress applies named shock scenarios to portfolio snapshots.
package stress

import (
	"fmt"
	"time"
)

// Scenario is a set of shocks. Shocks are fractional price moves: -0.4 is a
// 40% fall. The shock applied to a position is the sum of the market shock
// and every sector, currency and instrument shock that matches it.
type Scenario struct {
	ID                   string             `json:"id" yaml:"id"`
	Name                 string             `json:"name" yaml:"name"`
	Description          string             `json:"description,omitempty" yaml:"description,omitempty"`
	MarketShock          float64            `json:"market_shock" yaml:"market_shock"`
	VolatilityMultiplier float64            `json:"volatility_multiplier" yaml:"volatility_multiplier"`
	Correlation          float64            `json:"correlation" yaml:"correlation"`
	LiquidityShock       float64            `json:"liquidity_shock" yaml:"liquidity_shock"`
	InterestRateShock    float64            `json:"interest_rate_shock" yaml:"interest_rate_shock"`
	CurrencyShocks       map[string]float64 `json:"currency_shocks,omitempty" yaml:"currency_shocks,omitempty"`
	SectorShocks         map[string]float64 `json:"sector_shocks,omitempty" yaml:"sector_shocks,omitempty"`
	InstrumentShocks     map[string]float64 `json:"instrument_shocks,omitempty" yaml:"instrument_shocks,omitempty"`
	Duration             time.Duration      `json:"duration" yaml:"duration"`
	Confidence           float64            `json:"confidence" yaml:"confidence"`
}

func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	if s.MarketShock <= -1 {
		return fmt.Errorf("scenario %s: market shock %v wipes out every position", s.ID, s.MarketShock)
	}
	if s.VolatilityMultiplier < 0 {
		return fmt.Errorf("scenario %s: volatility multiplier must not be negative", s.ID)
	}
	if s.LiquidityShock < 0 || s.LiquidityShock > 1 {
		return fmt.Errorf("scenario %s: liquidity shock must be in [0,1]", s.ID)
	}
	if s.Correlation < -1 || s.Correlation > 1 {
		return fmt.Errorf("scenario %s: correlation must be in [-1,1]", s.ID)
	}
	return nil
}

// rateDuration converts an interest rate shock into a price move for fixed
// income holdings.
const rateDuration = 7

// Builtin returns the standard scenario set.
func Builtin() []Scenario {
	return []Scenario{
		{
			ID: "market_crash_2008", Name: "Global financial crisis",
			MarketShock: -0.40, VolatilityMultiplier: 3, Correlation: 0.9, LiquidityShock: 0.3,
			InterestRateShock: -0.02,
			SectorShocks: map[string]float64{
				"financials":  -0.25,
				"energy":      -0.15,
				"technology":  -0.05,
				"commodities": 0.45,
			},
			CurrencyShocks: map[string]float64{"EUR": -0.10, "JPY": 0.10},
			Duration:       540 * 24 * time.Hour, Confidence: 0.99,
		},
		{
			ID: "covid_crash_2020", Name: "Covid crash",
			MarketShock: -0.34, VolatilityMultiplier: 4, Correlation: 0.85, LiquidityShock: 0.2,
			InterestRateShock: -0.015,
			SectorShocks: map[string]float64{
				"energy":     -0.30,
				"financials": -0.10,
				"technology": 0.10,
				"crypto":     -0.15,
			},
			Duration: 33 * 24 * time.Hour, Confidence: 0.99,
		},
		{
			ID: "flash_crash", Name: "Flash crash",
			MarketShock: -0.10, VolatilityMultiplier: 2, Correlation: 0.95, LiquidityShock: 0.25,
			Duration: time.Hour, Confidence: 0.95,
		},
		{
			ID: "interest_rate_shock", Name: "Rates +300bp",
			MarketShock: -0.10, VolatilityMultiplier: 1.5, Correlation: 0.6,
			InterestRateShock: 0.03,
			SectorShocks: map[string]float64{
				"financials": 0.05,
				"technology": -0.10,
			},
			Duration: 180 * 24 * time.Hour, Confidence: 0.95,
		},
		{
			ID: "currency_crisis", Name: "Currency crisis",
			MarketShock: -0.05, VolatilityMultiplier: 2, Correlation: 0.7, LiquidityShock: 0.1,
			CurrencyShocks: map[string]float64{"EUR": -0.15, "JPY": -0.20},
			Duration:       90 * 24 * time.Hour, Confidence: 0.95,
		},
		{
			ID: "liquidity_crisis", Name: "Liquidity crisis",
			MarketShock: -0.20, VolatilityMultiplier: 2.5, Correlation: 0.9, LiquidityShock: 0.4,
			SectorShocks: map[string]float64{"crypto": -0.30},
			Duration:     60 * 24 * time.Hour, Confidence: 0.95,
		},
	}
}
