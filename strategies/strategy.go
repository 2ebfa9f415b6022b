// Package strategies holds the strategy catalog: the registry of strategy
// definitions the signal generator evaluates.
package strategies

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Type selects the signal generator variant.
type Type string

const (
	TrendFollowing       Type = "trend_following"
	MeanReversion        Type = "mean_reversion"
	Momentum             Type = "momentum"
	Arbitrage            Type = "arbitrage"
	MarketMaking         Type = "market_making"
	MLBased              Type = "ml_based"
	Sentiment            Type = "sentiment"
	PairsTrading         Type = "pairs_trading"
	StatisticalArbitrage Type = "statistical_arbitrage"
)

var types = []Type{
	TrendFollowing, MeanReversion, Momentum, Arbitrage, MarketMaking,
	MLBased, Sentiment, PairsTrading, StatisticalArbitrage,
}

func (t Type) Valid() bool {
	return slices.Contains(types, t)
}

var (
	ErrNotFound  = errors.New("strategy not found")
	ErrDuplicate = errors.New("strategy already registered")
)

// RiskParams are optional per-strategy risk overrides.
type RiskParams struct {
	MaxPositionSize float64 `json:"max_position_size" yaml:"max_position_size"` // fraction of equity
	StopLossPct     float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
}

// Performance is the rolling trade record of a strategy.
type Performance struct {
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	WinRate     float64   `json:"win_rate"`
	TotalPnL    float64   `json:"total_pnl"`
	AvgPnL      float64   `json:"avg_pnl"`
	PeakPnL     float64   `json:"peak_pnl"`
	MaxDrawdown float64   `json:"max_drawdown"`
	LastTradeAt time.Time `json:"last_trade_at"`
}

// Strategy is one strategy definition.
type Strategy struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Type        Type               `json:"type" yaml:"type"`
	Category    string             `json:"category" yaml:"category"`
	AccountID   string             `json:"account_id" yaml:"account_id"`
	Timeframes  []string           `json:"timeframes" yaml:"timeframes"`
	Instruments []string           `json:"instruments" yaml:"instruments"`
	Parameters  map[string]float64 `json:"parameters" yaml:"parameters"`
	Risk        *RiskParams        `json:"risk,omitempty" yaml:"risk,omitempty"`
	Performance Performance        `json:"performance" yaml:"-"`
	Active      bool               `json:"active" yaml:"active"`
	UpdatedAt   time.Time          `json:"updated_at" yaml:"-"`
}

// Param returns a named parameter or def when it is unset.
func (s Strategy) Param(name string, def float64) float64 {
	if v, ok := s.Parameters[name]; ok {
		return v
	}
	return def
}

// Timeframe is the primary bar size, "1h" when none is configured.
func (s Strategy) Timeframe() string {
	if len(s.Timeframes) == 0 {
		return "1h"
	}
	return s.Timeframes[0]
}

// Validate checks the definition is usable.
func (s Strategy) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("strategy id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("strategy %s: unknown type %q", s.ID, s.Type)
	}
	if len(s.Instruments) == 0 {
		return fmt.Errorf("strategy %s: at least one instrument is required", s.ID)
	}
	if s.Risk != nil {
		if s.Risk.MaxPositionSize < 0 || s.Risk.MaxPositionSize > 1 {
			return fmt.Errorf("strategy %s: risk.max_position_size must be between 0 and 1", s.ID)
		}
		if s.Risk.StopLossPct < 0 || s.Risk.StopLossPct >= 1 {
			return fmt.Errorf("strategy %s: risk.stop_loss_pct must be between 0 and 1", s.ID)
		}
	}
	return nil
}

func (s Strategy) clone() Strategy {
	out := s
	out.Timeframes = slices.Clone(s.Timeframes)
	out.Instruments = slices.Clone(s.Instruments)
	out.Parameters = maps.Clone(s.Parameters)
	if s.Risk != nil {
		r := *s.Risk
		out.Risk = &r
	}
	return out
}
