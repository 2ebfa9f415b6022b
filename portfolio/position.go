// Package portfolio tracks positions and accounts and derives portfolio
// risk metrics from them.
package portfolio

import (
	"math"
	"time"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// SideOf returns the side matching the sign of qty.
func SideOf(qty float64) Side {
	if qty < 0 {
		return Short
	}
	return Long
}

type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusPartial PositionStatus = "partial"
	StatusClosed  PositionStatus = "closed"
)

// Close reasons.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonManual     = "manual"
	ReasonReduced    = "reduced"
)

// Position is a holding in one symbol for one account. Quantity is signed
// and always agrees with Side.
type Position struct {
	ID            string         `json:"id"`
	AccountID     string         `json:"account_id"`
	StrategyID    string         `json:"strategy_id"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	Quantity      float64        `json:"quantity"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	Status        PositionStatus `json:"status"`
	OpenedAt      time.Time      `json:"opened_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	CloseReason   string         `json:"close_reason,omitempty"`
}

// Value is the signed market value.
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

// Notional is the absolute market value.
func (p Position) Notional() float64 {
	return math.Abs(p.Value())
}

func (p Position) IsOpen() bool {
	return p.Status != StatusClosed
}

func (p *Position) mark(price float64, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.Quantity * (price - p.EntryPrice)
	p.UpdatedAt = at
}

func (p *Position) hitStopLoss(price float64) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Quantity > 0 {
		return price <= *p.StopLoss
	}
	return price >= *p.StopLoss
}

func (p *Position) hitTakeProfit(price float64) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Quantity > 0 {
		return price >= *p.TakeProfit
	}
	return price <= *p.TakeProfit
}
