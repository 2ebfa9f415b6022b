// Package journal is the durable record of what the engine decided and did:
// signals, gate decisions, orders, closed trades, equity, risk metrics,
// stress results, alerts and backtest runs.
package journal

import (
	"math"
	"time"

	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/portfolio"
)

// TradeRecord is one closed trade, or the closed part of a position.
type TradeRecord struct {
	TradeID    string
	RunID      string // set for backtest trades
	AccountID  string
	StrategyID string
	PositionID string
	Symbol     string
	Quantity   float64 // signed, as held before the close
	EntryPrice float64
	ExitPrice  float64
	OpenTime   time.Time
	CloseTime  time.Time
	RealizedPL float64
	Reason     string
}

// TradeFromClosed converts a book close into a trade record.
func TradeFromClosed(c portfolio.Closed) TradeRecord {
	p := c.Position
	at := p.UpdatedAt
	if p.ClosedAt != nil {
		at = *p.ClosedAt
	}
	return TradeRecord{
		TradeID:    id.NewAt(at),
		AccountID:  p.AccountID,
		StrategyID: p.StrategyID,
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Quantity:   math.Copysign(c.Quantity, sideSign(p.Side)),
		EntryPrice: p.EntryPrice,
		ExitPrice:  c.Price,
		OpenTime:   p.OpenedAt,
		CloseTime:  at,
		RealizedPL: c.PnL,
		Reason:     c.Reason,
	}
}

func sideSign(s portfolio.Side) float64 {
	if s == portfolio.Short {
		return -1
	}
	return 1
}

// EquitySnapshot is one observation of an account.
type EquitySnapshot struct {
	Time        time.Time
	RunID       string
	AccountID   string
	Balance     float64
	Equity      float64
	MarginUsed  float64
	FreeMargin  float64
	MarginLevel float64
}

func SnapshotOf(a portfolio.Account, at time.Time) EquitySnapshot {
	return EquitySnapshot{
		Time:        at,
		AccountID:   a.ID,
		Balance:     a.Balance,
		Equity:      a.Equity,
		MarginUsed:  a.Margin,
		FreeMargin:  a.FreeMargin,
		MarginLevel: a.MarginLevel,
	}
}
