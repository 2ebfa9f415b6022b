// Package execution hands approved signals to the order execution
// collaborator and reconciles what comes back.
package execution

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderFilled   OrderStatus = "filled"
	OrderPartial  OrderStatus = "partial"
	OrderRejected OrderStatus = "rejected"
	OrderFailed   OrderStatus = "failed"
)

// OrderSpec asks for a trade. Quantity is signed: positive buys. A nil
// LimitPrice is a market order. ClientID identifies the request so a
// retried call cannot trade twice.
type OrderSpec struct {
	ClientID   string   `json:"client_id"`
	AccountID  string   `json:"account_id"`
	StrategyID string   `json:"strategy_id"`
	Symbol     string   `json:"symbol"`
	Venue      string   `json:"venue,omitempty"`
	Quantity   float64  `json:"quantity"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

func (s OrderSpec) Validate() error {
	const op = "order.validate"
	switch {
	case s.ClientID == "":
		return errs.Validation(op, "missing client id")
	case s.AccountID == "":
		return errs.Validation(op, "missing account id")
	case s.Symbol == "":
		return errs.Validation(op, "missing symbol")
	case s.Quantity == 0 || math.IsNaN(s.Quantity) || math.IsInf(s.Quantity, 0):
		return errs.Validation(op, "quantity must be a non-zero number")
	case s.LimitPrice != nil && !(*s.LimitPrice > 0):
		return errs.Validation(op, "limit price must be positive")
	}
	return nil
}

// Order is the execution service's view of a request.
type Order struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"client_id"`
	AccountID      string      `json:"account_id"`
	StrategyID     string      `json:"strategy_id"`
	Symbol         string      `json:"symbol"`
	Venue          string      `json:"venue,omitempty"`
	Status         OrderStatus `json:"status"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgPrice       float64     `json:"avg_price"`
	StopLoss       *float64    `json:"stop_loss,omitempty"`
	TakeProfit     *float64    `json:"take_profit,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Filled reports whether any quantity executed.
func (o Order) Filled() bool {
	return (o.Status == OrderFilled || o.Status == OrderPartial) && o.FilledQuantity != 0
}

// Fill converts the executed part of o into a book fill.
func (o Order) Fill() portfolio.Fill {
	return portfolio.Fill{
		OrderID:    o.ID,
		AccountID:  o.AccountID,
		StrategyID: o.StrategyID,
		Symbol:     o.Symbol,
		Quantity:   o.FilledQuantity,
		Price:      o.AvgPrice,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Time:       o.CreatedAt,
	}
}

// SignalStatus maps an order outcome onto the signal lifecycle.
func (o Order) SignalStatus() signals.Status {
	switch o.Status {
	case OrderFilled:
		return signals.StatusFilled
	case OrderPartial:
		return signals.StatusPartial
	}
	return signals.StatusFailed
}

// OrderService is the execution collaborator.
type OrderService interface {
	CreateOrder(ctx context.Context, spec OrderSpec) (Order, error)
}

type OrderServiceFunc func(ctx context.Context, spec OrderSpec) (Order, error)

func (f OrderServiceFunc) CreateOrder(ctx context.Context, spec OrderSpec) (Order, error) {
	return f(ctx, spec)
}

// SpecFor builds the order for an approved decision: the gate's quantity in
// the signal's direction, the gate's required stop and the signal's target.
func SpecFor(sig *signals.Signal, d risk.Decision) OrderSpec {
	return OrderSpec{
		ClientID:   sig.ID,
		AccountID:  d.AccountID,
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Quantity:   sig.Side() * d.Quantity(),
		StopLoss:   d.RequiredStop,
		TakeProfit: sig.TargetPrice,
	}
}
