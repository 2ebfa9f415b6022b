package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/pkg/logger"
)

// Quoter supplies the prices paper orders fill at.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (market.Quote, error)
}

// Paper fills market orders at the current quote: buys at the ask, sells
// at the bid. Limit orders fill at their limit. Requests are idempotent by
// ClientID.
type Paper struct {
	mu       sync.Mutex
	quotes   Quoter
	orders   map[string]Order
	byClient map[string]string
	now      func() time.Time
	log      *zap.Logger
}

func NewPaper(quotes Quoter, log *zap.Logger) *Paper {
	return &Paper{
		quotes:   quotes,
		orders:   make(map[string]Order),
		byClient: make(map[string]string),
		now:      time.Now,
		log:      logger.OrNop(log),
	}
}

func (p *Paper) SetClock(now func() time.Time) { p.now = now }

func (p *Paper) CreateOrder(ctx context.Context, spec OrderSpec) (Order, error) {
	if err := spec.Validate(); err != nil {
		return Order{}, err
	}

	p.mu.Lock()
	if oid, ok := p.byClient[spec.ClientID]; ok {
		o := p.orders[oid]
		p.mu.Unlock()
		return o, nil
	}
	p.mu.Unlock()

	var price float64
	if spec.LimitPrice != nil {
		price = *spec.LimitPrice
	} else {
		q, err := p.quotes.GetQuote(ctx, spec.Symbol)
		if err != nil {
			return Order{}, fmt.Errorf("paper fill %s: %w", spec.Symbol, err)
		}
		price = q.Ask
		if spec.Quantity < 0 {
			price = q.Bid
		}
		if price <= 0 {
			price = q.Price()
		}
	}

	at := p.now()
	o := Order{
		ID:         id.NewAt(at),
		ClientID:   spec.ClientID,
		AccountID:  spec.AccountID,
		StrategyID: spec.StrategyID,
		Symbol:     spec.Symbol,
		Venue:      spec.Venue,
		Quantity:   spec.Quantity,
		StopLoss:   spec.StopLoss,
		TakeProfit: spec.TakeProfit,
		CreatedAt:  at,
	}
	if price > 0 {
		o.Status = OrderFilled
		o.FilledQuantity = spec.Quantity
		o.AvgPrice = price
	} else {
		o.Status = OrderRejected
		o.Reason = "no price"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if oid, ok := p.byClient[spec.ClientID]; ok {
		return p.orders[oid], nil
	}
	p.orders[o.ID] = o
	p.byClient[spec.ClientID] = o.ID
	p.log.Info("paper order",
		zap.String("order_id", o.ID),
		zap.String("client_id", o.ClientID),
		zap.String("symbol", o.Symbol),
		zap.Float64("quantity", o.Quantity),
		zap.Float64("price", o.AvgPrice),
		zap.String("status", string(o.Status)))
	return o, nil
}

// Orders returns how many distinct orders were accepted.
func (p *Paper) Orders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
