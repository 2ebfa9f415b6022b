package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/pkg/logger"
)

var (
	ErrUnknownAccount  = errors.New("unknown account")
	ErrUnknownPosition = errors.New("unknown position")
	ErrPositionClosed  = errors.New("position already closed")
)

// Fill is an execution report. Quantity is signed: positive buys,
// negative sells.
type Fill struct {
	OrderID    string    `json:"order_id"`
	AccountID  string    `json:"account_id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Time       time.Time `json:"time"`
}

// Closed reports a position (or part of one) leaving the book.
type Closed struct {
	Position Position `json:"position"`
	Quantity float64  `json:"quantity"`
	Price    float64  `json:"price"`
	PnL      float64  `json:"pnl"`
	Reason   string   `json:"reason"`
}

type posKey struct {
	account string
	symbol  string
}

// Book holds accounts and their positions. There is at most one open
// position per (account, symbol); fills against it either add to it or
// reduce it, so a position never holds mixed signs.
type Book struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	positions map[string]*Position
	open      map[posKey]*Position
	newID     func(time.Time) string
	log       *zap.Logger
}

func NewBook(log *zap.Logger) *Book {
	return &Book{
		accounts:  make(map[string]*Account),
		positions: make(map[string]*Position),
		open:      make(map[posKey]*Position),
		newID:     id.NewAt,
		log:       logger.OrNop(log),
	}
}

// SetIDFunc replaces position id generation.
func (b *Book) SetIDFunc(fn func(time.Time) string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newID = fn
}

// AddAccount registers an account; equity starts at the balance.
func (b *Book) AddAccount(a Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	cp := a
	cp.revalue(nil, a.UpdatedAt)
	b.accounts[a.ID] = &cp
	return nil
}

func (b *Book) Account(accountID string) (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return *a, nil
}

// Accounts returns every account ordered by id.
func (b *Book) Accounts() []Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenPositions returns the account's open positions ordered by symbol.
func (b *Book) OpenPositions(accountID string) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Position
	for k, p := range b.open {
		if k.account == accountID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (b *Book) Position(positionID string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[positionID]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	return *p, nil
}

// Symbols returns the symbols with an open position in any account.
func (b *Book) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for k := range b.open {
		if !seen[k.symbol] {
			seen[k.symbol] = true
			out = append(out, k.symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Apply books a fill. A fill in the direction of the open position adds to
// it at a volume weighted entry. A fill against it reduces it; anything
// beyond the open quantity closes it and opens a new position on the other
// side with the remainder.
func (b *Book) Apply(f Fill) ([]Closed, error) {
	if f.Quantity == 0 || !(f.Price > 0) {
		return nil, fmt.Errorf("apply fill: quantity %v at price %v", f.Quantity, f.Price)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	acct, ok := b.accounts[f.AccountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, f.AccountID)
	}

	key := posKey{f.AccountID, f.Symbol}
	var closed []Closed
	remaining := f.Quantity

	if p, ok := b.open[key]; ok {
		if sameSign(p.Quantity, f.Quantity) {
			qty := p.Quantity + f.Quantity
			p.EntryPrice = (p.Quantity*p.EntryPrice + f.Quantity*f.Price) / qty
			p.Quantity = qty
			if f.StopLoss != nil {
				p.StopLoss = f.StopLoss
			}
			if f.TakeProfit != nil {
				p.TakeProfit = f.TakeProfit
			}
			p.mark(f.Price, f.Time)
			remaining = 0
		} else {
			reduce := math.Min(math.Abs(f.Quantity), math.Abs(p.Quantity))
			c := b.reduceLocked(acct, p, reduce, f.Price, f.Time, ReasonReduced)
			closed = append(closed, c)
			remaining = f.Quantity - math.Copysign(reduce, f.Quantity)
		}
	}

	if remaining != 0 {
		p := &Position{
			ID:         b.newID(f.Time),
			AccountID:  f.AccountID,
			StrategyID: f.StrategyID,
			Symbol:     f.Symbol,
			Side:       SideOf(remaining),
			Quantity:   remaining,
			EntryPrice: f.Price,
			StopLoss:   f.StopLoss,
			TakeProfit: f.TakeProfit,
			Status:     StatusOpen,
			OpenedAt:   f.Time,
		}
		p.mark(f.Price, f.Time)
		b.positions[p.ID] = p
		b.open[key] = p
	}

	acct.revalue(b.openLocked(f.AccountID), f.Time)
	return closed, nil
}

// reduceLocked takes qty (unsigned) off p at price, realizing the P&L.
func (b *Book) reduceLocked(acct *Account, p *Position, qty, price float64, at time.Time, reason string) Closed {
	dir := math.Copysign(1, p.Quantity)
	pnl := dir * qty * (price - p.EntryPrice)
	acct.realize(pnl, at)
	p.RealizedPnL += pnl
	p.Quantity -= dir * qty

	if math.Abs(p.Quantity) < 1e-12 {
		p.Quantity = 0
		p.Status = StatusClosed
		p.CurrentPrice = price
		p.UnrealizedPnL = 0
		p.UpdatedAt = at
		p.ClosedAt = &at
		p.CloseReason = reason
		delete(b.open, posKey{p.AccountID, p.Symbol})
	} else {
		p.Status = StatusPartial
		p.mark(price, at)
	}
	return Closed{Position: *p, Quantity: qty, Price: price, PnL: pnl, Reason: reason}
}

// MarkToMarket revalues every open position in symbol at price. Positions
// whose stop or take profit is crossed are closed at that level; the stop
// is checked first.
func (b *Book) MarkToMarket(symbol string, price float64, at time.Time) []Closed {
	if !(price > 0) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var closed []Closed
	touched := map[string]bool{}
	for k, p := range b.open {
		if k.symbol != symbol {
			continue
		}
		touched[k.account] = true
		exit, reason := price, ""
		switch {
		case p.hitStopLoss(price):
			exit, reason = *p.StopLoss, ReasonStopLoss
		case p.hitTakeProfit(price):
			exit, reason = *p.TakeProfit, ReasonTakeProfit
		}
		if reason == "" {
			p.mark(price, at)
			continue
		}
		c := b.reduceLocked(b.accounts[k.account], p, math.Abs(p.Quantity), exit, at, reason)
		b.log.Info("position closed by trigger",
			zap.String("position_id", p.ID),
			zap.String("account_id", p.AccountID),
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.Float64("pnl", c.PnL),
		)
		closed = append(closed, c)
	}
	for acctID := range touched {
		if a, ok := b.accounts[acctID]; ok {
			a.revalue(b.openLocked(acctID), at)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Position.ID < closed[j].Position.ID })
	return closed
}

// Close manually closes an open position at price.
func (b *Book) Close(positionID string, price float64, at time.Time) (Closed, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[positionID]
	if !ok {
		return Closed{}, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if !p.IsOpen() {
		return Closed{}, fmt.Errorf("%w: %s", ErrPositionClosed, positionID)
	}
	acct := b.accounts[p.AccountID]
	c := b.reduceLocked(acct, p, math.Abs(p.Quantity), price, at, ReasonManual)
	acct.revalue(b.openLocked(p.AccountID), at)
	return c, nil
}

// Exposure returns the account's signed market value per symbol.
func (b *Book) Exposure(accountID string) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]float64{}
	for k, p := range b.open {
		if k.account == accountID {
			out[k.symbol] = p.Value()
		}
	}
	return out
}

func (b *Book) openLocked(accountID string) []*Position {
	var out []*Position
	for k, p := range b.open {
		if k.account == accountID {
			out = append(out, p)
		}
	}
	return out
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}
