package execution

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/signals"
)

type PairStatus string

const (
	Hedged          PairStatus = "hedged"
	PartiallyHedged PairStatus = "partially_hedged"
	PairFailed      PairStatus = "failed"
)

// PairResult is the outcome of a two-legged arbitrage. A partially hedged
// pair carries the unwind attempt; NeedsIntervention is set when that
// attempt did not flatten the residual.
type PairResult struct {
	Opportunity       signals.Opportunity `json:"opportunity"`
	Status            PairStatus          `json:"status"`
	Buy               Order               `json:"buy"`
	Sell              Order               `json:"sell"`
	BuyErr            string              `json:"buy_error,omitempty"`
	SellErr           string              `json:"sell_error,omitempty"`
	Residual          float64             `json:"residual"`
	Unwind            *Order              `json:"unwind,omitempty"`
	NeedsIntervention bool                `json:"needs_intervention"`
}

// ArbitrageExecutor places both legs of an opportunity at once and
// compensates when only one side executes.
type ArbitrageExecutor struct {
	svc OrderService
	log *zap.Logger
}

func NewArbitrageExecutor(svc OrderService, log *zap.Logger) *ArbitrageExecutor {
	return &ArbitrageExecutor{svc: svc, log: logger.OrNop(log)}
}

// Execute buys qty on the opportunity's buy venue and sells qty on its sell
// venue concurrently. clientID prefixes the leg ids.
func (a *ArbitrageExecutor) Execute(ctx context.Context, accountID, clientID string, opp signals.Opportunity, qty float64) PairResult {
	res := PairResult{Opportunity: opp}
	buyPx, sellPx := opp.BuyPrice, opp.SellPrice
	buy := OrderSpec{
		ClientID:   clientID + "-buy",
		AccountID:  accountID,
		Symbol:     opp.Symbol,
		Venue:      opp.BuyVenue,
		Quantity:   qty,
		LimitPrice: &buyPx,
	}
	sell := OrderSpec{
		ClientID:   clientID + "-sell",
		AccountID:  accountID,
		Symbol:     opp.Symbol,
		Venue:      opp.SellVenue,
		Quantity:   -qty,
		LimitPrice: &sellPx,
	}

	// Legs must not cancel each other: one failing leg is exactly the case
	// the compensation path handles.
	var g errgroup.Group
	g.Go(func() error {
		o, err := a.svc.CreateOrder(ctx, buy)
		res.Buy = o
		if err != nil {
			res.BuyErr = err.Error()
		}
		return nil
	})
	g.Go(func() error {
		o, err := a.svc.CreateOrder(ctx, sell)
		res.Sell = o
		if err != nil {
			res.SellErr = err.Error()
		}
		return nil
	})
	_ = g.Wait()

	bought := filledQty(res.Buy, res.BuyErr)
	sold := filledQty(res.Sell, res.SellErr)
	res.Residual = bought + sold

	switch {
	case bought == 0 && sold == 0:
		res.Status = PairFailed
		return res
	case res.Residual == 0:
		res.Status = Hedged
		return res
	}

	res.Status = PartiallyHedged
	venue := opp.BuyVenue
	if res.Residual < 0 {
		venue = opp.SellVenue
	}
	unwind := OrderSpec{
		ClientID:  clientID + "-unwind",
		AccountID: accountID,
		Symbol:    opp.Symbol,
		Venue:     venue,
		Quantity:  -res.Residual,
	}
	o, err := a.svc.CreateOrder(ctx, unwind)
	res.Unwind = &o
	if err != nil || !o.Filled() || math.Abs(o.FilledQuantity+res.Residual) > 1e-9 {
		res.NeedsIntervention = true
		a.log.Error("arbitrage unwind incomplete; manual intervention required",
			zap.String("client_id", clientID),
			zap.String("symbol", opp.Symbol),
			zap.Float64("residual", res.Residual),
			zap.Error(err))
		return res
	}
	a.log.Warn("arbitrage leg failed; residual unwound",
		zap.String("client_id", clientID),
		zap.String("symbol", opp.Symbol),
		zap.Float64("residual", res.Residual))
	return res
}

func filledQty(o Order, errMsg string) float64 {
	if errMsg != "" || !o.Filled() {
		return 0
	}
	return o.FilledQuantity
}

// String summarises a pair result for logs and reports.
func (r PairResult) String() string {
	return fmt.Sprintf("%s %s buy@%s sell@%s residual=%.6f", r.Opportunity.Symbol, r.Status,
		r.Opportunity.BuyVenue, r.Opportunity.SellVenue, r.Residual)
}
