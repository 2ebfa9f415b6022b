package signals

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rustyeddy/tradeguard/market"
)

const (
	ParamMinSpreadPct    = "min_spread_pct"
	ParamVolMultiplier   = "volatility_multiplier"
	ParamInventoryRisk   = "inventory_risk_factor"
	ParamInventoryCapPct = "inventory_cap_pct"
	ParamMaxInventory    = "max_inventory"
	ParamFlattenLoss     = "flatten_loss"

	requoteThreshold = 0.01
)

// TwoSided is a bid/ask pair.
type TwoSided struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// MarketMaker computes quotes. Spreads are fractions of the mid price.
type MarketMaker struct {
	MinSpreadPct        float64
	VolMultiplier       float64
	InventoryRiskFactor float64
	InventoryCapPct     float64
	MaxInventory        float64
	FlattenLoss         float64
}

// DefaultMarketMaker returns the parameters used when a strategy sets none.
func DefaultMarketMaker() MarketMaker {
	return MarketMaker{
		MinSpreadPct:        0.001,
		VolMultiplier:       1,
		InventoryRiskFactor: 0.002,
		InventoryCapPct:     0.005,
		MaxInventory:        100,
		FlattenLoss:         1000,
	}
}

func marketMakerFor(p func(string, float64) float64) MarketMaker {
	d := DefaultMarketMaker()
	return MarketMaker{
		MinSpreadPct:        p(ParamMinSpreadPct, d.MinSpreadPct),
		VolMultiplier:       p(ParamVolMultiplier, d.VolMultiplier),
		InventoryRiskFactor: p(ParamInventoryRisk, d.InventoryRiskFactor),
		InventoryCapPct:     p(ParamInventoryCapPct, d.InventoryCapPct),
		MaxInventory:        p(ParamMaxInventory, d.MaxInventory),
		FlattenLoss:         p(ParamFlattenLoss, d.FlattenLoss),
	}
}

// Spread returns the optimal spread fraction: the observed book spread
// floored at the minimum, plus sigma times the volatility multiplier, plus a
// capped inventory term quadratic in |inventory|/maxInventory.
func (m MarketMaker) Spread(mid, bookSpread, sigma, inventory float64) float64 {
	base := m.MinSpreadPct
	if mid > 0 && bookSpread/mid > base {
		base = bookSpread / mid
	}
	var inv float64
	if m.MaxInventory > 0 {
		r := math.Abs(inventory) / m.MaxInventory
		inv = math.Min(m.InventoryCapPct, r*r*m.InventoryRiskFactor)
	}
	return base + sigma*m.VolMultiplier + inv
}

// Quote centres the spread on mid, shifted against the inventory so that a
// long book quotes lower and a short book quotes higher.
func (m MarketMaker) Quote(mid, bookSpread, sigma, inventory float64) TwoSided {
	spread := m.Spread(mid, bookSpread, sigma, inventory)
	var skew float64
	if m.MaxInventory > 0 {
		skew = clamp(inventory/m.MaxInventory, -1, 1) * spread / 2
	}
	centre := mid * (1 - skew)
	return TwoSided{
		Bid: centre * (1 - spread/2),
		Ask: centre * (1 + spread/2),
	}
}

// NeedsRequote reports whether either side of existing is more than 1% away
// from optimal. Missing quotes always need quoting.
func NeedsRequote(existing, optimal TwoSided) bool {
	if existing.Bid <= 0 || existing.Ask <= 0 {
		return true
	}
	return math.Abs(existing.Bid-optimal.Bid)/optimal.Bid > requoteThreshold ||
		math.Abs(existing.Ask-optimal.Ask)/optimal.Ask > requoteThreshold
}

// ShouldFlatten reports whether the unrealized loss on inv at mid exceeds
// the flatten threshold.
func (m MarketMaker) ShouldFlatten(inv Inventory, mid float64) bool {
	if inv.Quantity == 0 || m.FlattenLoss <= 0 {
		return false
	}
	pnl := inv.Quantity * (mid - inv.AvgPrice)
	return -pnl > m.FlattenLoss
}

// Volatility is the sample standard deviation of close-to-close returns.
func Volatility(cs []market.Candle) float64 {
	r := market.Returns(market.Closes(cs))
	if len(r) < 2 {
		return 0
	}
	var mean float64
	for _, v := range r {
		mean += v
	}
	mean /= float64(len(r))
	var ss float64
	for _, v := range r {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(r)-1))
}

// MarketMakingGenerator emits a flatten order when the inventory loss is too
// large, otherwise a hold signal carrying fresh quotes when the resting ones
// drifted.
type MarketMakingGenerator struct{}

func (MarketMakingGenerator) Evaluate(_ context.Context, in Input) (*Signal, error) {
	mid := in.Quote.Mid()
	bookSpread := in.Quote.Spread()
	if in.Book != nil {
		if bid, ok := in.Book.BestBid(); ok {
			if ask, ok := in.Book.BestAsk(); ok {
				mid = (bid.Price + ask.Price) / 2
				bookSpread = in.Book.Spread()
			}
		}
	}
	if mid <= 0 {
		return nil, nil
	}

	mm := marketMakerFor(in.Strategy.Param)
	var inv Inventory
	if in.Inventory != nil {
		inv = *in.Inventory
	}

	if mm.ShouldFlatten(inv, mid) {
		typ := Sell
		if inv.Quantity < 0 {
			typ = Buy
		}
		sig := newSignal(in, typ, mid, 100, 90,
			fmt.Sprintf("inventory %.4f at %.4f losing more than %.2f at mid %.4f", inv.Quantity, inv.AvgPrice, mm.FlattenLoss, mid))
		sig.Metadata["action"] = "flatten"
		sig.Metadata["quantity"] = strconv.FormatFloat(math.Abs(inv.Quantity), 'f', -1, 64)
		return sig, nil
	}

	sigma := Volatility(in.Candles)
	optimal := mm.Quote(mid, bookSpread, sigma, inv.Quantity)
	if !NeedsRequote(TwoSided{Bid: inv.Bid, Ask: inv.Ask}, optimal) {
		return nil, nil
	}
	spread := mm.Spread(mid, bookSpread, sigma, inv.Quantity)
	sig := newSignal(in, Hold, mid, 50, 60,
		fmt.Sprintf("requote %.6f / %.6f (spread %.4f%%)", optimal.Bid, optimal.Ask, spread*100))
	sig.Metadata["action"] = "requote"
	sig.Metadata["bid"] = strconv.FormatFloat(optimal.Bid, 'f', -1, 64)
	sig.Metadata["ask"] = strconv.FormatFloat(optimal.Ask, 'f', -1, 64)
	sig.Metadata["spread_pct"] = strconv.FormatFloat(spread, 'f', 6, 64)
	return sig, nil
}
