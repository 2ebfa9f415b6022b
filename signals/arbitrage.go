package signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rustyeddy/tradeguard/market"
)

const (
	ParamMinProfitPct = "min_profit_pct"

	defaultMinProfitPct = 0.001
	arbitrageConfidence = 85
)

// Opportunity is a cross-venue price gap: buy at BuyVenue's ask, sell at
// SellVenue's bid.
type Opportunity struct {
	Symbol       string  `json:"symbol"`
	BuyVenue     string  `json:"buy_venue"`
	SellVenue    string  `json:"sell_venue"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	Quantity     float64 `json:"quantity"`
	NetProfitPct float64 `json:"net_profit_pct"`
}

// FindOpportunities compares every ordered venue pair and keeps gaps whose
// profit net of both venues' fees exceeds minProfitPct. Results are ranked by
// net profit, highest first.
func FindOpportunities(quotes []market.VenueQuote, minProfitPct float64) []Opportunity {
	var out []Opportunity
	for i, a := range quotes {
		for j, b := range quotes {
			if i == j || a.Symbol != b.Symbol || a.Ask <= 0 || b.Bid <= 0 {
				continue
			}
			net := (b.Bid-a.Ask)/a.Ask - a.Fee - b.Fee
			if net <= minProfitPct {
				continue
			}
			qty := math.Min(a.AskSize, b.BidSize)
			out = append(out, Opportunity{
				Symbol:       a.Symbol,
				BuyVenue:     a.Venue,
				SellVenue:    b.Venue,
				BuyPrice:     a.Ask,
				SellPrice:    b.Bid,
				Quantity:     qty,
				NetProfitPct: net,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NetProfitPct > out[j].NetProfitPct
	})
	return out
}

// ArbitrageGenerator turns the best opportunity into a buy signal carrying
// both legs in its metadata. The execution package places the legs.
type ArbitrageGenerator struct{}

func (ArbitrageGenerator) Evaluate(_ context.Context, in Input) (*Signal, error) {
	quotes := make([]market.VenueQuote, 0, len(in.Venues))
	for _, q := range in.Venues {
		if q.Symbol == "" || q.Symbol == in.Symbol {
			q.Symbol = in.Symbol
			quotes = append(quotes, q)
		}
	}
	opps := FindOpportunities(quotes, in.Strategy.Param(ParamMinProfitPct, defaultMinProfitPct))
	if len(opps) == 0 {
		return nil, nil
	}
	best := opps[0]
	sig := newSignal(in, Buy, best.BuyPrice, math.Min(100, best.NetProfitPct*10000), arbitrageConfidence,
		fmt.Sprintf("buy %s at %.6f, sell %s at %.6f, net %.4f%%", best.BuyVenue, best.BuyPrice, best.SellVenue, best.SellPrice, best.NetProfitPct*100))
	sig.TargetPrice = ptr(best.SellPrice)
	sig.Metadata["strategy"] = "arbitrage"
	sig.Metadata["buy_venue"] = best.BuyVenue
	sig.Metadata["sell_venue"] = best.SellVenue
	sig.Metadata["sell_price"] = strconv.FormatFloat(best.SellPrice, 'f', -1, 64)
	sig.Metadata["quantity"] = strconv.FormatFloat(best.Quantity, 'f', -1, 64)
	sig.Metadata["net_profit_pct"] = strconv.FormatFloat(best.NetProfitPct, 'f', 6, 64)
	return sig, nil
}
