package market

import (
	"errors"
	"time"
)

var ErrNoQuote = errors.New("quote not found")

// Quote is the latest top-of-book for a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Volume float64   `json:"volume"`
	Time   time.Time `json:"time"`
}

// Mid returns the bid/ask midpoint, falling back to Last when one side is
// missing.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// Price is the reference price used for signals: last trade if known,
// otherwise the mid.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// VenueQuote is a quote on one trading venue, with that venue's taker fee as
// a fraction of notional.
type VenueQuote struct {
	Venue   string  `json:"venue"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	BidSize float64 `json:"bid_size"`
	AskSize float64 `json:"ask_size"`
	Fee     float64 `json:"fee"`
}

// Level is one price level of an order book.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds bids (descending) and asks (ascending).
type OrderBook struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Spread returns best ask minus best bid, or 0 when either side is empty.
func (b OrderBook) Spread() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return ask.Price - bid.Price
}

// SentimentScore is an external sentiment reading in [-1, 1] with a
// confidence in [0, 100].
type SentimentScore struct {
	Symbol     string    `json:"symbol"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Time       time.Time `json:"time"`
}
