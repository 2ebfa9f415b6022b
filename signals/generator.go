package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/strategies"
)

// ErrUnsupported is returned for strategy types without a generator.
var ErrUnsupported = errors.New("no generator for strategy type")

// Inventory is a market maker's current holding and resting quotes.
type Inventory struct {
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Bid      float64 `json:"bid,omitempty"`
	Ask      float64 `json:"ask,omitempty"`
}

// Input is everything one evaluation of one strategy on one symbol may look
// at. Candles are closed bars up to Now; nothing later may be present.
type Input struct {
	Strategy  strategies.Strategy
	Symbol    string
	Quote     market.Quote
	Candles   []market.Candle
	Venues    []market.VenueQuote
	Book      *market.OrderBook
	Inventory *Inventory
	Sentiment *market.SentimentScore
	Now       time.Time

	// NewID overrides signal id generation. Backtests set it so that ids
	// depend only on the replayed data.
	NewID func() string
}

// Price is the reference price: the quote when present, else the last close.
func (in Input) Price() float64 {
	if p := in.Quote.Price(); p > 0 {
		return p
	}
	if n := len(in.Candles); n > 0 {
		return in.Candles[n-1].Close
	}
	return 0
}

func (in Input) nextID() string {
	if in.NewID != nil {
		return in.NewID()
	}
	return id.NewAt(in.Now)
}

// Generator evaluates one strategy type. A nil signal with a nil error
// means no opportunity this evaluation.
type Generator interface {
	Evaluate(ctx context.Context, in Input) (*Signal, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in Input) (*Signal, error)

func (f GeneratorFunc) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	return f(ctx, in)
}

// newSignal fills the fields shared by every generator.
func newSignal(in Input, typ Type, price, strength, confidence float64, reasoning string) *Signal {
	s := &Signal{
		ID:         in.nextID(),
		StrategyID: in.Strategy.ID,
		Symbol:     in.Symbol,
		Type:       typ,
		Strength:   clamp(strength, 0, 100),
		Confidence: clamp(confidence, 0, 100),
		Price:      price,
		Timeframe:  in.Strategy.Timeframe(),
		Reasoning:  reasoning,
		Metadata:   map[string]string{},
		Timestamp:  in.Now,
	}
	if d, ok := market.TimeframeDuration(s.Timeframe); ok && !in.Now.IsZero() {
		exp := in.Now.Add(d)
		s.ExpiresAt = &exp
	}
	return s
}

// Registry maps strategy types to generators.
type Registry struct {
	mu   sync.RWMutex
	gens map[strategies.Type]Generator
}

// NewRegistry returns a registry with the rule based generators and a
// sentiment scorer installed. ML strategies need a scorer registered with
// Register(strategies.MLBased, NewScored(...)).
func NewRegistry() *Registry {
	r := &Registry{gens: make(map[strategies.Type]Generator)}
	r.Register(strategies.TrendFollowing, TrendFollowing{})
	r.Register(strategies.MeanReversion, MeanReversion{})
	r.Register(strategies.Momentum, Momentum{})
	r.Register(strategies.Arbitrage, ArbitrageGenerator{})
	r.Register(strategies.MarketMaking, MarketMakingGenerator{})
	r.Register(strategies.Sentiment, NewScored(SentimentScorer{}))
	return r
}

func (r *Registry) Register(t strategies.Type, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[t] = g
}

func (r *Registry) Get(t strategies.Type) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gens[t]
	return g, ok
}

// Evaluate runs the generator for in.Strategy.Type and validates the result.
func (r *Registry) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	g, ok := r.Get(in.Strategy.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, in.Strategy.Type)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := g.Evaluate(ctx, in)
	if err != nil || sig == nil {
		return nil, err
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
