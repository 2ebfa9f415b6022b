package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/internal/resilience"
)

// Resilient wraps a DataSource so every call is rate limited, timed out,
// retried and guarded by a circuit breaker. Venue and book lookups pass
// through when the wrapped source supports them.
type Resilient struct {
	src    DataSource
	policy *resilience.Policy
}

func NewResilient(src DataSource, cfg resilience.Config, log *zap.Logger) *Resilient {
	return &Resilient{src: src, policy: resilience.New("market_data", cfg, log)}
}

// Policy exposes the wrapped call policy, e.g. for breaker state reporting.
func (r *Resilient) Policy() *resilience.Policy { return r.policy }

func (r *Resilient) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	return resilience.Do(ctx, r.policy, func(ctx context.Context) (Quote, error) {
		return r.src.GetQuote(ctx, symbol)
	})
}

func (r *Resilient) GetHistoricalData(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	return resilience.Do(ctx, r.policy, func(ctx context.Context) ([]Candle, error) {
		return r.src.GetHistoricalData(ctx, symbol, timeframe, from, to)
	})
}

func (r *Resilient) GetMarketSentiment(ctx context.Context) (map[string]SentimentScore, error) {
	return resilience.Do(ctx, r.policy, func(ctx context.Context) (map[string]SentimentScore, error) {
		return r.src.GetMarketSentiment(ctx)
	})
}

// GetVenueQuotes returns nil, nil when the wrapped source has no venues.
func (r *Resilient) GetVenueQuotes(ctx context.Context, symbol string, venues []string) ([]VenueQuote, error) {
	vs, ok := r.src.(VenueSource)
	if !ok {
		return nil, nil
	}
	return resilience.Do(ctx, r.policy, func(ctx context.Context) ([]VenueQuote, error) {
		return vs.GetVenueQuotes(ctx, symbol, venues)
	})
}

// GetOrderBook returns ErrNoQuote when the wrapped source has no books.
func (r *Resilient) GetOrderBook(ctx context.Context, symbol string) (OrderBook, error) {
	bs, ok := r.src.(BookSource)
	if !ok {
		return OrderBook{}, ErrNoQuote
	}
	return resilience.Do(ctx, r.policy, func(ctx context.Context) (OrderBook, error) {
		return bs.GetOrderBook(ctx, symbol)
	})
}
