package market

import (
	"context"
	"time"
)

// DataSource is the market data collaborator.
type DataSource interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetHistoricalData(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error)
	GetMarketSentiment(ctx context.Context) (map[string]SentimentScore, error)
}

// VenueSource is implemented by data sources that can quote a symbol on
// several venues. Arbitrage strategies require it.
type VenueSource interface {
	GetVenueQuotes(ctx context.Context, symbol string, venues []string) ([]VenueQuote, error)
}

// BookSource is implemented by data sources that expose order books. Market
// making strategies require it.
type BookSource interface {
	GetOrderBook(ctx context.Context, symbol string) (OrderBook, error)
}

// TimeframeDuration parses the bar sizes used in strategy definitions.
func TimeframeDuration(tf string) (time.Duration, bool) {
	switch tf {
	case "1m":
		return time.Minute, true
	case "5m":
		return 5 * time.Minute, true
	case "15m":
		return 15 * time.Minute, true
	case "1h":
		return time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	}
	return 0, false
}
