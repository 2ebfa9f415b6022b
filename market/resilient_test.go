package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/internal/resilience"
)

type flakySource struct {
	*CSVSource
	failures atomic.Int32
}

func (f *flakySource) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if f.failures.Add(-1) >= 0 {
		return Quote{}, errors.New("upstream 503")
	}
	return Quote{Symbol: symbol, Bid: 99, Ask: 101}, nil
}

func quickPolicy(retries int) resilience.Config {
	return resilience.Config{
		Timeout:         time.Second,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		BreakerFailures: 10,
		BreakerCooldown: time.Minute,
	}
}

func TestResilientRetriesQuotes(t *testing.T) {
	t.Parallel()

	src := &flakySource{CSVSource: NewCSVSource()}
	src.failures.Store(2)
	r := NewResilient(src, quickPolicy(3), nil)

	q, err := r.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Mid())
}

func TestResilientReportsExternalFailure(t *testing.T) {
	t.Parallel()

	src := &flakySource{CSVSource: NewCSVSource()}
	src.failures.Store(100)
	r := NewResilient(src, quickPolicy(1), nil)

	_, err := r.GetQuote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, errs.ErrExternalService)
}

func TestResilientOptionalCapabilities(t *testing.T) {
	t.Parallel()

	r := NewResilient(NewCSVSource(), quickPolicy(0), nil)
	venues, err := r.GetVenueQuotes(context.Background(), "BTC_USD", nil)
	assert.NoError(t, err)
	assert.Nil(t, venues)

	_, err = r.GetOrderBook(context.Background(), "BTC_USD")
	assert.ErrorIs(t, err, ErrNoQuote)

	s, err := r.GetMarketSentiment(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s)
}
