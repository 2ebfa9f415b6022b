package backtest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/strategies"
)

// Job is one strategy replayed over one symbol's history.
type Job struct {
	Strategy strategies.Strategy
	Symbol   string
	Candles  []market.Candle
}

// RunBatch runs jobs concurrently, at most limit at a time (no limit when
// limit <= 0). Results are returned in job order. Replays share no state,
// so the first error cancels the rest.
func (e *Engine) RunBatch(ctx context.Context, jobs []Job, limit int) ([]Result, error) {
	out := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, j := range jobs {
		g.Go(func() error {
			r, err := e.Run(gctx, j.Strategy, j.Symbol, j.Candles)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
