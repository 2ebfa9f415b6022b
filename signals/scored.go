package signals

import (
	"context"
	"fmt"
	"math"
)

const (
	ParamMinConfidence = "min_confidence"
	ParamMinScore      = "min_score"

	defaultMinConfidence = 60
	defaultMinScore      = 0.2
)

// Score is a model's verdict: a direction, a strength in [0,100] and a
// confidence in [0,100].
type Score struct {
	Direction  Type
	Strength   float64
	Confidence float64
	Reason     string
}

// Scorer is an external scoring model (ML, sentiment, ...).
type Scorer interface {
	Score(ctx context.Context, in Input) (Score, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, in Input) (Score, error)

func (f ScorerFunc) Score(ctx context.Context, in Input) (Score, error) {
	return f(ctx, in)
}

// Scored wraps a Scorer as a Generator. Scores below the strategy's minimum
// confidence, and hold verdicts, produce no signal.
type Scored struct {
	scorer Scorer
}

func NewScored(s Scorer) *Scored {
	return &Scored{scorer: s}
}

func (g *Scored) Evaluate(ctx context.Context, in Input) (*Signal, error) {
	sc, err := g.scorer.Score(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", in.Symbol, err)
	}
	if sc.Direction != Buy && sc.Direction != Sell {
		return nil, nil
	}
	if sc.Confidence < in.Strategy.Param(ParamMinConfidence, defaultMinConfidence) {
		return nil, nil
	}
	price := in.Price()
	sig := newSignal(in, sc.Direction, price, sc.Strength, sc.Confidence, sc.Reason)
	dir := sig.Side()
	sig.TargetPrice = ptr(price * (1 + dir*in.Strategy.Param(ParamTargetPct, defaultTargetPct)))
	sig.StopLoss = ptr(price * (1 - dir*in.Strategy.Param(ParamStopPct, defaultStopPct)))
	return sig, nil
}

// SentimentScorer reads Input.Sentiment: scores beyond ±min_score give a
// direction, the feed's own confidence is passed through.
type SentimentScorer struct{}

func (SentimentScorer) Score(_ context.Context, in Input) (Score, error) {
	s := in.Sentiment
	if s == nil {
		return Score{Direction: Hold}, nil
	}
	minScore := in.Strategy.Param(ParamMinScore, defaultMinScore)
	sc := Score{
		Direction:  Hold,
		Strength:   math.Min(100, math.Abs(s.Score)*100),
		Confidence: s.Confidence,
		Reason:     fmt.Sprintf("sentiment %.2f (confidence %.0f)", s.Score, s.Confidence),
	}
	switch {
	case s.Score > minScore:
		sc.Direction = Buy
	case s.Score < -minScore:
		sc.Direction = Sell
	}
	return sc, nil
}
