package stress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
)

var ErrUnknownScenario = errors.New("unknown scenario")

// Snapshot is the portfolio state a scenario is applied to.
type Snapshot struct {
	AccountID string
	Value     float64 // account equity
	Positions []portfolio.Position
}

// PositionImpact is one position's move under a scenario.
type PositionImpact struct {
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Sector     string          `json:"sector"`
	Value      decimal.Decimal `json:"value"`
	Shock      float64         `json:"shock"`
	Delta      decimal.Decimal `json:"delta"`
}

// Loss is the position's loss as a positive amount (negative for a gain).
func (p PositionImpact) Loss() decimal.Decimal {
	return p.Delta.Neg()
}

// Result is the outcome of one scenario on one snapshot.
type Result struct {
	ScenarioID       string                     `json:"scenario_id"`
	AccountID        string                     `json:"account_id"`
	PreValue         decimal.Decimal            `json:"pre_value"`
	PostValue        decimal.Decimal            `json:"post_value"`
	Loss             decimal.Decimal            `json:"loss"`
	LossPct          float64                    `json:"loss_pct"`
	Positions        []PositionImpact           `json:"positions"`
	WorstPosition    *PositionImpact            `json:"worst_position,omitempty"`
	SectorImpact     map[string]decimal.Decimal `json:"sector_impact"`
	VolatilityImpact decimal.Decimal            `json:"volatility_impact"`
	LiquidityImpact  decimal.Decimal            `json:"liquidity_impact"`
	RecoveryDays     int                        `json:"recovery_days"`
	MarginCall       bool                       `json:"margin_call"`
	Recommendations  []string                   `json:"recommendations"`
	Timestamp        time.Time                  `json:"timestamp"`
}

// Exceeds reports whether the loss is above limit (a fraction). A zero
// limit means no limit.
func (r Result) Exceeds(limit float64) bool {
	return limit > 0 && r.LossPct > limit
}

// Engine holds the scenario set and runs it.
type Engine struct {
	mu        sync.RWMutex
	scenarios map[string]Scenario
	log       *zap.Logger
	now       func() time.Time
}

// NewEngine returns an engine loaded with the builtin scenarios.
func NewEngine(log *zap.Logger) *Engine {
	e := &Engine{
		scenarios: make(map[string]Scenario),
		log:       logger.OrNop(log),
		now:       time.Now,
	}
	for _, s := range Builtin() {
		e.scenarios[s.ID] = s
	}
	return e
}

// SetClock replaces the result timestamp source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Register adds or replaces a scenario.
func (e *Engine) Register(s Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenarios[s.ID] = s
	return nil
}

func (e *Engine) Get(id string) (Scenario, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.scenarios[id]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
	}
	return s, nil
}

// List returns the scenarios ordered by id.
func (e *Engine) List() []Scenario {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Scenario, 0, len(e.scenarios))
	for _, s := range e.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run applies one scenario to snap.
func (e *Engine) Run(ctx context.Context, scenarioID string, snap Snapshot) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s, err := e.Get(scenarioID)
	if err != nil {
		return Result{}, err
	}
	return Apply(s, snap, e.now()), nil
}

// RunAll applies every scenario to snap, in scenario id order.
func (e *Engine) RunAll(ctx context.Context, snap Snapshot) ([]Result, error) {
	scenarios := e.List()
	out := make([]Result, 0, len(scenarios))
	at := e.now()
	for _, s := range scenarios {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, Apply(s, snap, at))
	}
	return out, nil
}

// AccountResults is one account's sweep outcome.
type AccountResults struct {
	AccountID string
	Results   []Result
	Err       error
}

// SweepAll runs every scenario on every snapshot with at most limit accounts
// in flight. A failing account is reported in its entry and does not stop
// the others; the returned error is the context's, if it ended the sweep.
func (e *Engine) SweepAll(ctx context.Context, snaps []Snapshot, limit int) ([]AccountResults, error) {
	out := make([]AccountResults, len(snaps))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, snap := range snaps {
		g.Go(func() error {
			res, err := e.RunAll(gctx, snap)
			out[i] = AccountResults{AccountID: snap.AccountID, Results: res, Err: err}
			if err != nil {
				e.log.Warn("stress sweep failed", zap.String("account_id", snap.AccountID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}

var volRate = decimal.NewFromFloat(0.05)

// Apply computes a scenario's effect on snap. Money is carried in decimal so
// shocks on round values give exact losses.
func Apply(s Scenario, snap Snapshot, at time.Time) Result {
	r := Result{
		ScenarioID:   s.ID,
		AccountID:    snap.AccountID,
		SectorImpact: map[string]decimal.Decimal{},
		Timestamp:    at,
	}

	gross := decimal.Zero
	deltas := decimal.Zero
	for _, p := range snap.Positions {
		if !p.IsOpen() || p.Quantity == 0 {
			continue
		}
		meta := market.Lookup(p.Symbol)
		value := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(p.CurrentPrice))
		shock := s.shockFor(meta)
		delta := value.Mul(shock)

		imp := PositionImpact{
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Sector:     meta.Sector,
			Value:      value,
			Shock:      shock.InexactFloat64(),
			Delta:      delta,
		}
		r.Positions = append(r.Positions, imp)
		r.SectorImpact[meta.Sector] = r.SectorImpact[meta.Sector].Add(delta)
		gross = gross.Add(value.Abs())
		deltas = deltas.Add(delta)
		if r.WorstPosition == nil || delta.LessThan(r.WorstPosition.Delta) {
			w := imp
			r.WorstPosition = &w
		}
	}

	if s.VolatilityMultiplier > 1 {
		r.VolatilityImpact = gross.Mul(decimal.NewFromFloat(s.VolatilityMultiplier - 1)).Mul(volRate)
	}
	if s.LiquidityShock > 0 {
		r.LiquidityImpact = gross.Mul(decimal.NewFromFloat(s.LiquidityShock))
	}

	r.PreValue = decimal.NewFromFloat(snap.Value)
	if !r.PreValue.IsPositive() {
		r.PreValue = gross
	}
	r.PostValue = r.PreValue.Add(deltas).Sub(r.VolatilityImpact).Sub(r.LiquidityImpact)
	r.Loss = r.PreValue.Sub(r.PostValue)
	if r.PreValue.IsPositive() {
		r.LossPct = r.Loss.Div(r.PreValue).InexactFloat64()
	}

	r.RecoveryDays = int(math.Round(math.Max(30, math.Abs(r.LossPct)*365*2)))
	r.MarginCall = r.LossPct > 0.5
	r.Recommendations = recommend(s, r)
	return r
}

// shockFor sums the shocks matching meta. The sum is decimal so that
// -0.1 and -0.2 make exactly -0.3.
func (s Scenario) shockFor(meta market.InstrumentMeta) decimal.Decimal {
	shock := decimal.NewFromFloat(s.MarketShock).
		Add(decimal.NewFromFloat(s.SectorShocks[meta.Sector])).
		Add(decimal.NewFromFloat(s.CurrencyShocks[meta.Currency])).
		Add(decimal.NewFromFloat(s.InstrumentShocks[meta.Symbol]))
	if meta.AssetClass == "fixed_income" {
		shock = shock.Sub(decimal.NewFromFloat(s.InterestRateShock).Mul(decimal.NewFromInt(rateDuration)))
	}
	return shock
}

func recommend(s Scenario, r Result) []string {
	pct := fmt.Sprintf("%.1f", r.LossPct*100)
	var out []string
	switch {
	case r.LossPct > 0.3:
		out = append(out, fmt.Sprintf("critical: %s loses %s%%; cut gross exposure and leverage now", s.ID, pct))
	case r.LossPct > 0.2:
		out = append(out, fmt.Sprintf("high: %s loses %s%%; hedge index exposure or reduce leverage", s.ID, pct))
	case r.LossPct > 0.1:
		out = append(out, fmt.Sprintf("moderate: %s loses %s%%; review concentrated positions and tighten stops", s.ID, pct))
	default:
		out = append(out, fmt.Sprintf("low: %s loses %s%%; current limits hold", s.ID, pct))
	}
	if s.LiquidityShock > 0.2 {
		out = append(out, "keep a larger cash buffer and favour liquid instruments")
	}
	if s.Correlation > 0.8 {
		out = append(out, "correlations converge under this scenario; diversify across uncorrelated assets")
	}
	if r.MarginCall {
		out = append(out, "margin call likely: add collateral or deleverage")
	}
	if w := r.WorstPosition; w != nil && w.Delta.IsNegative() {
		out = append(out, fmt.Sprintf("largest loss from %s (%s); consider hedging it", w.Symbol, w.Loss().StringFixed(2)))
	}
	return out
}
