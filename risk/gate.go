// Package risk is the pre-trade risk gate. Every actionable signal passes
// through Gate.Check exactly once before it may reach execution.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/strategies"
)

// Violation codes. Hard rejections end the check; warnings accumulate.
const (
	CodeInvalidSignal   = "INVALID_SIGNAL"
	CodeNotActionable   = "NOT_ACTIONABLE"
	CodeAlreadyGated    = "ALREADY_GATED"
	CodeExpired         = "SIGNAL_EXPIRED"
	CodeInternal        = "INTERNAL_ERROR"
	CodeForbidden       = "FORBIDDEN_INSTRUMENT"
	CodeDailyLoss       = "DAILY_LOSS_LIMIT"
	CodePositionClipped = "POSITION_SIZE_CLIPPED"
	CodeConcentration   = "CONCENTRATION_LIMIT"
	CodeCorrelation     = "CORRELATION"
	CodeLeverage        = "LEVERAGE_LIMIT"
	CodeVaR             = "VAR_LIMIT"
	CodeLiquidity       = "LIQUIDITY_HIGH_RISK"
	CodeMarketClosed    = "MARKET_CLOSED"
	CodeVolatility      = "HIGH_VOLATILITY"
	CodeNoMetrics       = "NO_RISK_METRICS"
)

type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Decision is the gate's verdict on one signal.
type Decision struct {
	SignalID          string        `json:"signal_id"`
	AccountID         string        `json:"account_id"`
	Symbol            string        `json:"symbol"`
	Approved          bool          `json:"approved"`
	Reason            string        `json:"reason,omitempty"`
	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []Violation   `json:"warnings,omitempty"`
	RequestedQuantity float64       `json:"requested_quantity"`
	AdjustedQuantity  *float64      `json:"adjusted_quantity,omitempty"`
	RequiredStop      *float64      `json:"required_stop,omitempty"`
	MaxHoldingPeriod  time.Duration `json:"max_holding_period"`
	Notional          float64       `json:"notional"`
	PostLeverage      float64       `json:"post_leverage"`
	PostVaR           float64       `json:"post_var"`
	At                time.Time     `json:"at"`
}

// Quantity is the quantity the caller may trade: the adjusted quantity when
// the gate clipped the request.
func (d Decision) Quantity() float64 {
	if d.AdjustedQuantity != nil {
		return *d.AdjustedQuantity
	}
	return d.RequestedQuantity
}

func (d *Decision) reject(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Approved = false
	if d.Reason == "" {
		d.Reason = msg
	}
}

func (d *Decision) warn(code, msg string) {
	d.Warnings = append(d.Warnings, Violation{Code: code, Msg: msg})
}

// Request asks the gate to approve trading Quantity units on a signal.
type Request struct {
	Signal    *signals.Signal
	AccountID string
	Quantity  float64
	Risk      *strategies.RiskParams
}

// Portfolio is the gate's view of accounts and positions.
type Portfolio interface {
	Account(accountID string) (portfolio.Account, error)
	OpenPositions(accountID string) []portfolio.Position
}

type MetricsSource interface {
	Latest(accountID string) (portfolio.RiskMetrics, bool)
}

type ProfileSource interface {
	Profile(id string) (Profile, error)
}

// ReturnsSource supplies recent daily returns for a symbol.
type ReturnsSource interface {
	Returns(ctx context.Context, symbol string) ([]float64, error)
}

type Option func(*Gate)

func WithReturns(r ReturnsSource) Option    { return func(g *Gate) { g.returns = r } }
func WithLedger(l *Ledger) Option           { return func(g *Gate) { g.ledger = l } }
func WithTracker(t *signals.Tracker) Option { return func(g *Gate) { g.tracker = t } }
func WithLogger(l *zap.Logger) Option       { return func(g *Gate) { g.log = logger.OrNop(l) } }
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// Gate runs the pre-trade checks.
type Gate struct {
	portfolio Portfolio
	profiles  ProfileSource
	metrics   MetricsSource
	returns   ReturnsSource
	ledger    *Ledger
	tracker   *signals.Tracker
	log       *zap.Logger
	now       func() time.Time
}

func NewGate(p Portfolio, profiles ProfileSource, metrics MetricsSource, opts ...Option) *Gate {
	g := &Gate{
		portfolio: p,
		profiles:  profiles,
		metrics:   metrics,
		ledger:    NewLedger(),
		tracker:   signals.NewTracker(),
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) Ledger() *Ledger           { return g.ledger }
func (g *Gate) Tracker() *signals.Tracker { return g.tracker }

// Check decides on a request. It never approves on an internal failure:
// missing state, a bad request or a panic all produce approved=false.
func (g *Gate) Check(ctx context.Context, req Request) (d Decision) {
	at := g.now()
	d = Decision{AccountID: req.AccountID, RequestedQuantity: req.Quantity, At: at}

	defer func() {
		if r := recover(); r != nil {
			d.Approved = false
			d.AdjustedQuantity = nil
			d.reject(CodeInternal, fmt.Sprintf("internal error: %v", r))
			g.log.Error("risk gate panic", zap.String("signal_id", d.SignalID), zap.Any("panic", r))
		}
		g.logDecision(d)
	}()

	sig := req.Signal
	if sig == nil {
		d.reject(CodeInvalidSignal, "no signal")
		return d
	}
	d.SignalID, d.Symbol = sig.ID, sig.Symbol

	_ = g.tracker.Track(sig.ID, at)
	if err := g.tracker.Transition(sig.ID, signals.StatusGated, at); err != nil {
		d.reject(CodeAlreadyGated, err.Error())
		return d
	}
	defer func() {
		to := signals.StatusRejected
		if d.Approved {
			to = signals.StatusApproved
		}
		_ = g.tracker.Transition(sig.ID, to, at)
	}()

	if err := sig.Validate(); err != nil {
		d.reject(CodeInvalidSignal, err.Error())
		return d
	}
	if !sig.Actionable() {
		d.reject(CodeNotActionable, fmt.Sprintf("%s signals are not traded", sig.Type))
		return d
	}
	if !(req.Quantity > 0) {
		d.reject(CodeInvalidSignal, fmt.Sprintf("quantity must be positive, got %v", req.Quantity))
		return d
	}
	if sig.Expired(at) {
		d.reject(CodeExpired, fmt.Sprintf("signal expired at %s", sig.ExpiresAt.Format(time.RFC3339)))
		return d
	}

	al := g.ledger.account(req.AccountID)
	al.mu.Lock()
	defer al.mu.Unlock()

	st, err := g.load(req.AccountID)
	if err != nil {
		d.reject(CodeInternal, err.Error())
		return d
	}
	st.pending = al.list()

	if !g.evaluate(ctx, &d, req, st, at) {
		return d
	}

	d.Approved = true
	al.pending[sig.ID] = Reservation{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Notional: sig.Side() * d.Notional,
		At:       at,
	}
	return d
}

type state struct {
	account   portfolio.Account
	profile   Profile
	metrics   portfolio.RiskMetrics
	positions []portfolio.Position
	pending   []Reservation
}

func (g *Gate) load(accountID string) (state, error) {
	var st state
	if g.portfolio == nil || g.profiles == nil {
		return st, fmt.Errorf("gate is not wired to a portfolio and profiles")
	}
	acct, err := g.portfolio.Account(accountID)
	if err != nil {
		return st, fmt.Errorf("load account: %w", err)
	}
	prof, err := g.profiles.Profile(acct.RiskProfileID)
	if err != nil {
		return st, fmt.Errorf("load profile for %s: %w", accountID, err)
	}
	if !(acct.Equity > 0) {
		return st, fmt.Errorf("account %s has no equity", accountID)
	}
	st.account, st.profile = acct, prof
	st.positions = g.portfolio.OpenPositions(accountID)
	if g.metrics != nil {
		st.metrics, _ = g.metrics.Latest(accountID)
	}
	return st, nil
}

func (g *Gate) logDecision(d Decision) {
	fields := []zap.Field{
		zap.String("signal_id", d.SignalID),
		zap.String("account_id", d.AccountID),
		zap.String("symbol", d.Symbol),
		zap.Bool("approved", d.Approved),
		zap.Float64("quantity", d.Quantity()),
		zap.Int("warnings", len(d.Warnings)),
	}
	if d.Approved {
		g.log.Info("risk check approved", fields...)
		return
	}
	g.log.Warn("risk check rejected", append(fields, zap.String("reason", d.Reason))...)
}

func clipStop(sig *signals.Signal, pct float64) float64 {
	dir := sig.Side()
	limit := sig.Price * (1 - dir*pct)
	if sig.StopLoss == nil {
		return limit
	}
	if dir > 0 {
		return math.Max(*sig.StopLoss, limit)
	}
	return math.Min(*sig.StopLoss, limit)
}

func lookup(symbol string) market.InstrumentMeta { return market.Lookup(symbol) }
