package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/obs"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
	"github.com/rustyeddy/tradeguard/stress"
)

// Monday, US cash session.
var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

type stubMarket struct {
	mu     sync.Mutex
	quotes map[string]market.Quote
	venues map[string][]market.VenueQuote
	down   map[string]bool
}

func newStubMarket() *stubMarket {
	return &stubMarket{
		quotes: map[string]market.Quote{},
		venues: map[string][]market.VenueQuote{},
		down:   map[string]bool{},
	}
}

func (m *stubMarket) set(symbol string, last float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = market.Quote{Symbol: symbol, Bid: last - 0.1, Ask: last + 0.1, Last: last, Time: t0}
}

func (m *stubMarket) GetQuote(_ context.Context, symbol string) (market.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down[symbol] {
		return market.Quote{}, errs.External("quote", errors.New("feed down"))
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return market.Quote{}, market.ErrNoQuote
	}
	return q, nil
}

func (m *stubMarket) GetHistoricalData(context.Context, string, string, time.Time, time.Time) ([]market.Candle, error) {
	return nil, nil
}

func (m *stubMarket) GetMarketSentiment(context.Context) (map[string]market.SentimentScore, error) {
	return nil, nil
}

func (m *stubMarket) GetVenueQuotes(_ context.Context, symbol string, _ []string) ([]market.VenueQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.venues[symbol], nil
}

type recorder struct {
	mu sync.Mutex
	n  map[string]int
}

func (r *recorder) inc(k string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == nil {
		r.n = map[string]int{}
	}
	r.n[k]++
	return nil
}

func (r *recorder) count(k string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n[k]
}

func (r *recorder) RecordSignal(context.Context, *signals.Signal) error { return r.inc("signal") }
func (r *recorder) RecordDecision(context.Context, risk.Decision) error { return r.inc("decision") }
func (r *recorder) RecordOrder(context.Context, execution.Order) error  { return r.inc("order") }
func (r *recorder) RecordTrade(context.Context, portfolio.Closed) error { return r.inc("trade") }
func (r *recorder) RecordMetrics(context.Context, portfolio.RiskMetrics) error {
	return r.inc("metrics")
}
func (r *recorder) RecordStress(context.Context, stress.Result) error { return r.inc("stress") }

type harness struct {
	now     time.Time
	market  *stubMarket
	book    *portfolio.Book
	history *portfolio.History
	catalog *strategies.Catalog
	reg     *signals.Registry
	gate    *risk.Gate
	paper   *execution.Paper
	kv      *store.Memory
	journal *recorder
	metrics *obs.Metrics
	alerts  *alerts.Manager
	topics  []string
	eng     *Engine
}

// fixedBuy emits one buy per (strategy, symbol) with a 2% stop. The id is
// stable so a repeat evaluation presents the same signal again.
func fixedBuy(_ context.Context, in signals.Input) (*signals.Signal, error) {
	price := in.Price()
	stop := price * 0.98
	return &signals.Signal{
		ID: in.Strategy.ID + "-" + in.Symbol, StrategyID: in.Strategy.ID, Symbol: in.Symbol,
		Type: signals.Buy, Strength: 60, Confidence: 70, Price: price, StopLoss: &stop, Timestamp: in.Now,
	}, nil
}

func newHarness(t *testing.T, mut func(*risk.Profile)) *harness {
	t.Helper()
	prof := risk.DefaultProfile()
	if mut != nil {
		mut(&prof)
	}
	profiles := risk.Profiles{prof.ID: prof}

	h := &harness{
		now:     t0,
		market:  newStubMarket(),
		book:    portfolio.NewBook(nil),
		history: portfolio.NewHistory(100),
		catalog: strategies.NewCatalog(),
		reg:     signals.NewRegistry(),
		kv:      store.NewMemory(),
		journal: &recorder{},
		metrics: obs.New(),
	}
	clock := func() time.Time { return h.now }
	h.market.set("AAPL", 100)
	require.NoError(t, h.book.AddAccount(portfolio.Account{ID: "acct-1", Balance: 100_000, RiskProfileID: prof.ID}))
	require.NoError(t, h.catalog.Register(strategies.Strategy{
		ID: "trend-1", Type: strategies.TrendFollowing, AccountID: "acct-1",
		Instruments: []string{"AAPL"}, Active: true,
	}))
	h.reg.Register(strategies.TrendFollowing, signals.GeneratorFunc(fixedBuy))

	h.gate = risk.NewGate(h.book, profiles, h.history, risk.WithClock(clock))
	h.paper = execution.NewPaper(h.market, nil)
	h.paper.SetClock(clock)

	var mu sync.Mutex
	pub := events.PublisherFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		h.topics = append(h.topics, e.Topic)
		return nil
	})
	h.alerts = alerts.NewManager(alerts.Options{Publisher: pub, KV: h.kv, Observer: h.metrics}, nil)
	h.alerts.SetClock(clock)

	eng, err := New(Config{Concurrency: 2}, Deps{
		Market:   h.market,
		Catalog:  h.catalog,
		Registry: h.reg,
		Gate:     h.gate,
		Book:     h.book,
		History:  h.history,
		Profiles: profiles,
		Orders:   h.paper,
		Stress:   stress.NewEngine(nil),
		Alerts:   h.alerts,
		Events:   pub,
		KV:       h.kv,
		Journal:  h.journal,
		Metrics:  h.metrics,
		Clock:    clock,
	})
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) open(t *testing.T, qty, price float64, at time.Time) {
	t.Helper()
	_, err := h.book.Apply(portfolio.Fill{
		OrderID: "o-1", AccountID: "acct-1", StrategyID: "trend-1",
		Symbol: "AAPL", Quantity: qty, Price: price, Time: at,
	})
	require.NoError(t, err)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestEvaluateAllApprovesAndFills(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()

	cyc, err := h.eng.EvaluateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Cycle{Evaluations: 1, Signals: 1, Approved: 1, Filled: 1}, cyc)

	pos := h.book.OpenPositions("acct-1")
	require.Len(t, pos, 1)
	assert.InDelta(t, 100, pos[0].Quantity, 1e-9)
	assert.InDelta(t, 100.1, pos[0].EntryPrice, 1e-9)
	require.NotNil(t, pos[0].StopLoss)
	assert.InDelta(t, 98, *pos[0].StopLoss, 1e-9)

	st, err := h.gate.Tracker().Status("trend-1-AAPL")
	require.NoError(t, err)
	assert.Equal(t, signals.StatusFilled, st)
	assert.Empty(t, h.gate.Ledger().Pending("acct-1"))

	assert.Equal(t, []string{events.TopicSignal}, h.topics)
	assert.Equal(t, 1, h.journal.count("signal"))
	assert.Equal(t, 1, h.journal.count("decision"))
	assert.Equal(t, 1, h.journal.count("order"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Decisions.WithLabelValues("acct-1", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Orders.WithLabelValues("filled")))

	hist, err := h.kv.Range(ctx, store.SignalsKey("trend-1"), 0, -1)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	// The same signal presented again is not gated a second time.
	cyc, err = h.eng.EvaluateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cyc.Rejected)
	assert.Equal(t, 1, h.paper.Orders())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Violations.WithLabelValues(risk.CodeAlreadyGated)))
}

func TestEvaluateAllRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *risk.Profile) { p.ForbiddenInstruments = []string{"AAPL"} })
	cyc, err := h.eng.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), cyc.Rejected)
	assert.Zero(t, cyc.Approved)
	assert.Zero(t, h.paper.Orders())
	assert.Empty(t, h.book.OpenPositions("acct-1"))
	assert.Empty(t, h.topics)
}

func TestMarketDataFailureMeansNoSignal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.market.down["AAPL"] = true

	cyc, err := h.eng.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cycle{Evaluations: 1, Errors: 1}, cyc)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EvalErrors.WithLabelValues("trend-1")))
	assert.Zero(t, h.journal.count("signal"))
}

func TestOrderFailureReleasesReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.eng.Orders = execution.OrderServiceFunc(func(context.Context, execution.OrderSpec) (execution.Order, error) {
		return execution.Order{}, errs.External("createOrder", errors.New("503"))
	})
	strat, err := h.catalog.Get("trend-1")
	require.NoError(t, err)

	out, err := h.eng.EvaluateOne(context.Background(), strat, "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrExternalService)
	require.NotNil(t, out)
	assert.Equal(t, signals.StatusFailed, out.Status)
	assert.Empty(t, h.gate.Ledger().Pending("acct-1"))

	st, err := h.gate.Tracker().Status("trend-1-AAPL")
	require.NoError(t, err)
	assert.Equal(t, signals.StatusFailed, st)
}

func TestArbitragePair(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.catalog.Register(strategies.Strategy{
		ID: "arb-1", Type: strategies.Arbitrage, AccountID: "acct-1",
		Instruments: []string{"AAPL"}, Active: true,
	}))
	require.NoError(t, h.catalog.Deactivate("trend-1", t0))
	h.market.venues["AAPL"] = []market.VenueQuote{
		{Venue: "a", Symbol: "AAPL", Bid: 99.9, Ask: 100, BidSize: 1000, AskSize: 1000},
		{Venue: "b", Symbol: "AAPL", Bid: 101, Ask: 101.1, BidSize: 1000, AskSize: 1000},
	}
	strat, err := h.catalog.Get("arb-1")
	require.NoError(t, err)

	out, err := h.eng.EvaluateOne(context.Background(), strat, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Pair)
	assert.Equal(t, execution.Hedged, out.Pair.Status)
	assert.Equal(t, signals.StatusFilled, out.Status)
	assert.Empty(t, h.book.OpenPositions("acct-1"))
	assert.Empty(t, h.gate.Ledger().Pending("acct-1"))

	got, err := h.catalog.Get("arb-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Performance.Wins)
	assert.InDelta(t, 100, got.Performance.TotalPnL, 1e-6)
	assert.Equal(t, 1, h.journal.count("trade"))
}

func TestMarkToMarketHitsStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.eng.EvaluateAll(ctx)
	require.NoError(t, err)

	h.now = t0.Add(time.Hour)
	h.market.set("AAPL", 97)
	require.NoError(t, h.eng.MarkToMarket(ctx))

	assert.Empty(t, h.book.OpenPositions("acct-1"))
	acct, err := h.book.Account("acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 100_000-210, acct.Balance, 1e-6)

	strat, err := h.catalog.Get("trend-1")
	require.NoError(t, err)
	assert.Equal(t, 1, strat.Performance.Losses)
	assert.Len(t, h.history.Equity("acct-1"), 1)
	assert.Equal(t, 1, h.journal.count("trade"))

	// later ticks the same day replace the day's close
	h.now = t0.Add(2 * time.Hour)
	require.NoError(t, h.eng.MarkToMarket(ctx))
	assert.Equal(t, []float64{100_000 - 210}, h.history.Equity("acct-1"))
}

func TestMarkToMarketReportsQuoteFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.open(t, 10, 100, t0)
	h.market.down["AAPL"] = true

	err := h.eng.MarkToMarket(context.Background())
	require.Error(t, err)
	assert.Len(t, h.book.OpenPositions("acct-1"), 1)
}

func TestRebalanceClosesStalePositions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.open(t, 10, 100, t0.Add(-6*24*time.Hour))
	h.market.set("AAPL", 105)

	require.NoError(t, h.eng.Rebalance(context.Background()))
	assert.Empty(t, h.book.OpenPositions("acct-1"))

	strat, err := h.catalog.Get("trend-1")
	require.NoError(t, err)
	assert.Equal(t, 1, strat.Performance.Wins)
	assert.InDelta(t, 50, strat.Performance.TotalPnL, 1e-9)
}

func TestRefreshMetricsRaisesAndResolvesAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *risk.Profile) { p.MaxConcentrationPct = 0.05 })
	ctx := context.Background()
	h.open(t, 100, 100, t0)

	require.NoError(t, h.eng.RefreshMetrics(ctx))
	rm, ok := h.history.Latest("acct-1")
	require.True(t, ok)
	assert.InDelta(t, 0.1, rm.Leverage, 1e-9)
	assert.InDelta(t, 0.1, testutil.ToFloat64(h.metrics.Leverage.WithLabelValues("acct-1")), 1e-9)

	open := h.alerts.List("acct-1", false)
	require.Len(t, open, 1)
	assert.Equal(t, alerts.TypeConcentration, open[0].Type)
	assert.Equal(t, "AAPL", open[0].Symbol)
	assert.Equal(t, alerts.SeverityCritical, open[0].Severity)

	var cached portfolio.RiskMetrics
	require.NoError(t, store.GetJSON(ctx, h.kv, store.MetricsKey("acct-1"), &cached))
	assert.Equal(t, "acct-1", cached.AccountID)

	pos := h.book.OpenPositions("acct-1")
	_, err := h.book.Close(pos[0].ID, 100, t0.Add(time.Minute))
	require.NoError(t, err)
	h.now = t0.Add(time.Minute)

	require.NoError(t, h.eng.RefreshMetrics(ctx))
	assert.Empty(t, h.alerts.List("acct-1", false))
	assert.Equal(t, []string{events.TopicAlert, events.TopicAlertResolved}, h.topics)
	assert.Equal(t, 2, h.journal.count("metrics"))
}

func TestStressSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *risk.Profile) { p.StressLimits = map[string]float64{"flash_crash": 0.001} })
	ctx := context.Background()
	h.open(t, 100, 100, t0)

	require.NoError(t, h.eng.StressSweep(ctx))

	var results []stress.Result
	require.NoError(t, store.GetJSON(ctx, h.kv, store.StressKey("acct-1"), &results))
	assert.Len(t, results, len(stress.Builtin()))
	assert.Equal(t, len(stress.Builtin()), h.journal.count("stress"))
	assert.Greater(t, testutil.ToFloat64(h.metrics.StressLoss.WithLabelValues("acct-1", "flash_crash")), 0.0)

	open := h.alerts.List("acct-1", false)
	require.Len(t, open, 1)
	assert.Equal(t, alerts.TypeLimitBreach, open[0].Type)
	assert.Equal(t, "stress:flash_crash", open[0].Metric)
}

func TestHousekeepingExpiresReservations(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	stop := 98.0
	d := h.gate.Check(context.Background(), risk.Request{
		Signal: &signals.Signal{
			ID: "orphan", StrategyID: "trend-1", Symbol: "AAPL", Type: signals.Buy,
			Strength: 60, Confidence: 70, Price: 100, StopLoss: &stop, Timestamp: t0,
		},
		AccountID: "acct-1",
		Quantity:  10,
	})
	require.True(t, d.Approved, d.Reason)
	require.Len(t, h.gate.Ledger().Pending("acct-1"), 1)

	h.now = t0.Add(10 * time.Minute)
	require.NoError(t, h.eng.Housekeeping(context.Background()))
	assert.Empty(t, h.gate.Ledger().Pending("acct-1"))
}

func TestJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	jobs := h.eng.Jobs(DefaultCadences())
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
		assert.NotNil(t, j.Run)
	}
	assert.Equal(t, []string{JobEvaluate, JobMarkToMarket, JobRebalance, JobMetrics, JobStress, JobHousekeeping}, names)

	c := DefaultCadences()
	c.Rebalance = 0
	assert.Len(t, h.eng.Jobs(c), 5)
}
