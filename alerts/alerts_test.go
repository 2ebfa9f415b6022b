package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/stress"
)

type topics struct {
	mu  sync.Mutex
	got []string
}

func (r *topics) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e.Topic)
	return nil
}

type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) ObserveAlert(typ, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int{}
	}
	c.n[typ]++
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, limit float64
		want           Severity
	}{
		{0.08, 0.05, SeverityCritical},
		{2.5, 2, SeverityHigh},
		{0.11, 0.1, SeverityMedium},
		{0.05, 0.1, SeverityLow},
		{1, 0, SeverityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.current, tt.limit), "%v/%v", tt.current, tt.limit)
	}
}

func TestCheckMetrics(t *testing.T) {
	t.Parallel()

	rm := portfolio.RiskMetrics{
		AccountID:     "acct-1",
		VaR95:         0.08,
		Leverage:      2.5,
		Concentration: map[string]float64{"AAPL": 0.35, "MSFT": 0.10},
		Correlation:   map[string]float64{"AAPL": 0.5},
	}
	got := Check(Input{AccountID: "acct-1", Profile: risk.DefaultProfile(), Metrics: &rm})
	require.Len(t, got, 3)

	assert.Equal(t, TypeConcentration, got[0].Type)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, SeverityHigh, got[0].Severity)

	assert.Equal(t, TypeLimitBreach, got[1].Type)
	assert.Equal(t, "leverage", got[1].Metric)
	assert.Equal(t, SeverityHigh, got[1].Severity)

	assert.Equal(t, TypeVaRBreach, got[2].Type)
	assert.Equal(t, SeverityCritical, got[2].Severity)
	assert.Equal(t, 0.05, got[2].Limit)
}

func TestCheckStress(t *testing.T) {
	t.Parallel()

	r := stress.Result{
		ScenarioID:      "market_crash_2008",
		AccountID:       "acct-1",
		PreValue:        decimal.NewFromInt(1_000_000),
		LiquidityImpact: decimal.NewFromInt(300_000),
		LossPct:         0.6,
		MarginCall:      true,
	}
	got := Check(Input{AccountID: "acct-1", Profile: risk.DefaultProfile(), Stress: []stress.Result{r}})
	require.Len(t, got, 3)

	var types []Type
	for _, b := range got {
		types = append(types, b.Type)
		assert.Equal(t, "stress:market_crash_2008", b.Metric)
	}
	assert.ElementsMatch(t, []Type{TypeMarginCall, TypeLimitBreach, TypeLiquidity}, types)
}

func TestRaiseDeduplicates(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{}, nil)
	m.SetClock(fixedClock())
	ctx := context.Background()

	b := Breach{Type: TypeDrawdown, Severity: SeverityMedium, AccountID: "acct-1", Metric: "current_drawdown", Current: 0.16, Limit: 0.15}
	first, created, err := m.Raise(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusNew, first.Status)

	b.Current = 0.25
	b.Severity = SeverityCritical
	second, created, err := m.Raise(ctx, b)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.25, second.Current)
	assert.Equal(t, SeverityCritical, second.Severity)

	other := b
	other.AccountID = "acct-2"
	third, created, err := m.Raise(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)

	assert.Len(t, m.List("acct-1", true), 1)
	assert.Len(t, m.List("", true), 2)

	_, _, err = m.Raise(ctx, Breach{Type: TypeDrawdown})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{}, nil)
	m.SetClock(fixedClock())
	ctx := context.Background()

	b := Breach{Type: TypeVaRBreach, AccountID: "acct-1", Metric: "var_95", Current: 0.055, Limit: 0.05}
	a, _, err := m.Raise(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, a.Severity)

	acked, err := m.Acknowledge(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	_, err = m.Acknowledge(ctx, a.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)

	resolved, err := m.Resolve(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = m.Resolve(ctx, a.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = m.Acknowledge(ctx, a.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)

	again, created, err := m.Raise(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, again.ID)

	_, err = m.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownAlert)
	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownAlert)

	assert.Len(t, m.List("acct-1", false), 1)
	assert.Len(t, m.List("acct-1", true), 2)
}

func TestEvaluateAutoResolves(t *testing.T) {
	t.Parallel()

	pub := &topics{}
	obs := &counter{}
	kv := store.NewMemory()
	m := NewManager(Options{Publisher: pub, KV: kv, Keep: 10, Observer: obs}, nil)
	m.SetClock(fixedClock())
	ctx := context.Background()
	profile := risk.DefaultProfile()

	breached := portfolio.RiskMetrics{AccountID: "acct-1", VaR95: 0.07}
	raised, err := m.Evaluate(ctx, Input{AccountID: "acct-1", Profile: profile, Metrics: &breached})
	require.NoError(t, err)
	require.Len(t, raised, 1)

	// Same breach again refreshes the open alert.
	raised, err = m.Evaluate(ctx, Input{AccountID: "acct-1", Profile: profile, Metrics: &breached})
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Len(t, m.List("acct-1", false), 1)

	// Stress-only pass leaves metric alerts alone.
	_, err = m.Evaluate(ctx, Input{AccountID: "acct-1", Profile: profile, Stress: []stress.Result{}})
	require.NoError(t, err)
	assert.Len(t, m.List("acct-1", false), 1)

	healthy := portfolio.RiskMetrics{AccountID: "acct-1", VaR95: 0.01}
	raised, err = m.Evaluate(ctx, Input{AccountID: "acct-1", Profile: profile, Metrics: &healthy})
	require.NoError(t, err)
	assert.Empty(t, raised)
	assert.Empty(t, m.List("acct-1", false))

	assert.Equal(t, []string{events.TopicAlert, events.TopicAlertResolved}, pub.got)
	assert.Equal(t, 1, obs.n[string(TypeVaRBreach)])

	hist, err := kv.Range(ctx, store.AlertsKey("acct-1"), 0, -1)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}
