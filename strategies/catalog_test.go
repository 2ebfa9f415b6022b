package strategies

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func trend(id string) Strategy {
	return Strategy{
		ID:          id,
		Type:        TrendFollowing,
		Instruments: []string{"AAPL"},
		Timeframes:  []string{"1h"},
		Parameters:  map[string]float64{"fast_period": 10, "slow_period": 20},
		Active:      true,
	}
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	require.NoError(t, c.Register(trend("tf-1")))

	err := c.Register(trend("tf-1"))
	assert.ErrorIs(t, err, ErrDuplicate)

	s, err := c.Get("tf-1")
	require.NoError(t, err)
	assert.Equal(t, TrendFollowing, s.Type)
	assert.Equal(t, 10.0, s.Param("fast_period", 0))
	assert.Equal(t, 2.5, s.Param("missing", 2.5))

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mut  func(*Strategy)
	}{
		{"missing id", func(s *Strategy) { s.ID = "" }},
		{"bad type", func(s *Strategy) { s.Type = "astrology" }},
		{"no instruments", func(s *Strategy) { s.Instruments = nil }},
		{"position size over one", func(s *Strategy) { s.Risk = &RiskParams{MaxPositionSize: 1.5} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := trend("x")
			tt.mut(&s)
			assert.Error(t, NewCatalog().Register(s))
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	require.NoError(t, c.Register(trend("tf-1")))

	s, _ := c.Get("tf-1")
	s.Parameters["fast_period"] = 99
	s.Instruments[0] = "MSFT"

	again, _ := c.Get("tf-1")
	assert.Equal(t, 10.0, again.Parameters["fast_period"])
	assert.Equal(t, "AAPL", again.Instruments[0])
}

func TestActiveAndDeactivate(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	require.NoError(t, c.Register(trend("b")))
	require.NoError(t, c.Register(trend("a")))
	idle := trend("c")
	idle.Active = false
	require.NoError(t, c.Register(idle))

	assert.Len(t, c.List(), 3)
	active := c.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)

	require.NoError(t, c.Deactivate("a", t0))
	assert.Len(t, c.Active(), 1)
	assert.Len(t, c.List(), 3)
	assert.ErrorIs(t, c.Deactivate("zzz", t0), ErrNotFound)
}

func TestTuneParameters(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	require.NoError(t, c.Register(trend("tf-1")))
	require.NoError(t, c.TuneParameters("tf-1", map[string]float64{"fast_period": 5, "target_pct": 0.03}, t0))

	s, _ := c.Get("tf-1")
	assert.Equal(t, 5.0, s.Parameters["fast_period"])
	assert.Equal(t, 20.0, s.Parameters["slow_period"])
	assert.Equal(t, 0.03, s.Parameters["target_pct"])
	assert.Equal(t, t0, s.UpdatedAt)
}

func TestRecordTrade(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	require.NoError(t, c.Register(trend("tf-1")))
	for _, pnl := range []float64{100, -40, -80, 50} {
		require.NoError(t, c.RecordTrade("tf-1", pnl, t0))
	}

	p := mustGet(t, c, "tf-1").Performance
	assert.Equal(t, 4, p.Trades)
	assert.Equal(t, 2, p.Wins)
	assert.Equal(t, 2, p.Losses)
	assert.InDelta(t, 0.5, p.WinRate, 1e-12)
	assert.InDelta(t, 30, p.TotalPnL, 1e-12)
	assert.InDelta(t, 7.5, p.AvgPnL, 1e-12)
	assert.InDelta(t, 120, p.MaxDrawdown, 1e-12)
}

func TestCatalogConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	require.NoError(t, c.Register(trend("tf-1")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.RecordTrade("tf-1", 1, t0)
		}()
		go func() {
			defer wg.Done()
			_ = c.Active()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, mustGet(t, c, "tf-1").Performance.Trades)
}

func mustGet(t *testing.T, c *Catalog, id string) Strategy {
	t.Helper()
	s, err := c.Get(id)
	require.NoError(t, err)
	return s
}
