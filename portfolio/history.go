package portfolio

import (
	"sync"
	"time"
)

// EquityPoint is one observation of account equity.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// History keeps, per account, the append-only list of computed metrics and
// the equity observations returns are derived from. Limit bounds each list;
// the oldest entries are dropped first.
type History struct {
	mu      sync.RWMutex
	limit   int
	metrics map[string][]RiskMetrics
	equity  map[string][]EquityPoint
}

func NewHistory(limit int) *History {
	return &History{
		limit:   limit,
		metrics: make(map[string][]RiskMetrics),
		equity:  make(map[string][]EquityPoint),
	}
}

func (h *History) Append(m RiskMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics[m.AccountID] = capped(append(h.metrics[m.AccountID], m), h.limit)
}

// Latest returns the most recent snapshot for an account.
func (h *History) Latest(accountID string) (RiskMetrics, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ms := h.metrics[accountID]
	if len(ms) == 0 {
		return RiskMetrics{}, false
	}
	return ms[len(ms)-1], true
}

// Metrics returns a copy of the account's snapshots, oldest first.
func (h *History) Metrics(accountID string) []RiskMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]RiskMetrics(nil), h.metrics[accountID]...)
}

// RecordEquity records an equity observation. The history holds one point
// per UTC day: a later observation on the same day replaces that day's point,
// so the series is of daily closes. Observations at or before the last
// recorded time are ignored.
func (h *History) RecordEquity(accountID string, at time.Time, equity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pts := h.equity[accountID]
	pt := EquityPoint{Time: at, Equity: equity}
	if n := len(pts); n > 0 {
		last := pts[n-1].Time
		if !at.After(last) {
			return
		}
		if sameDay(at, last) {
			pts[n-1] = pt
			return
		}
	}
	h.equity[accountID] = capped(append(pts, pt), h.limit)
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Truncate(24 * time.Hour).Equal(b.UTC().Truncate(24 * time.Hour))
}

// Equity returns the account's equity values, oldest first.
func (h *History) Equity(accountID string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	pts := h.equity[accountID]
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Equity
	}
	return out
}

// Returns converts the daily equity closes to daily returns.
func (h *History) Returns(accountID string) []float64 {
	eq := h.Equity(accountID)
	if len(eq) < 2 {
		return nil
	}
	out := make([]float64, 0, len(eq)-1)
	for i := 1; i < len(eq); i++ {
		if eq[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (eq[i]-eq[i-1])/eq[i-1])
	}
	return out
}

func capped[T any](xs []T, limit int) []T {
	if limit > 0 && len(xs) > limit {
		return append(xs[:0:0], xs[len(xs)-limit:]...)
	}
	return xs
}
