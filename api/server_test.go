package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/obs"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
)

// gin's mode is process global, so these tests do not run in parallel.

type fixture struct {
	srv    *Server
	router *gin.Engine
	alert  alerts.Alert
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mgr := alerts.NewManager(alerts.Options{}, nil)
	mgr.SetClock(func() time.Time { return time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC) })
	a, created, err := mgr.Raise(ctx, alerts.Breach{
		Type: alerts.TypeVaRBreach, Severity: alerts.SeverityMedium, AccountID: "acct-1",
		Metric: "var_95", Current: 0.055, Limit: 0.05, Message: "var above limit",
	})
	require.NoError(t, err)
	require.True(t, created)

	book := portfolio.NewBook(nil)
	require.NoError(t, book.AddAccount(portfolio.Account{ID: "acct-1", Currency: "USD", RiskProfileID: "moderate", Balance: 100000}))

	cat := strategies.NewCatalog()
	require.NoError(t, cat.Register(strategies.Strategy{ID: "trend-1", Type: strategies.TrendFollowing, Instruments: []string{"AAPL"}, Active: true}))
	require.NoError(t, cat.Register(strategies.Strategy{ID: "mr-1", Type: strategies.MeanReversion, Instruments: []string{"SPY"}}))

	kv := store.NewMemory()
	require.NoError(t, store.SetJSON(ctx, kv, store.MetricsKey("acct-1"), portfolio.RiskMetrics{AccountID: "acct-1", VaR95: 0.02}, 0))

	srv := &Server{Alerts: mgr, Book: book, Catalog: cat, KV: kv, Metrics: obs.New()}
	return &fixture{srv: srv, router: srv.Router(gin.TestMode), alert: a}
}

func (f *fixture) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())

	f.srv.Metrics.ObserveAlert("var_breach", "medium")
	w = f.do(http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tradeguard_alerts_raised_total")
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.alert.ID

	w := f.do(http.MethodGet, "/api/v1/alerts?account_id=acct-1")
	require.Equal(t, http.StatusOK, w.Code)
	var list []alerts.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	w = f.do(http.MethodPost, "/api/v1/alerts/"+id+"/ack")
	require.Equal(t, http.StatusOK, w.Code)
	var got alerts.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, alerts.StatusAcknowledged, got.Status)

	// acknowledging twice is a conflict
	w = f.do(http.MethodPost, "/api/v1/alerts/"+id+"/ack")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/v1/alerts/"+id+"/resolve")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/v1/alerts/"+id+"/resolve")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodGet, "/api/v1/alerts?account_id=acct-1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)

	w = f.do(http.MethodGet, "/api/v1/alerts?account_id=acct-1&include_resolved=true")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestAlertErrors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/alerts/nope").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/alerts/nope/ack").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/alerts?include_resolved=maybe").Code)
}

func TestAccountViews(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/accounts")
	require.Equal(t, http.StatusOK, w.Code)
	var accts []portfolio.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accts))
	require.Len(t, accts, 1)
	assert.Equal(t, "acct-1", accts[0].ID)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/accounts/acct-1/positions").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/accounts/ghost").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/accounts/ghost/positions").Code)

	w = f.do(http.MethodGet, "/api/v1/accounts/acct-1/risk")
	require.Equal(t, http.StatusOK, w.Code)
	var m portfolio.RiskMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 0.02, m.VaR95)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/accounts/acct-1/stress").Code)
}

func TestStrategies(t *testing.T) {
	f := newFixture(t)

	var list []strategies.Strategy
	w := f.do(http.MethodGet, "/api/v1/strategies")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	w = f.do(http.MethodGet, "/api/v1/strategies?active=true")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "trend-1", list[0].ID)
}
