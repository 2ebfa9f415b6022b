// Package obs exposes the engine's Prometheus metrics.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/stress"
)

const namespace = "tradeguard"

type Metrics struct {
	reg *prometheus.Registry

	Signals        *prometheus.CounterVec
	EvalErrors     *prometheus.CounterVec
	Decisions      *prometheus.CounterVec
	Violations     *prometheus.CounterVec
	Warnings       *prometheus.CounterVec
	Orders         *prometheus.CounterVec
	Alerts         *prometheus.CounterVec
	VaR            *prometheus.GaugeVec
	Drawdown       *prometheus.GaugeVec
	Leverage       *prometheus.GaugeVec
	PortfolioValue *prometheus.GaugeVec
	StressLoss     *prometheus.GaugeVec
	JobDuration    *prometheus.HistogramVec
	JobErrors      *prometheus.CounterVec
	JobSkips       *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signals", Name: "generated_total",
			Help: "Signals generated, by strategy and type.",
		}, []string{"strategy", "type"}),
		EvalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "signals", Name: "evaluation_errors_total",
			Help: "Failed strategy evaluations, by strategy.",
		}, []string{"strategy"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "decisions_total",
			Help: "Risk gate decisions, by account and result.",
		}, []string{"account", "result"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "violations_total",
			Help: "Hard limit violations, by code.",
		}, []string{"code"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "warnings_total",
			Help: "Soft limit warnings and clips, by code.",
		}, []string{"code"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "execution", Name: "orders_total",
			Help: "Orders sent, by final status.",
		}, []string{"status"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "raised_total",
			Help: "Risk alerts raised, by type and severity.",
		}, []string{"type", "severity"}),
		VaR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "var",
			Help: "Historical value at risk as a fraction of portfolio value.",
		}, []string{"account", "confidence"}),
		Drawdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "drawdown",
			Help: "Current drawdown from the equity peak.",
		}, []string{"account"}),
		Leverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "leverage",
			Help: "Gross exposure over portfolio value.",
		}, []string{"account"}),
		PortfolioValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "portfolio", Name: "value",
			Help: "Portfolio value in account currency.",
		}, []string{"account"}),
		StressLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stress", Name: "loss_ratio",
			Help: "Latest stress loss as a fraction of portfolio value.",
		}, []string{"account", "scenario"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_duration_seconds",
			Help:    "Scheduled job run time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		JobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_errors_total",
			Help: "Failed scheduled job runs.",
		}, []string{"job"}),
		JobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "job_skipped_total",
			Help: "Ticks dropped because the previous run was still going.",
		}, []string{"job"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Signals, m.EvalErrors, m.Decisions, m.Violations, m.Warnings, m.Orders, m.Alerts,
		m.VaR, m.Drawdown, m.Leverage, m.PortfolioValue, m.StressLoss,
		m.JobDuration, m.JobErrors, m.JobSkips,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveSignal(strategyID, typ string) {
	m.Signals.WithLabelValues(strategyID, typ).Inc()
}

func (m *Metrics) ObserveEvalError(strategyID string) {
	m.EvalErrors.WithLabelValues(strategyID).Inc()
}

func (m *Metrics) ObserveDecision(d risk.Decision) {
	result := "rejected"
	if d.Approved {
		result = "approved"
	}
	m.Decisions.WithLabelValues(d.AccountID, result).Inc()
	for _, v := range d.Violations {
		m.Violations.WithLabelValues(v.Code).Inc()
	}
	for _, w := range d.Warnings {
		m.Warnings.WithLabelValues(w.Code).Inc()
	}
}

func (m *Metrics) ObserveOrder(status string) {
	m.Orders.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveAlert(typ, severity string) {
	m.Alerts.WithLabelValues(typ, severity).Inc()
}

func (m *Metrics) ObserveRisk(rm portfolio.RiskMetrics) {
	m.VaR.WithLabelValues(rm.AccountID, "0.95").Set(rm.VaR95)
	m.VaR.WithLabelValues(rm.AccountID, "0.99").Set(rm.VaR99)
	m.Drawdown.WithLabelValues(rm.AccountID).Set(rm.CurrentDrawdown)
	m.Leverage.WithLabelValues(rm.AccountID).Set(rm.Leverage)
	m.PortfolioValue.WithLabelValues(rm.AccountID).Set(rm.PortfolioValue)
}

func (m *Metrics) ObserveStress(r stress.Result) {
	m.StressLoss.WithLabelValues(r.AccountID, r.ScenarioID).Set(r.LossPct)
}

// JobRun and JobSkipped make Metrics a scheduler observer.
func (m *Metrics) JobRun(name string, took time.Duration, err error) {
	m.JobDuration.WithLabelValues(name).Observe(took.Seconds())
	if err != nil {
		m.JobErrors.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) JobSkipped(name string) {
	m.JobSkips.WithLabelValues(name).Inc()
}
