// Package alerts raises, deduplicates and resolves risk alerts for
// accounts.
package alerts

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeLimitBreach   Type = "limit_breach"
	TypeConcentration Type = "concentration"
	TypeCorrelation   Type = "correlation"
	TypeVaRBreach     Type = "var_breach"
	TypeDrawdown      Type = "drawdown"
	TypeVolatility    Type = "volatility"
	TypeLiquidity     Type = "liquidity"
	TypeMarginCall    Type = "margin_call"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor grades a breach by how far current overshoots limit.
func SeverityFor(current, limit float64) Severity {
	if limit <= 0 {
		return SeverityHigh
	}
	switch r := current / limit; {
	case r >= 1.5:
		return SeverityCritical
	case r >= 1.2:
		return SeverityHigh
	case r > 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is one risk alert. Resolved alerts never reopen; a fresh breach
// raises a new alert.
type Alert struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	Severity       Severity   `json:"severity"`
	AccountID      string     `json:"account_id"`
	Symbol         string     `json:"symbol,omitempty"`
	Metric         string     `json:"metric"`
	Current        float64    `json:"current"`
	Limit          float64    `json:"limit"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func (a Alert) Open() bool { return a.Status != StatusResolved }

// Breach is a limit violation observed by a check, before it becomes an
// alert.
type Breach struct {
	Type           Type
	Severity       Severity
	AccountID      string
	Symbol         string
	Metric         string
	Current        float64
	Limit          float64
	Message        string
	Recommendation string
}

// key identifies the condition an alert tracks. Metric separates breaches of
// the same type and symbol, such as leverage and a stress limit.
func (b Breach) key() string {
	return fmt.Sprintf("%s|%s|%s|%s", b.AccountID, b.Type, b.Symbol, b.Metric)
}

func (a Alert) key() string {
	return Breach{AccountID: a.AccountID, Type: a.Type, Symbol: a.Symbol, Metric: a.Metric}.key()
}
