// Package signals turns strategy definitions and market data into trading
// signals. Each strategy type has its own Generator; a Registry dispatches
// on the strategy type and validates what comes back.
package signals

import (
	"time"

	"github.com/rustyeddy/tradeguard/internal/errs"
)

// Type is the direction of a signal.
type Type string

const (
	Buy  Type = "buy"
	Sell Type = "sell"
	Hold Type = "hold"
)

// Signal is an immutable trading suggestion produced by a generator.
type Signal struct {
	ID          string            `json:"id"`
	StrategyID  string            `json:"strategy_id"`
	Symbol      string            `json:"symbol"`
	Type        Type              `json:"type"`
	Strength    float64           `json:"strength"`
	Confidence  float64           `json:"confidence"`
	Price       float64           `json:"price"`
	TargetPrice *float64          `json:"target_price,omitempty"`
	StopLoss    *float64          `json:"stop_loss,omitempty"`
	Timeframe   string            `json:"timeframe"`
	Reasoning   string            `json:"reasoning"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Validate reports a malformed signal as a validation error.
func (s *Signal) Validate() error {
	const op = "signal.validate"
	switch {
	case s == nil:
		return errs.Validation(op, "nil signal")
	case s.ID == "":
		return errs.Validation(op, "missing id")
	case s.Symbol == "":
		return errs.Validation(op, "missing symbol")
	case s.Type != Buy && s.Type != Sell && s.Type != Hold:
		return errs.Validation(op, "unknown type %q", s.Type)
	case s.Strength < 0 || s.Strength > 100:
		return errs.Validation(op, "strength %.2f outside [0,100]", s.Strength)
	case s.Confidence < 0 || s.Confidence > 100:
		return errs.Validation(op, "confidence %.2f outside [0,100]", s.Confidence)
	case !(s.Price > 0):
		return errs.Validation(op, "price must be positive, got %v", s.Price)
	}
	if s.TargetPrice != nil && !(*s.TargetPrice > 0) {
		return errs.Validation(op, "target price must be positive")
	}
	if s.StopLoss != nil && !(*s.StopLoss > 0) {
		return errs.Validation(op, "stop loss must be positive")
	}
	return nil
}

// Expired reports whether the signal has an expiry at or before now.
func (s *Signal) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Actionable reports whether the signal asks for a trade.
func (s *Signal) Actionable() bool {
	return s.Type == Buy || s.Type == Sell
}

// Side returns +1 for buy, -1 for sell and 0 for hold.
func (s *Signal) Side() float64 {
	switch s.Type {
	case Buy:
		return 1
	case Sell:
		return -1
	}
	return 0
}

func ptr(v float64) *float64 { return &v }
