package alerts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/store"
)

var ErrUnknownAlert = errors.New("unknown alert")

// Recorder persists alerts. The journal implements it.
type Recorder interface {
	SaveAlert(ctx context.Context, a Alert) error
}

// Observer counts raised alerts. obs.Metrics implements it.
type Observer interface {
	ObserveAlert(typ, severity string)
}

// Options wires the manager's optional sinks. Nil sinks are skipped.
type Options struct {
	Publisher events.Publisher
	KV        store.KV
	Keep      int64 // history entries kept per account in the KV
	Recorder  Recorder
	Observer  Observer
}

// Manager owns the alert set. Open alerts are indexed by the condition they
// track so a breach that persists across evaluations updates one alert
// instead of raising many.
type Manager struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	open   map[string]string // condition key -> alert id
	opts   Options
	now    func() time.Time
	log    *zap.Logger
}

func NewManager(opts Options, log *zap.Logger) *Manager {
	if opts.Keep == 0 {
		opts.Keep = 500
	}
	return &Manager{
		alerts: make(map[string]*Alert),
		open:   make(map[string]string),
		opts:   opts,
		now:    time.Now,
		log:    logger.OrNop(log),
	}
}

func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Raise opens an alert for b, or refreshes the open alert already tracking
// the same condition. The bool reports whether a new alert was created.
func (m *Manager) Raise(ctx context.Context, b Breach) (Alert, bool, error) {
	if b.AccountID == "" || b.Type == "" {
		return Alert{}, false, errs.Validation("alerts.raise", "account and type are required")
	}
	now := m.now()

	m.mu.Lock()
	if aid, ok := m.open[b.key()]; ok {
		a := m.alerts[aid]
		a.Current = b.Current
		a.Limit = b.Limit
		a.Message = b.Message
		if rank(b.Severity) > rank(a.Severity) {
			a.Severity = b.Severity
		}
		a.UpdatedAt = now
		out := *a
		m.mu.Unlock()
		return out, false, nil
	}

	a := &Alert{
		ID:             id.NewAt(now),
		Type:           b.Type,
		Severity:       b.Severity,
		AccountID:      b.AccountID,
		Symbol:         b.Symbol,
		Metric:         b.Metric,
		Current:        b.Current,
		Limit:          b.Limit,
		Message:        b.Message,
		Recommendation: b.Recommendation,
		Status:         StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if a.Severity == "" {
		a.Severity = SeverityFor(b.Current, b.Limit)
	}
	m.alerts[a.ID] = a
	m.open[b.key()] = a.ID
	out := *a
	m.mu.Unlock()

	m.log.Warn("risk alert raised",
		zap.String("alert_id", out.ID),
		zap.String("account_id", out.AccountID),
		zap.String("type", string(out.Type)),
		zap.String("severity", string(out.Severity)),
		zap.Float64("current", out.Current),
		zap.Float64("limit", out.Limit),
	)
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveAlert(string(out.Type), string(out.Severity))
	}
	return out, true, m.emit(ctx, events.TopicAlert, out)
}

// Acknowledge moves a new alert to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, alertID string) (Alert, error) {
	const op = "alerts.acknowledge"
	m.mu.Lock()
	a, ok := m.alerts[alertID]
	if !ok {
		m.mu.Unlock()
		return Alert{}, ErrUnknownAlert
	}
	if a.Status != StatusNew {
		st := a.Status
		m.mu.Unlock()
		return Alert{}, errs.Validation(op, "alert %s is %s", alertID, st)
	}
	now := m.now()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	out := *a
	m.mu.Unlock()

	return out, m.persist(ctx, out)
}

// Resolve closes an alert for good. Resolving twice is a validation error.
func (m *Manager) Resolve(ctx context.Context, alertID string) (Alert, error) {
	const op = "alerts.resolve"
	m.mu.Lock()
	a, ok := m.alerts[alertID]
	if !ok {
		m.mu.Unlock()
		return Alert{}, ErrUnknownAlert
	}
	if a.Status == StatusResolved {
		m.mu.Unlock()
		return Alert{}, errs.Validation(op, "alert %s already resolved", alertID)
	}
	now := m.now()
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.UpdatedAt = now
	delete(m.open, a.key())
	out := *a
	m.mu.Unlock()

	m.log.Info("risk alert resolved", zap.String("alert_id", out.ID), zap.String("type", string(out.Type)))
	return out, m.emit(ctx, events.TopicAlertResolved, out)
}

func (m *Manager) Get(alertID string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return Alert{}, ErrUnknownAlert
	}
	return *a, nil
}

// List returns the account's alerts oldest first. An empty account id lists
// every account.
func (m *Manager) List(accountID string, includeResolved bool) []Alert {
	m.mu.Lock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if accountID != "" && a.AccountID != accountID {
			continue
		}
		if !includeResolved && !a.Open() {
			continue
		}
		out = append(out, *a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) emit(ctx context.Context, topic string, a Alert) error {
	if err := m.persist(ctx, a); err != nil {
		return err
	}
	if m.opts.Publisher == nil {
		return nil
	}
	e, err := events.New(topic, a.AccountID, a, a.UpdatedAt)
	if err != nil {
		return err
	}
	return m.opts.Publisher.Publish(ctx, e)
}

func (m *Manager) persist(ctx context.Context, a Alert) error {
	if m.opts.Recorder != nil {
		if err := m.opts.Recorder.SaveAlert(ctx, a); err != nil {
			return errs.External("alerts.record", err)
		}
	}
	if m.opts.KV != nil {
		if err := store.PushJSON(ctx, m.opts.KV, store.AlertsKey(a.AccountID), m.opts.Keep, a); err != nil {
			return errs.External("alerts.history", err)
		}
	}
	return nil
}

func rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
