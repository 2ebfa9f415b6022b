package signals

import (
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/tradeguard/internal/errs"
)

// Status is a signal's lifecycle state.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusGated     Status = "gated"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSubmitted Status = "submitted"
	StatusFilled    Status = "filled"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusGenerated: {StatusGated},
	StatusGated:     {StatusApproved, StatusRejected},
	StatusApproved:  {StatusSubmitted},
	StatusSubmitted: {StatusFilled, StatusPartial, StatusFailed},
	StatusPartial:   {StatusFilled},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) can(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type tracked struct {
	status Status
	at     time.Time
}

// Tracker records the lifecycle of every signal by id. The gated transition
// can succeed only once per id, which is what keeps a signal from being risk
// checked twice.
type Tracker struct {
	mu      sync.Mutex
	signals map[string]tracked
}

func NewTracker() *Tracker {
	return &Tracker{signals: make(map[string]tracked)}
}

// Track registers a freshly generated signal.
func (t *Tracker) Track(id string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.signals[id]; ok {
		return errs.Validation("signal.track", "signal %s already tracked", id)
	}
	t.signals[id] = tracked{status: StatusGenerated, at: at}
	return nil
}

// Transition moves a signal to a new status. Unknown ids and moves the
// lifecycle does not allow are validation errors.
func (t *Tracker) Transition(id string, to Status, at time.Time) error {
	const op = "signal.transition"
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.signals[id]
	if !ok {
		return errs.Validation(op, "unknown signal %s", id)
	}
	if !cur.status.can(to) {
		return errs.Validation(op, "signal %s: %s -> %s not allowed", id, cur.status, to)
	}
	t.signals[id] = tracked{status: to, at: at}
	return nil
}

func (t *Tracker) Status(id string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.signals[id]
	if !ok {
		return "", fmt.Errorf("unknown signal %s", id)
	}
	return cur.status, nil
}

// Prune drops terminal signals last updated before cutoff and returns how
// many were removed.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.signals {
		if s.status.Terminal() && s.at.Before(cutoff) {
			delete(t.signals, id)
			n++
		}
	}
	return n
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.signals)
}
