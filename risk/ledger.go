package risk

import (
	"sort"
	"sync"
	"time"
)

// Reservation is exposure provisionally held for an approved signal until
// its execution is reconciled.
type Reservation struct {
	SignalID string    `json:"signal_id"`
	Symbol   string    `json:"symbol"`
	Notional float64   `json:"notional"` // signed
	At       time.Time `json:"at"`
}

type accountLedger struct {
	mu      sync.Mutex
	pending map[string]Reservation
}

// Ledger serialises gate decisions per account and holds the reservations
// they make. Different accounts never contend.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*accountLedger
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*accountLedger)}
}

func (l *Ledger) account(accountID string) *accountLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[accountID]
	if !ok {
		a = &accountLedger{pending: make(map[string]Reservation)}
		l.accounts[accountID] = a
	}
	return a
}

// Pending returns the account's open reservations ordered by signal id.
func (l *Ledger) Pending(accountID string) []Reservation {
	a := l.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.list()
}

// Release drops a reservation whose order did not execute.
func (l *Ledger) Release(accountID, signalID string) bool {
	return l.remove(accountID, signalID)
}

// Commit drops a reservation whose fill is now reflected in the book.
func (l *Ledger) Commit(accountID, signalID string) bool {
	return l.remove(accountID, signalID)
}

// Expire releases reservations older than cutoff and returns them.
func (l *Ledger) Expire(cutoff time.Time) []Reservation {
	l.mu.Lock()
	accts := make([]*accountLedger, 0, len(l.accounts))
	for _, a := range l.accounts {
		accts = append(accts, a)
	}
	l.mu.Unlock()

	var out []Reservation
	for _, a := range accts {
		a.mu.Lock()
		for id, r := range a.pending {
			if r.At.Before(cutoff) {
				out = append(out, r)
				delete(a.pending, id)
			}
		}
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

func (l *Ledger) remove(accountID, signalID string) bool {
	a := l.account(accountID)
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[signalID]
	delete(a.pending, signalID)
	return ok
}

func (a *accountLedger) list() []Reservation {
	out := make([]Reservation, 0, len(a.pending))
	for _, r := range a.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}
