// Package ledger provides the in-memory dedup ledger: the per-identity
// processing history that enforces at-most-one open action per listing ID
// for the lifetime of the process.
//
// Entries are never deleted. An identity that stops appearing in polls
// simply stops being updated and remains at its last outcome for display.
// State does not survive a restart; that is a deliberate capacity/scope
// trade-off inherited from the single-event, single-operator design.
package ledger

import (
	"sort"
	"sync"
	"time"

	"twicket-botv1/internal/model"
)

// Ledger maps ticket identities to their last-known processing outcome.
// The monitoring loop is the only writer; the mutex exists so that display
// snapshots and any future concurrent readers see consistent state, and so
// the RecordObservation/HasActed/SetOutcome sequence stays safe if the loop
// is ever made concurrent.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*model.LedgerEntry
	acted   map[string]struct{} // listing IDs that ever reached Opened
	opened  int
	now     func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*model.LedgerEntry),
		acted:   make(map[string]struct{}),
		now:     time.Now,
	}
}

// RecordObservation inserts a new entry on first sight of an identity
// (outcome Checking) or, on a repeat sight, overwrites the mutable display
// fields and resets the outcome to Checking. Entries are never removed.
// Returns a copy of the entry after the update.
func (l *Ledger) RecordObservation(id model.Identity, price int64) model.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := id.Key()
	e, ok := l.entries[key]
	if !ok {
		e = &model.LedgerEntry{Identity: id}
		l.entries[key] = e
	}
	e.Price = price
	e.Outcome = model.OutcomeChecking
	e.LastSeen = l.now()
	return *e
}

// SetOutcome records the terminal-for-this-cycle status for an identity.
// Opened is the only outcome that is sticky across cycles: it marks the
// listing ID as acted, which HasActed reports forever after. Setting an
// outcome for an unknown identity is a no-op.
// Returns a copy of the entry after the update and whether it existed.
func (l *Ledger) SetOutcome(id model.Identity, outcome model.Outcome) (model.LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id.Key()]
	if !ok {
		return model.LedgerEntry{}, false
	}
	e.Outcome = outcome
	if outcome == model.OutcomeOpened {
		if _, dup := l.acted[id.ListingID]; !dup {
			l.acted[id.ListingID] = struct{}{}
			l.opened++
		}
	}
	return *e, true
}

// HasActed reports whether this listing ID has ever reached the Opened
// outcome. The guard is keyed by listing ID alone: a reissued listing with
// a new ID is eligible again, the same ID never is.
func (l *Ledger) HasActed(id model.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.acted[id.ListingID]
	return ok
}

// Len returns the number of distinct identities ever observed.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Opened returns the number of distinct listing IDs acted on.
func (l *Ledger) Opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

// Snapshot returns copies of all entries, most recently seen first.
// Ties keep a stable order by identity key.
func (l *Ledger) Snapshot() []model.LedgerEntry {
	l.mu.Lock()
	out := make([]model.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Identity.Key() < out[j].Identity.Key()
	})
	return out
}
