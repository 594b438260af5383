// Package monitor implements the poll-filter-act cycle: fetch candidate
// listings, filter them against the operator's criteria, track processing
// history in the dedup ledger, and open each qualifying ticket at most once.
package monitor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"twicket-botv1/internal/events"
	"twicket-botv1/internal/filter"
	"twicket-botv1/internal/ledger"
	"twicket-botv1/internal/model"
	"twicket-botv1/internal/notification"
)

// Config holds the immutable loop parameters, fixed at start.
type Config struct {
	EventID   string
	EventURL  string
	BaseDelay time.Duration // sleep jitters in [BaseDelay, BaseDelay*1.5)
	Criteria  filter.Criteria

	// BlockURL builds the purchase-flow URL from a block ID and seat count.
	BlockURL func(blockID string, seats int) string
}

// Monitor drives the monitoring loop. Strictly sequential: one cycle at a
// time, one candidate at a time, each fully resolved before the next. That
// makes the at-most-once open guarantee trivial without any locking beyond
// the ledger's own.
type Monitor struct {
	cfg      Config
	source   model.ListingSource
	opener   model.PageOpener
	notifier notification.Notifier
	ledger   *ledger.Ledger
	bus      *events.Bus

	// Metrics hooks (optional).
	OnCycle   func(listings int, err error, dur time.Duration)
	OnOutcome func(model.Outcome)

	rng       *rand.Rand
	processed int
}

// New creates a Monitor. The notifier may be nil; bus and ledger are
// required.
func New(cfg Config, source model.ListingSource, opener model.PageOpener,
	notifier notification.Notifier, led *ledger.Ledger, bus *events.Bus) *Monitor {
	return &Monitor{
		cfg:      cfg,
		source:   source,
		opener:   opener,
		notifier: notifier,
		ledger:   led,
		bus:      bus,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes poll cycles until ctx is cancelled. Cancellation is an
// orderly stop, not an error: Run always returns nil on interrupt. Anything
// that can go wrong inside a cycle is contained to that cycle (or to a
// single candidate) and surfaced as status events and outcomes.
func (m *Monitor) Run(ctx context.Context) error {
	m.status(events.LevelInfo, "Entering main monitoring loop")
	m.notify(notification.Started(m.cfg.EventURL))

	for {
		m.runCycle(ctx)
		if ctx.Err() != nil {
			log.Println("[monitor] stopping on cancellation")
			return nil
		}
		select {
		case <-ctx.Done():
			log.Println("[monitor] stopping on cancellation")
			return nil
		case <-time.After(m.jitteredDelay()):
		}
	}
}

// runCycle performs one fetch-filter-act pass. A fetch failure is a
// cycle-level error: logged, reported, and the loop proceeds to the next
// sleep without touching the ledger.
func (m *Monitor) runCycle(ctx context.Context) {
	start := time.Now()

	listings, err := m.source.FetchListings(ctx, m.cfg.EventID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[monitor] listings fetch failed: %v", err)
		m.status(events.LevelError, fmt.Sprintf("Error: %v", err))
		m.finishCycle(0, err, start)
		return
	}

	if len(listings) == 0 {
		m.status(events.LevelInfo, "No tickets found")
		m.finishCycle(0, nil, start)
		return
	}
	m.status(events.LevelInfo, fmt.Sprintf("%d tickets found!", len(listings)))

	// Lower sections act first when several tickets qualify in one cycle.
	// The sort is stable so same-section candidates keep listing order.
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Section < listings[j].Section
	})

	for i := range listings {
		if ctx.Err() != nil {
			return
		}
		m.processListing(ctx, listings[i])
	}
	m.finishCycle(len(listings), nil, start)
}

// processListing fully resolves one candidate: availability re-check,
// ledger observation, filter, acted guard, block check, open action.
// Every path lands in exactly one outcome; no failure here can abort the
// cycle.
func (m *Monitor) processListing(ctx context.Context, l model.Listing) {
	m.processed++
	id := model.IdentityOf(l)

	log.Printf("[monitor] found ticket - section: %s, row: %s, seats: %d, price: £%.2f",
		l.Section, l.Row, l.Seats, l.Pounds())

	// The bulk fetch may be stale; this call is authoritative. A failed
	// lookup counts as "no availability result" and rejects the candidate,
	// it never crashes the cycle.
	avail, err := m.source.FetchAvailability(ctx, l.ID, l.Seats)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[monitor] availability check failed for %s: %v", l.ID, err)
		avail = nil
	}

	m.ledger.RecordObservation(id, l.Price)

	if d := filter.Evaluate(l, avail, m.cfg.Criteria); !d.Proceed {
		outcome := model.OutcomeSkipped
		if d.Reason == filter.ReasonUnavailable {
			outcome = model.OutcomeUnavailable
		}
		m.status(events.LevelWarn, filter.Describe(d.Reason, l))
		m.setOutcome(id, outcome, "")
		return
	}

	if m.ledger.HasActed(id) {
		m.status(events.LevelInfo, fmt.Sprintf("Already opened ticket in %s Row %s", l.Section, l.Row))
		m.setOutcome(id, model.OutcomeAlreadyOpened, "")
		return
	}

	if avail.Block == nil || avail.Block.BlockID == "" {
		m.status(events.LevelWarn, fmt.Sprintf("No block information available for ticket in %s", l.Section))
		m.setOutcome(id, model.OutcomeNoBlockInfo, "")
		return
	}

	url := m.cfg.BlockURL(avail.Block.BlockID, l.Seats)
	m.status(events.LevelInfo, fmt.Sprintf("Opening ticket in browser: %s Row %s", l.Section, l.Row))

	if err := m.opener.OpenPage(ctx, url); err != nil {
		log.Printf("[monitor] failed to open ticket %s: %v", url, err)
		m.status(events.LevelError, fmt.Sprintf("Failed to open browser: %v", err))
		// Not marked acted: the same ticket may be retried next cycle.
		m.setOutcome(id, model.OutcomeFailedToOpen, "")
		return
	}

	entry := m.setOutcome(id, model.OutcomeOpened, url)
	m.status(events.LevelSuccess, fmt.Sprintf("Opened ticket page for %s Row %s!", l.Section, l.Row))
	log.Printf("[monitor] opened ticket: %s (£%.2f)", url, l.Pounds())
	m.notify(notification.TicketOpened(entry, url))
}

// setOutcome records the outcome, publishes the ticket update, and feeds
// the metrics hook. Returns the updated entry copy.
func (m *Monitor) setOutcome(id model.Identity, outcome model.Outcome, url string) model.LedgerEntry {
	entry, ok := m.ledger.SetOutcome(id, outcome)
	if !ok {
		// RecordObservation always precedes setOutcome; this is a bug guard.
		log.Printf("[monitor] outcome %q for unrecorded identity %s", outcome, id.Key())
		return model.LedgerEntry{}
	}
	m.bus.Publish(events.Ticket(entry, url))
	if m.OnOutcome != nil {
		m.OnOutcome(outcome)
	}
	return entry
}

func (m *Monitor) finishCycle(listings int, err error, start time.Time) {
	m.bus.Publish(events.CycleDone(listings, err))
	if m.OnCycle != nil {
		m.OnCycle(listings, err, time.Since(start))
	}
}

func (m *Monitor) status(level events.Level, msg string) {
	if msg == "" {
		return
	}
	log.Printf("[monitor] status: %s", msg)
	m.bus.Publish(events.Status(level, msg))
}

// notify delivers an alert without ever blocking the loop on a slow or
// failing backend.
func (m *Monitor) notify(alert notification.Alert) {
	if m.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.notifier.Send(ctx, alert); err != nil {
			log.Printf("[monitor] notification failed: %v", err)
		}
	}()
}

// jitteredDelay returns a duration uniform in [BaseDelay, BaseDelay*1.5).
// The jitter avoids a perfectly periodic polling signature upstream.
func (m *Monitor) jitteredDelay() time.Duration {
	base := float64(m.cfg.BaseDelay)
	return time.Duration(base + m.rng.Float64()*base/2)
}

// Processed returns the number of candidates processed since start.
func (m *Monitor) Processed() int {
	return m.processed
}
