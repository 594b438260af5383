// Package events defines the status event stream emitted by the monitoring
// loop. The loop publishes; the terminal display, the sighting journal, the
// Redis publisher and the websocket gateway are independent subscribers.
// Keeping status as an explicit stream (instead of shared mutable display
// state) lets the core run and be tested without any rendering surface.
package events

import (
	"log"
	"sync"
	"time"

	"twicket-botv1/internal/model"
)

// Kind discriminates event payloads.
type Kind string

const (
	// KindStatus is a human-readable status line for the rolling log.
	KindStatus Kind = "status"
	// KindTicket reports a ledger entry reaching an outcome this cycle.
	KindTicket Kind = "ticket"
	// KindCycle marks the end of one poll cycle.
	KindCycle Kind = "cycle"
)

// Level is a rendering hint for status lines.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// Event is one entry in the monitor's status stream.
type Event struct {
	Kind Kind      `json:"kind"`
	TS   time.Time `json:"ts"`

	// KindStatus
	Message string `json:"message,omitempty"`
	Level   Level  `json:"level,omitempty"`

	// KindTicket
	Entry *model.LedgerEntry `json:"entry,omitempty"`
	URL   string             `json:"url,omitempty"` // set when the entry was opened

	// KindCycle
	Listings int    `json:"listings,omitempty"`
	CycleErr string `json:"cycle_err,omitempty"`
}

// Status builds a status-line event.
func Status(level Level, msg string) Event {
	return Event{Kind: KindStatus, TS: time.Now(), Level: level, Message: msg}
}

// Ticket builds a ticket-update event from a ledger entry copy.
func Ticket(entry model.LedgerEntry, url string) Event {
	return Event{Kind: KindTicket, TS: time.Now(), Entry: &entry, URL: url}
}

// CycleDone builds an end-of-cycle event.
func CycleDone(listings int, err error) Event {
	e := Event{Kind: KindCycle, TS: time.Now(), Listings: listings}
	if err != nil {
		e.CycleErr = err.Error()
	}
	return e
}

// Bus broadcasts events to N subscriber channels. If a subscriber channel
// is full the event is dropped for that subscriber, so a slow consumer
// (a stalled terminal, a dead Redis) can never block the monitoring loop.
type Bus struct {
	mu      sync.RWMutex
	outputs []chan Event
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// NewBus creates a Bus with the given buffer size for subscriber channels.
func NewBus(subscriberBufferSize int) *Bus {
	return &Bus{bufSize: subscriberBufferSize}
}

// Subscribe creates and returns a new subscriber channel. All events
// published after the call are delivered to it (subject to drop-on-full).
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.outputs = append(b.outputs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for i, ch := range b.outputs {
		select {
		case ch <- ev:
		default:
			if b.OnDrop != nil {
				b.OnDrop(i)
			} else {
				log.Printf("[events] subscriber %d full, dropping %s event", i, ev.Kind)
			}
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.outputs {
		close(ch)
	}
}
