// Package notification provides alert delivery to external channels
// (Discord webhooks, Telegram) for monitoring events. Delivery is
// best-effort: failures are logged and never surfaced to the monitoring
// loop.
package notification

import (
	"context"
	"fmt"
	"log"

	"twicket-botv1/internal/model"
)

// Alert represents a notification to be sent.
type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`   // optional link target
	Color   int    `json:"color,omitempty"` // 0xRRGGBB accent for backends that support it
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// Started builds the "monitoring started" alert.
func Started(eventURL string) Alert {
	return Alert{
		Title:   "Twicket Bot Started",
		Message: "Bot has started monitoring for tickets!",
		URL:     eventURL,
		Color:   0x0099ff,
	}
}

// TicketOpened builds the "ticket found & opened" alert.
func TicketOpened(entry model.LedgerEntry, ticketURL string) Alert {
	return Alert{
		Title: "Ticket Found & Opened!",
		Message: fmt.Sprintf(
			"Found available ticket and opened in browser!\nSection: %s\nRow: %s\nSeats: %d\nPrice: £%.2f",
			entry.Identity.Section, entry.Identity.Row, entry.Identity.Seats, entry.Pounds()),
		URL:   ticketURL,
		Color: 0x00ff00,
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development
// and as the fallback when no backend is configured).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] %s: %s %s", alert.Title, alert.Message, alert.URL)
	return nil
}

// Multi fans an alert out to several backends. Individual failures are
// logged; Send never returns an error.
type Multi struct {
	backends []Notifier
}

// NewMulti creates a fan-out notifier over the given backends.
func NewMulti(backends ...Notifier) *Multi {
	return &Multi{backends: backends}
}

func (m *Multi) Send(ctx context.Context, alert Alert) error {
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery failed: %v", err)
		}
	}
	return nil
}
