package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"twicket-botv1/internal/events"
	"twicket-botv1/internal/model"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(JournalConfig{DBPath: filepath.Join(t.TempDir(), "journal.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func ticketEvent(listingID string, outcome model.Outcome, url string) events.Event {
	entry := model.LedgerEntry{
		Identity: model.Identity{Section: "A", Row: "1", Seats: 2, ListingID: listingID},
		Price:    4500,
		Outcome:  outcome,
		LastSeen: time.Now(),
	}
	return events.Ticket(entry, url)
}

func TestJournal_RecordsSightingsAndActions(t *testing.T) {
	j := newTestJournal(t)

	ch := make(chan events.Event, 8)
	ch <- ticketEvent("id-1", model.OutcomeSkipped, "")
	ch <- ticketEvent("id-2", model.OutcomeOpened, "https://example.test/block/B1,2")
	ch <- events.Status(events.LevelInfo, "ignored by the journal")
	close(ch)

	j.Run(context.Background(), ch)

	var sightings int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM sightings`).Scan(&sightings); err != nil {
		t.Fatal(err)
	}
	if sightings != 2 {
		t.Errorf("sightings = %d, want 2", sightings)
	}

	opened, err := j.OpenedCount()
	if err != nil {
		t.Fatal(err)
	}
	if opened != 1 {
		t.Errorf("actions = %d, want 1", opened)
	}

	var url string
	if err := j.db.QueryRow(`SELECT url FROM actions WHERE listing_id = ?`, "id-2").Scan(&url); err != nil {
		t.Fatal(err)
	}
	if url != "https://example.test/block/B1,2" {
		t.Errorf("action url = %q", url)
	}
}

func TestJournal_FlushOnCancel(t *testing.T) {
	j := newTestJournal(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan events.Event, 8)
	done := make(chan struct{})
	go func() {
		j.Run(ctx, ch)
		close(done)
	}()

	ch <- ticketEvent("id-1", model.OutcomeUnavailable, "")
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM sightings`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("sightings after cancel = %d, want 1", n)
	}
}
