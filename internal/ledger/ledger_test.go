package ledger

import (
	"testing"
	"time"

	"twicket-botv1/internal/model"
)

func makeIdentity(section, row string, seats int, id string) model.Identity {
	return model.Identity{Section: section, Row: row, Seats: seats, ListingID: id}
}

func TestRecordObservation_InsertThenUpdate(t *testing.T) {
	l := New()
	id := makeIdentity("B12", "4", 2, "145215650")

	e := l.RecordObservation(id, 9500)
	if e.Outcome != model.OutcomeChecking {
		t.Errorf("expected Checking on first sight, got %q", e.Outcome)
	}
	if e.Price != 9500 {
		t.Errorf("expected price=9500, got %d", e.Price)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}

	// Repeat sight with a new price: same entry updated in place.
	l.SetOutcome(id, model.OutcomeSkipped)
	e = l.RecordObservation(id, 8800)
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry after repeat sight, got %d", l.Len())
	}
	if e.Price != 8800 {
		t.Errorf("expected updated price=8800, got %d", e.Price)
	}
	if e.Outcome != model.OutcomeChecking {
		t.Errorf("expected outcome reset to Checking, got %q", e.Outcome)
	}
}

func TestDistinctIdentities(t *testing.T) {
	l := New()
	// Same section/row/seats, different listing IDs: distinct identities.
	l.RecordObservation(makeIdentity("A1", "2", 2, "101"), 5000)
	l.RecordObservation(makeIdentity("A1", "2", 2, "102"), 5000)
	if l.Len() != 2 {
		t.Errorf("expected 2 distinct entries, got %d", l.Len())
	}
}

func TestHasActed_StickyAcrossCycles(t *testing.T) {
	l := New()
	id := makeIdentity("C3", "10", 1, "777")

	if l.HasActed(id) {
		t.Fatal("fresh identity must not be acted")
	}

	l.RecordObservation(id, 4200)
	l.SetOutcome(id, model.OutcomeOpened)
	if !l.HasActed(id) {
		t.Fatal("expected HasActed after Opened")
	}
	if l.Opened() != 1 {
		t.Errorf("expected opened count 1, got %d", l.Opened())
	}

	// Later cycles reset the entry to Checking and assign other outcomes;
	// none of that clears the acted guard.
	l.RecordObservation(id, 4200)
	l.SetOutcome(id, model.OutcomeAlreadyOpened)
	if !l.HasActed(id) {
		t.Error("acted guard must survive later outcomes")
	}
	l.SetOutcome(id, model.OutcomeOpened) // double-set must not double-count
	if l.Opened() != 1 {
		t.Errorf("expected opened count still 1, got %d", l.Opened())
	}
}

func TestHasActed_KeyedByListingID(t *testing.T) {
	l := New()
	l.RecordObservation(makeIdentity("B2", "1", 2, "500"), 6000)
	l.SetOutcome(makeIdentity("B2", "1", 2, "500"), model.OutcomeOpened)

	// Same listing ID observed under a different section/row: still acted.
	if !l.HasActed(makeIdentity("B3", "9", 2, "500")) {
		t.Error("acted guard is keyed by listing ID, not full identity")
	}
	// Same seats/section/row but a reissued ID: eligible again.
	if l.HasActed(makeIdentity("B2", "1", 2, "501")) {
		t.Error("a reissued listing ID must be eligible")
	}
}

func TestNonOpenedOutcomesDoNotAct(t *testing.T) {
	l := New()
	id := makeIdentity("D1", "7", 3, "900")
	l.RecordObservation(id, 12000)

	for _, o := range []model.Outcome{
		model.OutcomeSkipped,
		model.OutcomeUnavailable,
		model.OutcomeNoBlockInfo,
		model.OutcomeFailedToOpen,
	} {
		l.SetOutcome(id, o)
		if l.HasActed(id) {
			t.Errorf("outcome %q must not mark acted", o)
		}
	}
}

func TestSetOutcome_UnknownIdentity(t *testing.T) {
	l := New()
	if _, ok := l.SetOutcome(makeIdentity("Z", "1", 1, "1"), model.OutcomeSkipped); ok {
		t.Error("SetOutcome on an unknown identity must report not found")
	}
	if l.Len() != 0 {
		t.Error("SetOutcome must not create entries")
	}
}

func TestSnapshot_NewestFirst(t *testing.T) {
	l := New()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return ts }
	l.RecordObservation(makeIdentity("A", "1", 1, "1"), 100)

	l.now = func() time.Time { return ts.Add(time.Second) }
	l.RecordObservation(makeIdentity("B", "2", 2, "2"), 200)

	snap := l.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Identity.ListingID != "2" || snap[1].Identity.ListingID != "1" {
		t.Errorf("expected newest first, got %q then %q",
			snap[0].Identity.ListingID, snap[1].Identity.ListingID)
	}

	// Mutating the snapshot must not touch ledger state.
	snap[0].Outcome = model.OutcomeOpened
	if l.HasActed(makeIdentity("B", "2", 2, "2")) {
		t.Error("snapshot must be a copy")
	}
}
