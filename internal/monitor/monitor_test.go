package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"twicket-botv1/internal/events"
	"twicket-botv1/internal/filter"
	"twicket-botv1/internal/ledger"
	"twicket-botv1/internal/model"
)

type fakeSource struct {
	listings    [][]model.Listing
	errs        []error
	calls       int
	avail       map[string]*model.Availability
	availErr    map[string]error
	availChecks []string
}

func (f *fakeSource) FetchListings(ctx context.Context, eventID string) ([]model.Listing, error) {
	i := f.calls
	f.calls++
	if i >= len(f.listings) {
		i = len(f.listings) - 1
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	out := make([]model.Listing, len(f.listings[i]))
	copy(out, f.listings[i])
	return out, nil
}

func (f *fakeSource) FetchAvailability(ctx context.Context, listingID string, seats int) (*model.Availability, error) {
	f.availChecks = append(f.availChecks, listingID)
	if err, ok := f.availErr[listingID]; ok {
		return nil, err
	}
	if a, ok := f.avail[listingID]; ok {
		return a, nil
	}
	return &model.Availability{
		Available: true,
		Block:     &model.Block{BlockID: "B-" + listingID},
	}, nil
}

type fakeOpener struct {
	opened []string
	fail   int // fail the first N calls
}

func (f *fakeOpener) OpenPage(ctx context.Context, url string) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("tab refused")
	}
	f.opened = append(f.opened, url)
	return nil
}

func listing(id, section, row string, seats int, price int64) model.Listing {
	return model.Listing{ID: id, Seats: seats, Section: section, Row: row, Price: price}
}

func testConfig() Config {
	return Config{
		EventID:   "221915",
		BaseDelay: time.Millisecond,
		Criteria:  filter.Criteria{MinSeats: 1, MaxSeats: 4, SkipMeetup: true},
		BlockURL: func(blockID string, seats int) string {
			return "https://example.test/block/" + blockID
		},
	}
}

func newTestMonitor(src *fakeSource, op *fakeOpener) (*Monitor, *ledger.Ledger, *events.Bus) {
	led := ledger.New()
	bus := events.NewBus(256)
	m := New(testConfig(), src, op, nil, led, bus)
	return m, led, bus
}

func runCycles(t *testing.T, m *Monitor, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		m.runCycle(ctx)
	}
}

func TestMonitor_OpensQualifyingTicketOnce(t *testing.T) {
	tk := listing("100@777", "A", "5", 2, 4500)
	src := &fakeSource{listings: [][]model.Listing{{tk}}}
	op := &fakeOpener{}
	m, led, _ := newTestMonitor(src, op)

	runCycles(t, m, 5)

	if len(op.opened) != 1 {
		t.Fatalf("opened %d times, want exactly 1", len(op.opened))
	}
	if op.opened[0] != "https://example.test/block/B-100@777" {
		t.Errorf("opened wrong url: %s", op.opened[0])
	}
	if led.Opened() != 1 {
		t.Errorf("ledger opened = %d, want 1", led.Opened())
	}
	snap := led.Snapshot()
	if len(snap) != 1 || snap[0].Outcome != model.OutcomeAlreadyOpened {
		t.Errorf("entry after repeat polls = %+v, want Already Opened", snap)
	}
}

func TestMonitor_LowerSectionsActFirst(t *testing.T) {
	// Arrives out of order; lexical section order wins (A, A2, B) and the
	// two section-A listings keep their relative order.
	src := &fakeSource{listings: [][]model.Listing{{
		listing("4@i4", "B", "1", 2, 3000),
		listing("1@i1", "A", "1", 2, 3000),
		listing("3@i3", "A2", "1", 2, 3000),
		listing("2@i2", "A", "2", 2, 3000),
	}}}
	op := &fakeOpener{}
	m, _, _ := newTestMonitor(src, op)

	runCycles(t, m, 1)

	want := []string{"1@i1", "2@i2", "3@i3", "4@i4"}
	if len(src.availChecks) != len(want) {
		t.Fatalf("processed %d listings, want %d", len(src.availChecks), len(want))
	}
	for i, id := range want {
		if src.availChecks[i] != id {
			t.Errorf("position %d processed %s, want %s", i, src.availChecks[i], id)
		}
	}
}

func TestMonitor_FilteredTicketNeverOpened(t *testing.T) {
	src := &fakeSource{listings: [][]model.Listing{{
		listing("1@i1", "A", "1", 5, 3000), // over the max-seats bound
	}}}
	op := &fakeOpener{}
	m, led, _ := newTestMonitor(src, op)

	runCycles(t, m, 2)

	if len(op.opened) != 0 {
		t.Fatalf("opened a filtered ticket: %v", op.opened)
	}
	snap := led.Snapshot()
	if len(snap) != 1 || snap[0].Outcome != model.OutcomeSkipped {
		t.Errorf("entry = %+v, want Skipped", snap)
	}
}

func TestMonitor_UnavailableTicket(t *testing.T) {
	src := &fakeSource{
		listings: [][]model.Listing{{listing("1@i1", "A", "1", 2, 3000)}},
		avail:    map[string]*model.Availability{"1@i1": {Available: false}},
	}
	op := &fakeOpener{}
	m, led, _ := newTestMonitor(src, op)

	runCycles(t, m, 1)

	if len(op.opened) != 0 {
		t.Fatalf("opened an unavailable ticket")
	}
	if snap := led.Snapshot(); snap[0].Outcome != model.OutcomeUnavailable {
		t.Errorf("outcome = %q, want %q", snap[0].Outcome, model.OutcomeUnavailable)
	}
}

func TestMonitor_AvailabilityErrorTreatedAsUnavailable(t *testing.T) {
	src := &fakeSource{
		listings: [][]model.Listing{{listing("1@i1", "A", "1", 2, 3000)}},
		availErr: map[string]error{"1@i1": errors.New("gateway timeout")},
	}
	op := &fakeOpener{}
	m, led, _ := newTestMonitor(src, op)

	runCycles(t, m, 1)

	if len(op.opened) != 0 {
		t.Fatalf("opened despite failed availability check")
	}
	if snap := led.Snapshot(); snap[0].Outcome != model.OutcomeUnavailable {
		t.Errorf("outcome = %q, want %q", snap[0].Outcome, model.OutcomeUnavailable)
	}
}

func TestMonitor_NoBlockInfoIsRetryable(t *testing.T) {
	src := &fakeSource{
		listings: [][]model.Listing{{listing("1@i1", "A", "1", 2, 3000)}},
		avail:    map[string]*model.Availability{"1@i1": {Available: true}},
	}
	op := &fakeOpener{}
	m, led, _ := newTestMonitor(src, op)

	runCycles(t, m, 1)
	if snap := led.Snapshot(); snap[0].Outcome != model.OutcomeNoBlockInfo {
		t.Fatalf("outcome = %q, want %q", snap[0].Outcome, model.OutcomeNoBlockInfo)
	}

	// Block info appears on the next poll; the ticket must still open.
	src.avail["1@i1"] = &model.Availability{Available: true, Block: &model.Block{BlockID: "B1"}}
	runCycles(t, m, 1)

	if len(op.opened) != 1 {
		t.Fatalf("opened %d times after block info appeared, want 1", len(op.opened))
	}
}

func TestMonitor_FailedOpenIsRetriedNextCycle(t *testing.T) {
	src := &fakeSource{listings: [][]model.Listing{{listing("1@i1", "A", "1", 2, 3000)}}}
	op := &fakeOpener{fail: 1}
	m, led, _ := newTestMonitor(src, op)

	runCycles(t, m, 1)
	if snap := led.Snapshot(); snap[0].Outcome != model.OutcomeFailedToOpen {
		t.Fatalf("outcome = %q, want %q", snap[0].Outcome, model.OutcomeFailedToOpen)
	}
	if led.Opened() != 0 {
		t.Fatalf("failed open counted as opened")
	}

	runCycles(t, m, 1)
	if len(op.opened) != 1 {
		t.Fatalf("retry did not open the ticket")
	}
	if snap := led.Snapshot(); snap[0].Outcome != model.OutcomeOpened {
		t.Errorf("outcome after retry = %q, want %q", snap[0].Outcome, model.OutcomeOpened)
	}
}

func TestMonitor_FetchErrorContainedToCycle(t *testing.T) {
	tk := listing("1@i1", "A", "1", 2, 3000)
	src := &fakeSource{
		listings: [][]model.Listing{nil, {tk}},
		errs:     []error{errors.New("upstream 502"), nil},
	}
	op := &fakeOpener{}
	m, led, bus := newTestMonitor(src, op)
	sub := bus.Subscribe()

	runCycles(t, m, 2)

	if len(op.opened) != 1 {
		t.Fatalf("cycle after fetch error did not recover: opened=%d", len(op.opened))
	}
	if led.Len() != 1 {
		t.Errorf("failed cycle touched the ledger: len=%d", led.Len())
	}

	var sawErrCycle bool
	for {
		select {
		case ev := <-sub:
			if ev.Kind == events.KindCycle && ev.CycleErr != "" {
				sawErrCycle = true
			}
		default:
			if !sawErrCycle {
				t.Error("no cycle event carried the fetch error")
			}
			return
		}
	}
}

func TestMonitor_OutcomeHookSeesEveryOutcome(t *testing.T) {
	src := &fakeSource{listings: [][]model.Listing{{
		listing("1@i1", "A", "1", 2, 3000),
		listing("2@i2", "A", "2", 9, 3000),
	}}}
	m, _, _ := newTestMonitor(src, &fakeOpener{})

	got := map[model.Outcome]int{}
	m.OnOutcome = func(o model.Outcome) { got[o]++ }

	runCycles(t, m, 1)

	if got[model.OutcomeOpened] != 1 || got[model.OutcomeSkipped] != 1 {
		t.Errorf("outcome counts = %v", got)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{listings: [][]model.Listing{nil}}
	m, _, _ := newTestMonitor(src, &fakeOpener{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestMonitor_JitterWithinBounds(t *testing.T) {
	m, _, _ := newTestMonitor(&fakeSource{listings: [][]model.Listing{nil}}, &fakeOpener{})
	base := m.cfg.BaseDelay
	for i := 0; i < 1000; i++ {
		d := m.jitteredDelay()
		if d < base || d >= base+base/2 {
			t.Fatalf("delay %v outside [%v, %v)", d, base, base+base/2)
		}
	}
}
