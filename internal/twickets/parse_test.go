package twickets

import (
	"testing"
)

func TestParseListings(t *testing.T) {
	body := []byte(`{
		"responseData": [
			{
				"id": "1001@145215650",
				"splits": [2, 1],
				"type": "Seated",
				"area": "Stalls",
				"section": "B12",
				"row": "4",
				"pricing": {"prices": [{"netSellingPrice": 9550}]}
			},
			{
				"id": 145215651,
				"splits": [1],
				"type": "Standing",
				"area": "Pit",
				"section": "GA",
				"row": "",
				"pricing": {"prices": [{"netSellingPrice": 12000}]}
			}
		]
	}`)

	listings, err := parseListings(body)
	if err != nil {
		t.Fatalf("parseListings: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	first := listings[0]
	if first.ID != "145215650" {
		t.Errorf("expected id suffix after @, got %q", first.ID)
	}
	if first.Seats != 2 {
		t.Errorf("expected seats from splits[0]=2, got %d", first.Seats)
	}
	if first.Price != 9550 {
		t.Errorf("expected price in pence 9550, got %d", first.Price)
	}
	if first.Pounds() != 95.50 {
		t.Errorf("expected £95.50, got %.2f", first.Pounds())
	}
	if first.Section != "B12" || first.Row != "4" || first.Area != "Stalls" {
		t.Errorf("unexpected location fields: %+v", first)
	}

	// Bare-number id has no separator: the whole value is the listing id.
	if listings[1].ID != "145215651" {
		t.Errorf("expected bare id kept whole, got %q", listings[1].ID)
	}
}

func TestParseListings_SkipsMalformedRecords(t *testing.T) {
	body := []byte(`{
		"responseData": [
			{"id": "x@1", "splits": [], "pricing": {"prices": []}},
			{"id": "x@2", "splits": [3], "section": "A",
			 "pricing": {"prices": [{"netSellingPrice": 100}]}}
		]
	}`)
	listings, err := parseListings(body)
	if err != nil {
		t.Fatalf("parseListings: %v", err)
	}
	if len(listings) != 1 || listings[0].ID != "2" {
		t.Fatalf("expected only the well-formed record, got %+v", listings)
	}
}

func TestParseListings_EmptyAndMalformedPayload(t *testing.T) {
	listings, err := parseListings([]byte(`{}`))
	if err != nil {
		t.Fatalf("empty payload must not error: %v", err)
	}
	if len(listings) != 0 {
		t.Errorf("expected no listings, got %d", len(listings))
	}

	if _, err := parseListings([]byte(`not json`)); err == nil {
		t.Error("undecodable payload must be a cycle-level error")
	}
}

func TestParseAvailability(t *testing.T) {
	avail, err := parseAvailability([]byte(`{
		"available": true,
		"block": {"blockId": "B-778812"},
		"deliveryPlan": [
			{"deliveryMethod": 1, "title": "Meetup"},
			{"deliveryMethod": 2, "title": "E-ticket"}
		]
	}`))
	if err != nil {
		t.Fatalf("parseAvailability: %v", err)
	}
	if !avail.Available {
		t.Error("expected available")
	}
	if avail.Block == nil || avail.Block.BlockID != "B-778812" {
		t.Errorf("unexpected block: %+v", avail.Block)
	}
	if len(avail.DeliveryPlan) != 2 || avail.DeliveryPlan[0].Method != 1 {
		t.Errorf("unexpected delivery plan: %+v", avail.DeliveryPlan)
	}
}

func TestParseAvailability_AvailableWithoutBlock(t *testing.T) {
	avail, err := parseAvailability([]byte(`{"available": true}`))
	if err != nil {
		t.Fatalf("available-without-block is a valid response: %v", err)
	}
	if !avail.Available || avail.Block != nil {
		t.Errorf("expected available=true with nil block, got %+v", avail)
	}

	avail, err = parseAvailability([]byte(`{"available": false}`))
	if err != nil {
		t.Fatalf("parseAvailability: %v", err)
	}
	if avail.Available {
		t.Error("expected unavailable")
	}
}

func TestURLBuilders(t *testing.T) {
	c := New(Config{APIKey: "k"}, nil)
	if got := c.BlockURL("B-9", 2); got != "https://www.twickets.live/app/block/B-9,2" {
		t.Errorf("unexpected block URL: %q", got)
	}
	if got := c.EventURL("214069061"); got != "https://www.twickets.live/event/214069061" {
		t.Errorf("unexpected event URL: %q", got)
	}
}
