package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the monitoring loop from concrete I/O
// implementations (the browser-backed API client, the browser tab opener),
// so the core state machine can be tested with fake ports.

// ListingSource fetches candidate listings for an event and re-checks live
// availability for a specific listing. Backed by authenticated HTTP calls
// executed through the browser session.
type ListingSource interface {
	// FetchListings returns the full current candidate list for the event.
	FetchListings(ctx context.Context, eventID string) ([]Listing, error)

	// FetchAvailability re-checks one listing for the given seat count.
	// The bulk listing fetch may be stale; this call is authoritative.
	FetchAvailability(ctx context.Context, listingID string, seats int) (*Availability, error)
}

// PageOpener opens a purchase page for the operator to complete manually.
type PageOpener interface {
	// OpenPage opens the URL in the operator's browser. A returned error
	// means the open action itself failed and may be retried later.
	OpenPage(ctx context.Context, url string) error
}
