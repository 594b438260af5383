package model

import (
	"fmt"
	"time"
)

// Listing represents one marketplace listing snapshot from a poll of the
// event listings endpoint. Price is stored as int64 in pence (1 GBP = 100
// pence) to avoid float drift. A listing is never mutated; the next poll
// supersedes it with a fresh snapshot under the same ID.
type Listing struct {
	ID      string `json:"id"`
	Seats   int    `json:"seats"`
	Type    string `json:"type"`
	Area    string `json:"area"`
	Section string `json:"section"`
	Row     string `json:"row"`
	Price   int64  `json:"price"` // pence
}

// Pounds returns the listing price in pounds.
func (l *Listing) Pounds() float64 {
	return float64(l.Price) / 100
}

// Identity is the dedup key for a listing: section, row, seat count, and
// listing ID. Two listings with the same section/row/seats but different IDs
// are distinct (the marketplace may reissue a listing); the same ID
// re-observed is the same identity.
type Identity struct {
	Section   string `json:"section"`
	Row       string `json:"row"`
	Seats     int    `json:"seats"`
	ListingID string `json:"listing_id"`
}

// IdentityOf derives the dedup identity for a listing.
func IdentityOf(l Listing) Identity {
	return Identity{
		Section:   l.Section,
		Row:       l.Row,
		Seats:     l.Seats,
		ListingID: l.ID,
	}
}

// Key returns a unique string key for this identity: "section-row-seats-id".
func (id Identity) Key() string {
	return fmt.Sprintf("%s-%s-%d-%s", id.Section, id.Row, id.Seats, id.ListingID)
}

// DeliveryOption is one delivery method offered for a ticket block.
type DeliveryOption struct {
	Method int    `json:"delivery_method"`
	Title  string `json:"title"`
}

// DeliveryMeetup is the marketplace delivery-method code for in-person
// meetup handover, distinct from the postal and e-ticket codes.
const DeliveryMeetup = 1

// Block carries the marketplace-assigned identifier required to construct
// the purchase-flow URL for a listing.
type Block struct {
	BlockID string `json:"block_id"`
}

// Availability is the outcome of a live availability re-check for a specific
// listing. Available=false and a nil Block on an Available=true response are
// both valid, distinct outcomes.
type Availability struct {
	Available    bool             `json:"available"`
	Block        *Block           `json:"block,omitempty"`
	DeliveryPlan []DeliveryOption `json:"delivery_plan,omitempty"`
}

// Outcome is the terminal-for-this-cycle status assigned to an identity.
// Values double as the operator-facing status labels.
type Outcome string

const (
	OutcomeChecking      Outcome = "Checking..."
	OutcomeSkipped       Outcome = "Skipped"
	OutcomeUnavailable   Outcome = "No Longer Available"
	OutcomeNoBlockInfo   Outcome = "No Block Info"
	OutcomeAlreadyOpened Outcome = "Already Opened"
	OutcomeOpened        Outcome = "Opened in Browser"
	OutcomeFailedToOpen  Outcome = "Failed to Open"
)

// LedgerEntry is the per-identity processing record. Created on first
// observation, updated in place on every repeat sight, never deleted.
type LedgerEntry struct {
	Identity Identity  `json:"identity"`
	Price    int64     `json:"price"` // pence, latest observed
	Outcome  Outcome   `json:"outcome"`
	LastSeen time.Time `json:"last_seen"`
}

// Pounds returns the entry's latest observed price in pounds.
func (e *LedgerEntry) Pounds() float64 {
	return float64(e.Price) / 100
}
