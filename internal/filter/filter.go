// Package filter implements the acceptance filter: the pure predicate that
// decides whether a candidate listing qualifies for the open action, and if
// not, the first disqualifying reason.
package filter

import (
	"fmt"

	"twicket-botv1/internal/model"
)

// Criteria holds the operator's acceptance bounds. Immutable for the
// lifetime of the monitoring loop.
type Criteria struct {
	MinSeats   int    // inclusive lower bound
	MaxSeats   int    // exclusive upper bound
	MaxPrice   *int64 // pence; nil means no price limit
	SkipMeetup bool   // reject listings offering meetup handover
}

// Reason identifies why a candidate was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTooFewSeats
	ReasonTooManySeats
	ReasonPriceTooHigh
	ReasonUnavailable
	ReasonMeetupDelivery
)

// Decision is the filter verdict for one candidate.
type Decision struct {
	Proceed bool
	Reason  Reason
}

func proceed() Decision        { return Decision{Proceed: true} }
func reject(r Reason) Decision { return Decision{Reason: r} }

// Evaluate decides accept/reject for a candidate against the configured
// bounds. Checks run in a fixed precedence order and short-circuit on the
// first match, so the operator always learns the first disqualifying
// reason: seat minimum, seat maximum (exclusive), price cap (only when
// configured), availability, meetup delivery. Pure function, no I/O.
func Evaluate(l model.Listing, avail *model.Availability, c Criteria) Decision {
	if l.Seats < c.MinSeats {
		return reject(ReasonTooFewSeats)
	}
	if l.Seats >= c.MaxSeats {
		return reject(ReasonTooManySeats)
	}
	if c.MaxPrice != nil && l.Price > *c.MaxPrice {
		return reject(ReasonPriceTooHigh)
	}
	if avail == nil || !avail.Available {
		return reject(ReasonUnavailable)
	}
	if c.SkipMeetup {
		for _, plan := range avail.DeliveryPlan {
			if plan.Method == model.DeliveryMeetup {
				return reject(ReasonMeetupDelivery)
			}
		}
	}
	return proceed()
}

// Describe formats a rejection reason as an operator-facing status message
// for the given candidate.
func Describe(r Reason, l model.Listing) string {
	switch r {
	case ReasonTooFewSeats:
		return fmt.Sprintf("Skipping - too few seats (%d)", l.Seats)
	case ReasonTooManySeats:
		return fmt.Sprintf("Skipping - too many seats (%d)", l.Seats)
	case ReasonPriceTooHigh:
		return fmt.Sprintf("Skipping - price too high (£%.2f)", l.Pounds())
	case ReasonUnavailable:
		return "Ticket unavailable"
	case ReasonMeetupDelivery:
		return "Skipping - meetup delivery"
	default:
		return ""
	}
}
