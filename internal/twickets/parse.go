package twickets

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"twicket-botv1/internal/model"
)

// compositeID decodes the marketplace listing identifier, which arrives as
// either a JSON string or a bare number. Only the suffix after the "@"
// separator is the usable listing ID.
type compositeID string

func (c *compositeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = compositeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*c = compositeID(n.String())
	return nil
}

// listingID returns the usable ID: the part after the "@" separator, or the
// whole value when no separator is present.
func (c compositeID) listingID() string {
	s := string(c)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[i+1:]
	}
	return s
}

type listingRecord struct {
	ID      compositeID `json:"id"`
	Splits  []int       `json:"splits"`
	Type    string      `json:"type"`
	Area    string      `json:"area"`
	Section string      `json:"section"`
	Row     string      `json:"row"`
	Pricing struct {
		Prices []struct {
			NetSellingPrice int64 `json:"netSellingPrice"` // pence
		} `json:"prices"`
	} `json:"pricing"`
}

// parseListings decodes the bulk listings payload. Individual malformed
// records are skipped with a log line rather than failing the whole poll;
// a payload that does not decode at all is a cycle-level error.
func parseListings(body []byte) ([]model.Listing, error) {
	var wire struct {
		ResponseData []json.RawMessage `json:"responseData"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("twickets: decode listings: %w", err)
	}

	listings := make([]model.Listing, 0, len(wire.ResponseData))
	for _, raw := range wire.ResponseData {
		var rec listingRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("[twickets] skipping malformed listing record: %v", err)
			continue
		}
		if rec.ID.listingID() == "" || len(rec.Splits) == 0 || len(rec.Pricing.Prices) == 0 {
			log.Printf("[twickets] skipping incomplete listing record (id=%q)", rec.ID)
			continue
		}
		listings = append(listings, model.Listing{
			ID:      rec.ID.listingID(),
			Seats:   rec.Splits[0],
			Type:    rec.Type,
			Area:    rec.Area,
			Section: rec.Section,
			Row:     rec.Row,
			Price:   rec.Pricing.Prices[0].NetSellingPrice,
		})
	}
	return listings, nil
}

// parseAvailability decodes an inventory detail payload. available=true
// with no block is a valid response: the marketplace can report
// availability before purchase routing is resolved.
func parseAvailability(body []byte) (*model.Availability, error) {
	var wire struct {
		Available bool `json:"available"`
		Block     *struct {
			BlockID string `json:"blockId"`
		} `json:"block"`
		DeliveryPlan []struct {
			DeliveryMethod int    `json:"deliveryMethod"`
			Title          string `json:"title"`
		} `json:"deliveryPlan"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("twickets: decode availability: %w", err)
	}

	avail := &model.Availability{Available: wire.Available}
	if wire.Block != nil && wire.Block.BlockID != "" {
		avail.Block = &model.Block{BlockID: wire.Block.BlockID}
	}
	for _, p := range wire.DeliveryPlan {
		avail.DeliveryPlan = append(avail.DeliveryPlan, model.DeliveryOption{
			Method: p.DeliveryMethod,
			Title:  p.Title,
		})
	}
	return avail, nil
}
