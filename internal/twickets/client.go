// Package twickets is a client for the Twickets internal API. All calls run
// through the established browser session (see internal/browser) so they
// carry the session's cookies and user agent; the package itself only builds
// requests and decodes responses.
package twickets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"twicket-botv1/internal/browser"
	"twicket-botv1/internal/model"
)

// DefaultBaseURL is the production marketplace origin.
const DefaultBaseURL = "https://www.twickets.live"

var routes = map[string]string{
	"auth.login":       "/services/auth/login",
	"inventory.detail": "/services/inventory/%s",
	"event.listings":   "/services/g2/inventory/listings/%s",
}

// Fetcher executes an HTTP request from inside the browser session.
// *browser.Browser satisfies this.
type Fetcher interface {
	Fetch(ctx context.Context, req browser.FetchRequest) (*browser.FetchResult, error)
}

// Config holds client settings.
type Config struct {
	APIKey    string
	BaseURL   string // default: DefaultBaseURL
	UserAgent string
}

// Client calls the marketplace API through a Fetcher.
// It implements model.ListingSource.
type Client struct {
	cfg     Config
	fetcher Fetcher
}

// New creates a Client. BaseURL defaults to the production origin.
func New(cfg Config, fetcher Fetcher) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, fetcher: fetcher}
}

// Login authenticates the operator account and returns the auth token.
// An empty token or non-2xx status is an error; the caller treats any
// failure here as fatal.
func (c *Client) Login(ctx context.Context, user, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"login":       user,
		"password":    password,
		"accountType": "U",
	})
	if err != nil {
		return "", fmt.Errorf("twickets: encode login: %w", err)
	}

	loginURL := fmt.Sprintf("%s%s?api_key=%s", c.cfg.BaseURL, routes["auth.login"], url.QueryEscape(c.cfg.APIKey))
	res, err := c.fetcher.Fetch(ctx, browser.FetchRequest{
		URL:    loginURL,
		Method: "POST",
		Headers: map[string]string{
			"User-Agent":   c.cfg.UserAgent,
			"Accept":       "application/json, text/plain, */*",
			"Content-Type": "application/json",
			"Origin":       c.cfg.BaseURL,
			"Referer":      c.cfg.BaseURL + "/app/login",
		},
		Body: string(body),
	})
	if err != nil {
		return "", fmt.Errorf("twickets: login: %w", err)
	}
	if !res.OK() {
		return "", fmt.Errorf("twickets: login: status %d", res.Status)
	}

	var wire struct {
		ResponseData string `json:"responseData"`
	}
	if err := json.Unmarshal(res.Body, &wire); err != nil {
		return "", fmt.Errorf("twickets: login: decode: %w", err)
	}
	if wire.ResponseData == "" {
		return "", fmt.Errorf("twickets: login rejected")
	}
	log.Printf("[twickets] login successful (token %s...)", truncate(wire.ResponseData, 10))
	return wire.ResponseData, nil
}

// FetchListings returns all current listings for the event. A missing or
// empty responseData means no tickets are listed, not an error.
func (c *Client) FetchListings(ctx context.Context, eventID string) ([]model.Listing, error) {
	u := fmt.Sprintf("%s%s?api_key=%s",
		c.cfg.BaseURL,
		fmt.Sprintf(routes["event.listings"], url.PathEscape(eventID)),
		url.QueryEscape(c.cfg.APIKey))

	res, err := c.fetcher.Fetch(ctx, browser.FetchRequest{URL: u})
	if err != nil {
		return nil, fmt.Errorf("twickets: fetch listings: %w", err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("twickets: fetch listings: status %d", res.Status)
	}
	return parseListings(res.Body)
}

// FetchAvailability re-checks one listing for the given seat count.
// Returns nil (no result) when the endpoint responds with an unusable
// payload; the caller records that as unavailability, not a crash.
func (c *Client) FetchAvailability(ctx context.Context, listingID string, seats int) (*model.Availability, error) {
	u := fmt.Sprintf("%s%s?api_key=%s&qty=%d",
		c.cfg.BaseURL,
		fmt.Sprintf(routes["inventory.detail"], url.PathEscape(listingID)),
		url.QueryEscape(c.cfg.APIKey), seats)

	res, err := c.fetcher.Fetch(ctx, browser.FetchRequest{
		URL:     u,
		Headers: map[string]string{"User-Agent": c.cfg.UserAgent},
	})
	if err != nil {
		return nil, fmt.Errorf("twickets: fetch availability: %w", err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("twickets: fetch availability: status %d", res.Status)
	}
	return parseAvailability(res.Body)
}

// BlockURL builds the purchase-flow URL for a block and seat count.
func (c *Client) BlockURL(blockID string, seats int) string {
	return fmt.Sprintf("%s/app/block/%s,%d", c.cfg.BaseURL, blockID, seats)
}

// EventURL builds the public event page URL.
func (c *Client) EventURL(eventID string) string {
	return fmt.Sprintf("%s/event/%s", c.cfg.BaseURL, eventID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
