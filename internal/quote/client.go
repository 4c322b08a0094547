// Package quote is the gateway to the external market-data provider
// (Finnhub). It exposes symbol quotes and symbol search; both are fallible,
// non-retrying calls. Callers decide how often to call; there is no caching
// or rate limiting here.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/metrics"
)

// DefaultBaseURL is the Finnhub REST endpoint.
const DefaultBaseURL = "https://finnhub.io/api/v1"

var (
	// ErrNoAPIKey is returned when no API credential is configured. Fatal to
	// the operation, not to the process.
	ErrNoAPIKey = errors.New("quote: FINNHUB_API_KEY is not configured")

	// ErrUpstream wraps transport failures and non-success responses from
	// the provider. Callers treat it as "price unknown this cycle".
	ErrUpstream = errors.New("quote: upstream request failed")
)

// Quote is one price snapshot for a symbol. Field names follow Finnhub's
// quote payload: c=current, d=change, dp=percent change, h=high, l=low,
// o=open, pc=previous close, t=unix timestamp.
type Quote struct {
	Current       decimal.Decimal `json:"c"`
	Change        float64         `json:"d"`
	PercentChange float64         `json:"dp"`
	High          float64         `json:"h"`
	Low           float64         `json:"l"`
	Open          float64         `json:"o"`
	PrevClose     float64         `json:"pc"`
	Timestamp     int64           `json:"t"`

	valid bool
}

// Valid reports whether the quoted price is usable. A non-finite or
// non-positive price must never be traded or triggered on.
func (q *Quote) Valid() bool { return q.valid }

// NewQuote builds a quote from an already-parsed price. Used by fake
// sources in tests; a non-positive price yields an invalid quote.
func NewQuote(price decimal.Decimal) *Quote {
	return &Quote{Current: price, valid: price.IsPositive()}
}

// Match is one symbol-search result.
type Match struct {
	Description   string `json:"description"`
	DisplaySymbol string `json:"displaySymbol"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
}

// SearchResult is the response to a symbol search.
type SearchResult struct {
	Count  int64   `json:"count"`
	Result []Match `json:"result"`
}

// Source is the capability the trade engine and alert monitor consume.
// Tests substitute fakes.
type Source interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// Client is an HTTP client for the Finnhub REST API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a client with the given API key. An empty key is allowed
// at construction; every call then fails with ErrNoAPIKey.
func NewClient(apiKey string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
	}
}

// NewClientWithBaseURL is used by tests to point the client at a local server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = baseURL
	return c
}

// Quote fetches the current price snapshot for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var wire struct {
		C  float64 `json:"c"`
		D  float64 `json:"d"`
		DP float64 `json:"dp"`
		H  float64 `json:"h"`
		L  float64 `json:"l"`
		O  float64 `json:"o"`
		PC float64 `json:"pc"`
		T  int64   `json:"t"`
	}
	if err := c.get(ctx, "quote", url.Values{"symbol": {symbol}}, &wire); err != nil {
		return nil, err
	}

	q := &Quote{
		Change:        wire.D,
		PercentChange: wire.DP,
		High:          wire.H,
		Low:           wire.L,
		Open:          wire.O,
		PrevClose:     wire.PC,
		Timestamp:     wire.T,
	}
	// decimal.NewFromFloat panics on NaN/Inf, so gate the conversion.
	if !math.IsNaN(wire.C) && !math.IsInf(wire.C, 0) && wire.C > 0 {
		q.Current = decimal.NewFromFloat(wire.C)
		q.valid = true
	}
	return q, nil
}

// Search looks up symbols matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	var res SearchResult
	if err := c.get(ctx, "search", url.Values{"q": {query}}, &res); err != nil {
		return nil, err
	}
	if res.Result == nil {
		res.Result = []Match{}
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}

	params.Set("token", c.apiKey)
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	metrics.QuoteRequests.WithLabelValues(endpoint).Inc()

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.QuoteErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	// The body is never included: provider error text must not leak to users.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.QuoteErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.QuoteErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstream, endpoint, err)
	}
	return nil
}
