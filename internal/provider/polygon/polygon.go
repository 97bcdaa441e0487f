// Package polygon speaks the Polygon.io aggregates and reference APIs.
package polygon

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

	"stockfetch/internal/provider"
)

const (
	// Name is the display name of the provider.
	Name = "Polygon.io"
	// DefaultBaseURL is the public REST host.
	DefaultBaseURL = "https://api.polygon.io"
	// DefaultProbeSymbol is requested by health probes.
	DefaultProbeSymbol = "AAPL"
)

// ErrMissingAPIKey is returned by NewClient when no key is configured.
var ErrMissingAPIKey = errors.New("polygon: api key is required")

// Endpoint implements provider.Endpoint for daily aggregates.
type Endpoint struct {
	APIKey string
	// Location is the exchange time zone used to date bars. Defaults to
	// America/New_York.
	Location    *time.Location
	ProbeSymbol string
}

// NewClient returns a provider.Client for the aggregates API.
func NewClient(e Endpoint, options ...provider.Option) (*provider.Client, error) {
	if e.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	options = append([]provider.Option{
		provider.WithBaseURL(DefaultBaseURL),
		provider.WithHeader(http.Header{"Accept": {"application/json"}}),
	}, options...)
	return provider.NewClient(Name, e, options...)
}

func (e Endpoint) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// QuotesRequest asks for adjusted daily bars between r.From and r.To.
func (e Endpoint) QuotesRequest(ctx context.Context, baseURL, symbol string, r provider.DateRange) (*http.Request, error) {
	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", "50000")
	q.Set("apiKey", e.APIKey)

	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?%s",
		baseURL, url.PathEscape(symbol), r.From.Format(provider.DateLayout), r.To.Format(provider.DateLayout), q.Encode())
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

// ProbeRequest asks for the previous close of the probe symbol.
func (e Endpoint) ProbeRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	symbol := e.ProbeSymbol
	if symbol == "" {
		symbol = DefaultProbeSymbol
	}
	u := baseURL + "/v2/aggs/ticker/" + url.PathEscape(symbol) + "/prev?apiKey=" + url.QueryEscape(e.APIKey)
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

type aggsResponse struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	Results      []bar  `json:"results"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

type bar struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	// Timestamp is the start of the bar in Unix milliseconds.
	Timestamp int64 `json:"t"`
}

// ParseQuotes converts an aggregates response into quotes. Bars with any
// non-positive value are skipped.
func (e Endpoint) ParseQuotes(symbol string, body []byte) ([]provider.Quote, error) {
	var resp aggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode aggregates response: %w", err)
	}
	switch resp.Status {
	case "OK", "DELAYED":
	default:
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return nil, fmt.Errorf("polygon status %q: %s", resp.Status, msg)
	}
	if len(resp.Results) == 0 {
		return nil, provider.ErrNoData
	}

	loc := e.location()
	quotes := make([]provider.Quote, 0, len(resp.Results))
	for _, b := range resp.Results {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 || b.Volume <= 0 {
			continue
		}
		quotes = append(quotes, provider.Quote{
			Symbol: symbol,
			Date:   provider.Day(time.UnixMilli(b.Timestamp).In(loc)),
			Open:   decimal.NewFromFloat(b.Open).Round(4),
			High:   decimal.NewFromFloat(b.High).Round(4),
			Low:    decimal.NewFromFloat(b.Low).Round(4),
			Close:  decimal.NewFromFloat(b.Close).Round(4),
			Volume: int64(math.Round(b.Volume)),
		})
	}
	return quotes, nil
}
