// Package yahoo speaks the Yahoo Finance v8 chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"stockfetch/internal/provider"
)

const (
	// Name is the display name of the provider.
	Name = "Yahoo Finance"
	// DefaultBaseURL is the public chart API host.
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	// DefaultProbeSymbol is requested by health probes.
	DefaultProbeSymbol = "AAPL"
)

// DefaultUserAgents is the browser User-Agent pool rotated per request.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// DefaultHeaders mimic a browser navigating from finance.yahoo.com.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.9,he;q=0.8"},
		"Dnt":             {"1"},
		"Cache-Control":   {"max-age=0"},
		"Referer":         {"https://finance.yahoo.com/"},
	}
}

const crumbAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Endpoint implements provider.Endpoint for the chart API.
type Endpoint struct {
	// Location is the exchange time zone; request bounds and row
	// timestamps are interpreted in it. Defaults to UTC.
	Location    *time.Location
	ProbeSymbol string
	// Intn picks crumb characters. Defaults to math/rand/v2.
	Intn func(n int) int
}

// NewClient returns a provider.Client for the chart API. Options are applied
// after the defaults, so callers may override base URL, headers and agents.
func NewClient(e Endpoint, options ...provider.Option) (*provider.Client, error) {
	options = append([]provider.Option{
		provider.WithBaseURL(DefaultBaseURL),
		provider.WithHeader(DefaultHeaders()),
		provider.WithUserAgents(DefaultUserAgents...),
	}, options...)
	return provider.NewClient(Name, e, options...)
}

func (e Endpoint) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e Endpoint) crumb() string {
	intn := e.Intn
	if intn == nil {
		intn = rand.IntN
	}
	b := make([]byte, 11)
	for i := range b {
		b[i] = crumbAlphabet[intn(len(crumbAlphabet))]
	}
	return string(b)
}

// QuotesRequest asks for daily bars from the start of r.From to the end of
// r.To in the exchange time zone.
func (e Endpoint) QuotesRequest(ctx context.Context, baseURL, symbol string, r provider.DateRange) (*http.Request, error) {
	loc := e.location()
	from := time.Date(r.From.Year(), r.From.Month(), r.From.Day(), 0, 0, 0, 0, loc)
	to := time.Date(r.To.Year(), r.To.Month(), r.To.Day(), 23, 59, 0, 0, loc)

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("includePrePost", "false")
	q.Set("events", "div,split")
	q.Set("crumb", e.crumb())

	u := baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

// ProbeRequest asks for a single day of the probe symbol.
func (e Endpoint) ProbeRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	symbol := e.ProbeSymbol
	if symbol == "" {
		symbol = DefaultProbeSymbol
	}
	u := baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?range=1d&interval=1d"
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol string `json:"symbol"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// ParseQuotes converts a chart response into quotes. Days with a missing
// value, or a non-positive open or close, are skipped.
func (e Endpoint) ParseQuotes(symbol string, body []byte) ([]provider.Quote, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chart response: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", provider.ErrNoData, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, provider.ErrNoData
	}

	result := resp.Chart.Result[0]
	series := result.Indicators.Quote[0]
	loc := e.location()

	at := func(vs []*float64, i int) (float64, bool) {
		if i >= len(vs) || vs[i] == nil || math.IsNaN(*vs[i]) {
			return 0, false
		}
		return *vs[i], true
	}

	quotes := make([]provider.Quote, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, ok1 := at(series.Open, i)
		h, ok2 := at(series.High, i)
		l, ok3 := at(series.Low, i)
		c, ok4 := at(series.Close, i)
		v, ok5 := at(series.Volume, i)
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || o <= 0 || c <= 0 {
			continue
		}
		quotes = append(quotes, provider.Quote{
			Symbol: symbol,
			Date:   provider.Day(time.Unix(ts, 0).In(loc)),
			Open:   price(o),
			High:   price(h),
			Low:    price(l),
			Close:  price(c),
			Volume: int64(math.Max(v, 0)),
		})
	}
	return quotes, nil
}

func price(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(4)
}
