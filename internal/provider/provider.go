package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	// Exchange time zones must resolve on images without a zone database.
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used on the wire and in output files.
const DateLayout = "2006-01-02"

// Quote is one end-of-day OHLCV row, normalized across providers.
type Quote struct {
	Symbol string          `json:"symbol"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls on a calendar day inside the range.
func (r DateRange) Contains(d time.Time) bool {
	day := Day(d)
	return !day.Before(Day(r.From)) && !day.After(Day(r.To))
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// Day truncates t to midnight UTC of its own calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ProbeResult is the outcome of a single lightweight request used for
// health checks.
type ProbeResult struct {
	StatusCode         int
	Latency            time.Duration
	RateLimitRemaining string
}

// Provider fetches daily quotes for one symbol at a time.
type Provider interface {
	Name() string
	FetchQuotes(ctx context.Context, symbol string, r DateRange) ([]Quote, error)
	Probe(ctx context.Context) (ProbeResult, error)
}

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=provider_test -destination=mock_http_client_test.go stockfetch/internal/provider HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from an upstream.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("upstream returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrNoData is returned when an upstream answers successfully but carries
// no usable rows for the symbol.
var ErrNoData = errors.New("no data")

// FetchFailedError reports that a symbol could not be fetched after all
// attempts.
type FetchFailedError struct {
	Provider string
	Symbol   string
	Attempts int
	Err      error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("%s: fetch %s failed after %d attempt(s): %v", e.Provider, e.Symbol, e.Attempts, e.Err)
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

// Unavailable stands in for a provider that could not be configured, such
// as one missing its API key. Every call fails with Err.
type Unavailable struct {
	ProviderName string
	Err          error
}

func (u Unavailable) Name() string { return u.ProviderName }

func (u Unavailable) FetchQuotes(_ context.Context, symbol string, _ DateRange) ([]Quote, error) {
	return nil, &FetchFailedError{Provider: u.ProviderName, Symbol: symbol, Err: u.Err}
}

func (u Unavailable) Probe(context.Context) (ProbeResult, error) {
	return ProbeResult{}, u.Err
}
