package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"stockfetch/internal/provider"
)

// DividendsRequest asks for the first ex-dividend date of symbol on or
// after from.
func (e Endpoint) DividendsRequest(ctx context.Context, baseURL, symbol string, from time.Time) (*http.Request, error) {
	q := url.Values{}
	q.Set("ticker", symbol)
	q.Set("ex_dividend_date.gte", from.Format(provider.DateLayout))
	q.Set("order", "asc")
	q.Set("sort", "ex_dividend_date")
	q.Set("limit", "1")
	q.Set("apiKey", e.APIKey)
	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v3/reference/dividends?"+q.Encode(), nil)
}

type dividendsResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Ticker         string `json:"ticker"`
		ExDividendDate string `json:"ex_dividend_date"`
	} `json:"results"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseNextDividend returns the first ex-dividend date in a reference
// response. ok is false when the ticker has no upcoming dividend.
func ParseNextDividend(body []byte) (date time.Time, ok bool, err error) {
	var resp dividendsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, false, fmt.Errorf("decode dividends response: %w", err)
	}
	if resp.Status != "OK" {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return time.Time{}, false, fmt.Errorf("polygon status %q: %s", resp.Status, msg)
	}
	if len(resp.Results) == 0 || resp.Results[0].ExDividendDate == "" {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(provider.DateLayout, resp.Results[0].ExDividendDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse ex_dividend_date: %w", err)
	}
	return d, true, nil
}

// Dividends looks up upcoming ex-dividend dates. It shares the transport,
// limiter and retry policy of a quotes client.
type Dividends struct {
	client   *provider.Client
	endpoint Endpoint
}

// NewDividends returns a Dividends client. Options are applied as in NewClient.
func NewDividends(e Endpoint, options ...provider.Option) (*Dividends, error) {
	c, err := NewClient(e, options...)
	if err != nil {
		return nil, err
	}
	return &Dividends{client: c, endpoint: e}, nil
}

func (d *Dividends) Name() string { return d.client.Name() }

// NextExDividend returns the first ex-dividend date of symbol on or after
// from. ok is false when none is announced.
func (d *Dividends) NextExDividend(ctx context.Context, symbol string, from time.Time) (date time.Time, ok bool, err error) {
	err = d.client.Call(ctx, symbol,
		func(ctx context.Context, baseURL string) (*http.Request, error) {
			return d.endpoint.DividendsRequest(ctx, baseURL, symbol, from)
		},
		func(body []byte) error {
			date, ok, err = ParseNextDividend(body)
			return err
		},
	)
	if err != nil {
		return time.Time{}, false, err
	}
	return date, ok, nil
}
