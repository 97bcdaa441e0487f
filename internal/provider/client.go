package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"stockfetch/internal/clock"
	"stockfetch/internal/retry"
)

// Endpoint is the upstream-specific half of a Client: it knows how to build
// requests for one provider and how to read its responses.
type Endpoint interface {
	QuotesRequest(ctx context.Context, baseURL, symbol string, r DateRange) (*http.Request, error)
	ParseQuotes(symbol string, body []byte) ([]Quote, error)
	ProbeRequest(ctx context.Context, baseURL string) (*http.Request, error)
}

// Limiter gates outgoing requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client fetches quotes from one upstream. Every provider flavour is a
// Client configured with a different Endpoint, limiter and retry policy.
type Client struct {
	// name is the display name used in logs and status output.
	name string
	// baseURL is the base URL for the API.
	baseURL string
	// endpoint builds requests and parses responses.
	endpoint Endpoint
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// userAgents is rotated per request when non-empty.
	userAgents []string
	limiter    Limiter
	retry      retry.Policy
	clock      clock.Clock
	logger     *slog.Logger
	intn       func(n int) int
}

// Option is a configuration option for a Client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithUserAgents sets the pool of User-Agent strings picked at random per request.
func WithUserAgents(agents ...string) Option {
	return func(c *Client) {
		c.userAgents = append([]string(nil), agents...)
	}
}

// WithLimiter gates every fetch and probe behind l.
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithRetry sets the retry policy for quote requests.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithClock sets the time source used for backoff sleeps and latency.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRand sets the random source used for User-Agent rotation.
func WithRand(intn func(n int) int) Option {
	return func(c *Client) {
		c.intn = intn
	}
}

// NewClient creates a new Client named name for the given endpoint.
func NewClient(name string, endpoint Endpoint, options ...Option) (*Client, error) {
	if endpoint == nil {
		return nil, errors.New("provider: nil endpoint")
	}
	c := &Client{
		name:       name,
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		retry:      retry.Policy{MaxAttempts: 3},
		clock:      clock.Real{},
		logger:     slog.Default(),
		intn:       rand.IntN,
	}
	for _, option := range options {
		option(c)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("provider %s: base url is required", name)
	}
	return c, nil
}

func (c *Client) Name() string { return c.name }

// FetchQuotes returns the daily quotes of symbol inside r. Transport errors,
// 429 and 5xx responses are retried with exponential backoff; anything else
// fails immediately. Failures are reported as *FetchFailedError.
func (c *Client) FetchQuotes(ctx context.Context, symbol string, r DateRange) ([]Quote, error) {
	var quotes []Quote
	err := c.Call(ctx, symbol,
		func(ctx context.Context, baseURL string) (*http.Request, error) {
			return c.endpoint.QuotesRequest(ctx, baseURL, symbol, r)
		},
		func(body []byte) error {
			qs, err := c.endpoint.ParseQuotes(symbol, body)
			quotes = qs
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Symbol != symbol || !r.Contains(q.Date) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// Call sends the request built by build and hands the 2xx body to parse.
// The limiter is acquired once per Call: its window counts logical fetches,
// and retries of the same fetch do not acquire it again. Retry rules match
// FetchQuotes; build and parse errors are never retried. Failures are
// reported as *FetchFailedError for subject.
func (c *Client) Call(ctx context.Context, subject string, build func(ctx context.Context, baseURL string) (*http.Request, error), parse func(body []byte) error) error {
	fail := func(attempts int, err error) error {
		return &FetchFailedError{Provider: c.name, Symbol: subject, Attempts: attempts, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return fail(0, err)
		}
	}

	attempts, err := retry.Do(ctx, c.retry, c.clock, func(int) error {
		req, err := build(ctx, c.baseURL)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		body, err := c.do(req)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Retryable() {
				return retry.Permanent(err)
			}
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if err := parse(body); err != nil {
			return retry.Permanent(err)
		}
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("request failed, retrying",
			"provider", c.name,
			"symbol", subject,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"backoff", delay,
			"err", err,
		)
	})
	if err != nil {
		return fail(attempts, err)
	}
	return nil
}

// Probe issues the endpoint's lightweight health request once, without
// retries. A non-2xx status is reported in the result, not as an error.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return ProbeResult{}, err
		}
	}
	req, err := c.endpoint.ProbeRequest(ctx, c.baseURL)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	c.decorate(req)

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	latency := c.clock.Now().Sub(start)
	if err != nil {
		return ProbeResult{Latency: latency}, fmt.Errorf("do probe request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return ProbeResult{
		StatusCode:         resp.StatusCode,
		Latency:            latency,
		RateLimitRemaining: resp.Header.Get("X-Ratelimit-Remaining"),
	}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	c.decorate(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (c *Client) decorate(req *http.Request) {
	for key, values := range c.header {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if len(c.userAgents) > 0 && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgents[c.intn(len(c.userAgents))])
	}
}
