// Package health probes providers before a run and records the outcome.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"stockfetch/internal/clock"
	"stockfetch/internal/provider"
)

// Provider health states.
const (
	StatusConnected   = "connected"
	StatusDegraded    = "degraded"
	StatusUnreachable = "unreachable"
)

// ServiceHealth is the recorded state of one provider.
type ServiceHealth struct {
	Provider           string    `json:"provider"`
	IsHealthy          bool      `json:"isHealthy"`
	Status             string    `json:"status"`
	CheckedAt          time.Time `json:"checkedAt"`
	ResponseTimeMs     float64   `json:"responseTime"`
	StatusCode         int       `json:"statusCode,omitempty"`
	RateLimitRemaining string    `json:"apiLimitRemaining,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// Prober is the part of provider.Provider a health check needs.
type Prober interface {
	Name() string
	Probe(ctx context.Context) (provider.ProbeResult, error)
}

// Checker runs single-request probes. The zero value is ready to use.
type Checker struct {
	Clock clock.Clock
	// Timeout bounds each probe; zero means no extra bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Check probes p once, without retries. It never fails: transport errors
// and unexpected statuses are recorded in the result.
func (c *Checker) Check(ctx context.Context, p Prober) ServiceHealth {
	clk := c.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	h := ServiceHealth{Provider: p.Name(), CheckedAt: clk.Now().UTC()}
	res, err := p.Probe(ctx)
	h.ResponseTimeMs = float64(res.Latency.Microseconds()) / 1000
	h.StatusCode = res.StatusCode
	h.RateLimitRemaining = res.RateLimitRemaining

	switch {
	case err != nil:
		h.Status = StatusUnreachable
		h.Error = err.Error()
	case res.StatusCode >= 200 && res.StatusCode < 300:
		h.IsHealthy = true
		h.Status = StatusConnected
	case res.StatusCode == http.StatusTooManyRequests:
		h.Status = StatusDegraded
		h.Error = fmt.Sprintf("HTTP %d", res.StatusCode)
	default:
		h.Status = StatusUnreachable
		h.Error = fmt.Sprintf("HTTP %d", res.StatusCode)
	}

	if h.IsHealthy {
		logger.Info("provider healthy", "provider", h.Provider, "response_time_ms", h.ResponseTimeMs, "rate_limit_remaining", h.RateLimitRemaining)
	} else {
		logger.Warn("provider unhealthy", "provider", h.Provider, "status", h.Status, "err", h.Error)
	}
	return h
}

// CheckAll probes every distinct provider concurrently. Results keep the
// order of first appearance.
func (c *Checker) CheckAll(ctx context.Context, probers []Prober) []ServiceHealth {
	var unique []Prober
	seen := make(map[string]bool, len(probers))
	for _, p := range probers {
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		unique = append(unique, p)
	}

	out := make([]ServiceHealth, len(unique))
	var g errgroup.Group
	for i, p := range unique {
		g.Go(func() error {
			out[i] = c.Check(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
