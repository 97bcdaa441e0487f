package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockfetch/internal/clock"
)

// Policy bounds a retry loop: at most MaxAttempts calls, separated by
// Backoff(attempt, Base) capped at Max when Max > 0.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Backoff is the delay after failed attempt number attempt (1-based):
// base * 2^(attempt-1).
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	if attempt > 32 {
		attempt = 32
	}
	return base << (attempt - 1)
}

// Delay applies the policy cap to Backoff.
func (p Policy) Delay(attempt int) time.Duration {
	d := Backoff(attempt, p.Base)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// ExhaustedError is returned by Do when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a Permanent error, the attempt cap
// is reached or ctx is done. onRetry, if set, runs before each backoff sleep.
func Do(ctx context.Context, p Policy, clk clock.Clock, fn func(attempt int) error, onRetry func(attempt int, delay time.Duration, err error)) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if delay > 0 {
			if err := clk.Sleep(ctx, delay); err != nil {
				return attempt, err
			}
		} else if err := ctx.Err(); err != nil {
			return attempt, err
		}
	}
	return p.MaxAttempts, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
