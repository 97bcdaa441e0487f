package ratelimit

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"stockfetch/internal/clock"
)

// Policy describes how fast a single upstream may be called.
//   - MaxRequests/Window: rolling-window cap; zero disables it.
//   - MinDelay/MaxDelay: spacing since the previous grant, drawn uniformly
//     from [MinDelay, MaxDelay].
//   - PauseEvery/PauseMin/PauseMax: after every PauseEvery grants, an extended
//     pause drawn from [PauseMin, PauseMax] precedes the next one.
type Policy struct {
	MaxRequests int
	Window      time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	PauseEvery  int
	PauseMin    time.Duration
	PauseMax    time.Duration
}

// Limiter gates calls to one provider. Callers are serialized: a waiting
// Acquire holds the limiter until it is granted or its context is done.
type Limiter struct {
	policy Policy
	clock  clock.Clock
	int64n func(n int64) int64
	logger *slog.Logger
	name   string

	mu         sync.Mutex
	granted    []time.Time // grants inside the current window, oldest first
	last       time.Time
	sincePause int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithRand sets the random source used for spacing and pauses. f must
// return a value in [0, n).
func WithRand(f func(n int64) int64) Option {
	return func(l *Limiter) { l.int64n = f }
}

// WithLogger sets the logger and the provider name used in log lines.
func WithLogger(logger *slog.Logger, name string) Option {
	return func(l *Limiter) {
		l.logger = logger
		l.name = name
	}
}

func New(p Policy, opts ...Option) *Limiter {
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.PauseMax < p.PauseMin {
		p.PauseMax = p.PauseMin
	}
	l := &Limiter{
		policy: p,
		clock:  clock.Real{},
		int64n: rand.Int64N,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the configured policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Acquire blocks until the next request may be issued and records it.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.policy
	if p.PauseEvery > 0 && l.sincePause >= p.PauseEvery {
		d := l.between(p.PauseMin, p.PauseMax)
		l.logger.Info("rate limiter extended pause",
			"provider", l.name,
			"after", l.sincePause,
			"pause", d,
		)
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
		l.sincePause = 0
	}

	if !l.last.IsZero() {
		gap := l.between(p.MinDelay, p.MaxDelay)
		if wait := l.last.Add(gap).Sub(l.clock.Now()); wait > 0 {
			l.logger.Debug("rate limiter spacing", "provider", l.name, "wait", wait)
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	windowed := p.MaxRequests > 0 && p.Window > 0
	for windowed {
		now := l.clock.Now()
		l.prune(now)
		if len(l.granted) < p.MaxRequests {
			break
		}
		wait := l.granted[0].Add(p.Window).Sub(now)
		l.logger.Info("rate limit reached, waiting",
			"provider", l.name,
			"max_requests", p.MaxRequests,
			"window", p.Window,
			"wait", wait,
		)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	now := l.clock.Now()
	if windowed {
		l.granted = append(l.granted, now)
	}
	l.last = now
	l.sincePause++
	return nil
}

// prune drops grants that have left the window ending at now.
func (l *Limiter) prune(now time.Time) {
	i := 0
	for i < len(l.granted) && now.Sub(l.granted[i]) >= l.policy.Window {
		i++
	}
	if i > 0 {
		l.granted = append(l.granted[:0], l.granted[i:]...)
	}
}

func (l *Limiter) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(l.int64n(int64(hi-lo)+1))
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return l.clock.Sleep(ctx, d)
}
