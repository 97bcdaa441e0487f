// Package download runs the daily pipeline: health checks, one fetch pass
// per universe, CSV export and the status report.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stockfetch/internal/aggregate"
	"stockfetch/internal/clock"
	"stockfetch/internal/export"
	"stockfetch/internal/health"
	"stockfetch/internal/market"
	"stockfetch/internal/provider"
	"stockfetch/internal/status"
)

// State is the lifecycle of an Orchestrator.
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// DefaultTradingDays is how many trading days each CSV keeps per symbol.
	DefaultTradingDays = 50
	// DefaultOutputDir receives CSV files when WithOutputDir is not given.
	DefaultOutputDir = "data"
)

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("download: run already in progress")

// UniverseExhaustedError reports that no symbol of a universe produced
// data, so its CSV was not written.
type UniverseExhaustedError struct {
	Universe  string
	Requested int
}

func (e *UniverseExhaustedError) Error() string {
	if e.Requested == 0 {
		return fmt.Sprintf("universe %s: no symbols to download", e.Universe)
	}
	return fmt.Sprintf("universe %s: all %d symbols failed", e.Universe, e.Requested)
}

// Pipeline binds a universe to the provider that serves it.
type Pipeline struct {
	Universe market.Universe
	Provider provider.Provider
	Symbols  []string
	// Err marks a pipeline that cannot run, for example because its
	// provider has no credentials. It is reported as failed without
	// fetching anything.
	Err error
}

// Orchestrator runs pipelines and reports their outcome.
type Orchestrator struct {
	pipelines []Pipeline
	reporter  *status.Reporter
	checker   *health.Checker

	outputDir     string
	tradingDays   int
	shuffle       bool
	progressEvery int
	concurrent    bool

	clock    clock.Clock
	logger   *slog.Logger
	newRunID func() string

	mu    sync.Mutex
	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOutputDir sets the directory CSV files are written to.
func WithOutputDir(dir string) Option {
	return func(o *Orchestrator) { o.outputDir = dir }
}

// WithTradingDays sets how many trading days are kept per symbol.
func WithTradingDays(n int) Option {
	return func(o *Orchestrator) { o.tradingDays = n }
}

// WithShuffle randomizes the symbol order of every pipeline.
func WithShuffle(enabled bool) Option {
	return func(o *Orchestrator) { o.shuffle = enabled }
}

// WithProgressEvery logs progress after every n symbols; zero disables it.
func WithProgressEvery(n int) Option {
	return func(o *Orchestrator) { o.progressEvery = n }
}

// WithConcurrentUniverses runs pipelines in parallel. Each pipeline must
// use its own provider.
func WithConcurrentUniverses(enabled bool) Option {
	return func(o *Orchestrator) { o.concurrent = enabled }
}

// WithChecker sets the health checker.
func WithChecker(c *health.Checker) Option {
	return func(o *Orchestrator) { o.checker = c }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithRunID sets the run identifier generator.
func WithRunID(f func() string) Option {
	return func(o *Orchestrator) { o.newRunID = f }
}

// New returns an idle Orchestrator.
func New(pipelines []Pipeline, reporter *status.Reporter, options ...Option) *Orchestrator {
	o := &Orchestrator{
		pipelines:   pipelines,
		reporter:    reporter,
		outputDir:   DefaultOutputDir,
		tradingDays: DefaultTradingDays,
		clock:       clock.Real{},
		logger:      slog.Default(),
		newRunID:    uuid.NewString,
	}
	for _, option := range options {
		option(o)
	}
	if o.checker == nil {
		o.checker = &health.Checker{Clock: o.clock, Logger: o.logger}
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run executes one download. The status report is written even when
// pipelines fail. The returned error joins every pipeline and write
// failure; *UniverseExhaustedError and *export.WriteError can be matched
// with errors.As.
func (o *Orchestrator) Run(ctx context.Context) (status.DownloadStatus, error) {
	o.mu.Lock()
	if o.state == Running {
		o.mu.Unlock()
		return status.DownloadStatus{}, ErrAlreadyRunning
	}
	o.state = Running
	o.mu.Unlock()

	start := o.clock.Now()
	runID := o.newRunID()
	logger := o.logger.With("run_id", runID)
	logger.Info("download started", "universes", len(o.pipelines), "trading_days", o.tradingDays)

	probers := make([]health.Prober, 0, len(o.pipelines))
	for _, p := range o.pipelines {
		probers = append(probers, p.Provider)
	}
	healths := o.checker.CheckAll(ctx, probers)

	results := make([]status.UniverseResult, len(o.pipelines))
	if o.concurrent {
		var g errgroup.Group
		for i, p := range o.pipelines {
			g.Go(func() error {
				results[i] = o.runPipeline(ctx, p, logger)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, p := range o.pipelines {
			results[i] = o.runPipeline(ctx, p, logger)
		}
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	st, err := o.reporter.Report(runID, results, healths, start)
	if err != nil {
		errs = append(errs, err)
	}
	runErr := errors.Join(errs...)

	final := Completed
	if runErr != nil {
		final = Failed
	}
	o.mu.Lock()
	o.state = final
	o.mu.Unlock()

	logger.Info("download finished",
		"state", final.String(),
		"status", st.Status,
		"total_symbols", st.TotalSymbols,
		"duration_seconds", st.DurationSeconds,
	)
	return st, runErr
}

func (o *Orchestrator) runPipeline(ctx context.Context, p Pipeline, logger *slog.Logger) status.UniverseResult {
	u := p.Universe
	res := status.UniverseResult{
		Universe:  u.Key,
		Name:      u.Name,
		Provider:  p.Provider.Name(),
		Requested: len(p.Symbols),
	}
	logger = logger.With("universe", u.Key, "provider", res.Provider)

	r := u.LookbackRange(o.clock.Now(), o.tradingDays)
	res.LastTradingDay = r.To.Format(provider.DateLayout)

	if p.Err != nil {
		res.Err = fmt.Errorf("universe %s: %w", u.Key, p.Err)
		logger.Error("universe unavailable, csv not written", "err", p.Err)
		return res
	}

	syms := append([]string(nil), p.Symbols...)
	if o.shuffle {
		rand.Shuffle(len(syms), func(i, j int) { syms[i], syms[j] = syms[j], syms[i] })
	}
	logger.Info("universe started", "symbols", len(syms), "range", r.String())

	var rows []provider.Quote
	for i, sym := range syms {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("universe %s interrupted after %d of %d symbols: %w", u.Key, i, len(syms), err)
			logger.Warn("universe interrupted", "done", i, "total", len(syms), "err", err)
			return res
		}

		quotes, err := p.Provider.FetchQuotes(ctx, sym, r)
		if err == nil && len(quotes) == 0 {
			err = provider.ErrNoData
		}
		if err != nil {
			logger.Warn("symbol skipped", "symbol", sym, "err", err)
			res.FailedSymbols = append(res.FailedSymbols, sym)
		} else {
			res.Succeeded++
			rows = append(rows, quotes...)
		}

		if o.progressEvery > 0 && (i+1)%o.progressEvery == 0 && i+1 < len(syms) {
			logger.Info("progress",
				"done", i+1,
				"total", len(syms),
				"succeeded", res.Succeeded,
				"failed", len(res.FailedSymbols),
			)
		}
	}

	out := aggregate.LastTradingDays(rows, u, o.tradingDays)
	if res.Succeeded == 0 || len(out) == 0 {
		res.Err = &UniverseExhaustedError{Universe: u.Key, Requested: len(syms)}
		logger.Error("universe exhausted, csv not written", "failed", len(res.FailedSymbols))
		return res
	}

	path := filepath.Join(o.outputDir, u.File)
	if err := export.WriteCSV(path, out); err != nil {
		res.Err = err
		logger.Error("csv write failed", "path", path, "err", err)
		return res
	}
	res.File = u.File
	res.Rows = len(out)
	logger.Info("universe finished",
		"succeeded", res.Succeeded,
		"failed", len(res.FailedSymbols),
		"rows", res.Rows,
		"path", path,
	)
	return res
}
