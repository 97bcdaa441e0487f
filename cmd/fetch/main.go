package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stockfetch/internal/config"
	"stockfetch/internal/download"
	"stockfetch/internal/export"
	"stockfetch/internal/health"
	"stockfetch/internal/httpx"
	"stockfetch/internal/logger"
	"stockfetch/internal/provider"
	"stockfetch/internal/status"
)

const (
	jobQuotes    = "quotes"
	jobDividends = "dividends"
)

func main() {
	os.Exit(run())
}

// options holds the command line. Overrides apply only to flags that were
// given explicitly, so config and environment values survive otherwise.
type options struct {
	configPath   string
	outputDir    string
	universesCSV string
	tradingDays  int
	timeout      int
	shuffle      bool
	concurrent   bool
	logLevel     string
	job          string
	set          map[string]bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml or config.json (optional)")
	fs.StringVar(&o.outputDir, "output-dir", "", "directory for CSV and status files (overrides config)")
	fs.StringVar(&o.universesCSV, "universes", getenv("UNIVERSES", ""), "comma-separated universes to download (ta125,sp500); empty means all enabled")
	fs.IntVar(&o.tradingDays, "trading-days", 0, "trading days kept per symbol (overrides config)")
	fs.IntVar(&o.timeout, "timeout", 0, "per-request HTTP timeout in seconds (overrides config)")
	fs.BoolVar(&o.shuffle, "shuffle", false, "randomize symbol order (overrides config)")
	fs.BoolVar(&o.concurrent, "concurrent", false, "run universes in parallel (overrides config)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	fs.StringVar(&o.job, "job", getenv("JOB", jobQuotes), "job to run: quotes (daily OHLCV) or dividends (weekly ex-dividend dates)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.job != jobQuotes && o.job != jobDividends {
		return o, fmt.Errorf("unknown job %q", o.job)
	}
	o.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

func (o options) apply(cfg *config.Config) {
	if o.set["output-dir"] {
		cfg.Output.Dir = o.outputDir
	}
	if o.set["trading-days"] {
		cfg.Download.TradingDays = o.tradingDays
	}
	if o.set["timeout"] {
		cfg.Download.HTTPTimeoutSec = o.timeout
	}
	if o.set["log-level"] {
		cfg.Log.Level = strings.ToLower(o.logLevel)
	}
	if o.set["shuffle"] {
		cfg.Download.ShuffleSymbols = o.shuffle
	}
	if o.set["concurrent"] {
		cfg.Download.ConcurrentUniverses = o.concurrent
	}
}

func run() int {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	log := logger.Init(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	httpClient := httpx.New(time.Duration(cfg.Download.HTTPTimeoutSec) * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.job == jobDividends {
		return runDividends(ctx, cfg, httpClient, log)
	}

	pipelines, err := buildPipelines(cfg, httpClient, splitCSV(opts.universesCSV), log)
	if err != nil {
		log.Error("build pipelines", "err", err)
		return 2
	}

	reporter := &status.Reporter{
		Path:   filepath.Join(cfg.Output.Dir, cfg.Output.StatusFile),
		Logger: log,
	}
	if cfg.Output.PageFile != "" {
		reporter.PagePath = filepath.Join(cfg.Output.Dir, cfg.Output.PageFile)
	}

	o := download.New(pipelines, reporter,
		download.WithOutputDir(cfg.Output.Dir),
		download.WithTradingDays(cfg.Download.TradingDays),
		download.WithShuffle(cfg.Download.ShuffleSymbols),
		download.WithProgressEvery(cfg.Download.ProgressEvery),
		download.WithConcurrentUniverses(cfg.Download.ConcurrentUniverses),
		download.WithChecker(&health.Checker{
			Timeout: time.Duration(cfg.Download.HealthTimeoutSec) * time.Second,
			Logger:  log,
		}),
		download.WithLogger(log),
	)

	st, err := o.Run(ctx)
	if err != nil {
		logRunError(log, err)
		return 1
	}
	log.Info("done", "status", st.Status, "total_symbols", st.TotalSymbols)
	return 0
}

func runDividends(ctx context.Context, cfg config.Config, httpClient provider.HTTPClient, log *slog.Logger) int {
	j, err := buildDividendsJob(cfg, httpClient, log)
	if err != nil {
		log.Error("build dividends job", "err", err)
		return 1
	}
	res, err := j.Run(ctx)
	if err != nil {
		logRunError(log, err)
		return 1
	}
	log.Info("done", "rows", res.Rows, "found", res.Found, "failed", len(res.FailedSymbols))
	return 0
}

func logRunError(log *slog.Logger, err error) {
	var werr *export.WriteError
	var exhausted *download.UniverseExhaustedError
	switch {
	case errors.As(err, &werr):
		log.Error("output could not be written", "path", werr.Path, "err", err)
	case errors.As(err, &exhausted):
		log.Error("download incomplete", "universe", exhausted.Universe, "err", err)
	default:
		log.Error("download failed", "err", err)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
