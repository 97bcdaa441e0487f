package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"stockfetch/internal/config"
	"stockfetch/internal/dividends"
	"stockfetch/internal/download"
	"stockfetch/internal/market"
	"stockfetch/internal/provider"
	"stockfetch/internal/provider/polygon"
	"stockfetch/internal/provider/ratelimit"
	"stockfetch/internal/provider/yahoo"
	"stockfetch/internal/symbols"
)

// buildPipelines creates one pipeline per enabled universe. Universes
// served by the same upstream share one limiter, since they share its quota.
// only, when non-empty, restricts the run to the listed universe keys.
// A universe whose provider lacks its API key still gets a pipeline, marked
// with the error, so the run reports it instead of aborting.
func buildPipelines(cfg config.Config, httpClient provider.HTTPClient, only []string, logger *slog.Logger) ([]download.Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, key := range only {
		if _, err := market.Lookup(key); err != nil {
			return nil, err
		}
	}

	limiter := newLimiters(logger).get

	var pipelines []download.Pipeline
	for _, u := range market.All() {
		ucfg, _ := cfg.Universes.Get(u.Key)
		if !ucfg.Enabled || (len(only) > 0 && !slices.Contains(only, u.Key)) {
			continue
		}

		syms, err := symbols.List(u.Key)
		if err != nil {
			return nil, err
		}
		if len(ucfg.Symbols) > 0 {
			syms = symbols.Dedupe(ucfg.Symbols)
		}

		var p provider.Provider
		switch ucfg.Provider {
		case config.ProviderYahoo:
			options := []provider.Option{
				provider.WithHTTPClient(httpClient),
				provider.WithLimiter(limiter(config.ProviderYahoo, yahoo.Name, cfg.Yahoo.RateLimit)),
				provider.WithRetry(cfg.Yahoo.Retry.Policy()),
				provider.WithLogger(logger),
			}
			if cfg.Yahoo.BaseURL != "" {
				options = append(options, provider.WithBaseURL(cfg.Yahoo.BaseURL))
			}
			if len(cfg.Yahoo.UserAgents) > 0 {
				options = append(options, provider.WithUserAgents(cfg.Yahoo.UserAgents...))
			}
			p, err = yahoo.NewClient(yahoo.Endpoint{Location: u.Location, ProbeSymbol: cfg.Yahoo.ProbeSymbol}, options...)
		case config.ProviderPolygon:
			options := []provider.Option{
				provider.WithHTTPClient(httpClient),
				provider.WithLimiter(limiter(config.ProviderPolygon, polygon.Name, cfg.Polygon.RateLimit)),
				provider.WithRetry(cfg.Polygon.Retry.Policy()),
				provider.WithLogger(logger),
			}
			if cfg.Polygon.BaseURL != "" {
				options = append(options, provider.WithBaseURL(cfg.Polygon.BaseURL))
			}
			p, err = polygon.NewClient(polygon.Endpoint{APIKey: cfg.Polygon.APIKey, Location: u.Location, ProbeSymbol: cfg.Polygon.ProbeSymbol}, options...)
		default:
			err = fmt.Errorf("unknown provider %q", ucfg.Provider)
		}
		if errors.Is(err, polygon.ErrMissingAPIKey) {
			logger.Error("universe has no credentials, it will be reported as failed", "universe", u.Key, "err", err)
			pipelines = append(pipelines, download.Pipeline{
				Universe: u,
				Provider: provider.Unavailable{ProviderName: polygon.Name, Err: err},
				Symbols:  syms,
				Err:      err,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("universe %s: %w", u.Key, err)
		}

		pipelines = append(pipelines, download.Pipeline{Universe: u, Provider: p, Symbols: syms})
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("no universe selected")
	}
	return pipelines, nil
}

// limiters hands out one limiter per upstream kind.
type limiters struct {
	logger *slog.Logger
	byKind map[string]*ratelimit.Limiter
}

func newLimiters(logger *slog.Logger) *limiters {
	return &limiters{logger: logger, byKind: map[string]*ratelimit.Limiter{}}
}

func (l *limiters) get(kind, name string, rl config.RateLimit) *ratelimit.Limiter {
	if lim, ok := l.byKind[kind]; ok {
		return lim
	}
	lim := ratelimit.New(rl.Policy(), ratelimit.WithLogger(l.logger, name))
	l.byKind[kind] = lim
	return lim
}

// buildDividendsJob looks up ex-dividend dates for the symbols of the
// configured universe through Polygon.
func buildDividendsJob(cfg config.Config, httpClient provider.HTTPClient, logger *slog.Logger) (*dividends.Job, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := market.Lookup(cfg.Dividends.Universe)
	if err != nil {
		return nil, err
	}
	syms, err := symbols.List(u.Key)
	if err != nil {
		return nil, err
	}
	if ucfg, _ := cfg.Universes.Get(u.Key); len(ucfg.Symbols) > 0 {
		syms = symbols.Dedupe(ucfg.Symbols)
	}

	options := []provider.Option{
		provider.WithHTTPClient(httpClient),
		provider.WithLimiter(newLimiters(logger).get(config.ProviderPolygon, polygon.Name, cfg.Polygon.RateLimit)),
		provider.WithRetry(cfg.Polygon.Retry.Policy()),
		provider.WithLogger(logger),
	}
	if cfg.Polygon.BaseURL != "" {
		options = append(options, provider.WithBaseURL(cfg.Polygon.BaseURL))
	}
	src, err := polygon.NewDividends(polygon.Endpoint{APIKey: cfg.Polygon.APIKey, Location: u.Location}, options...)
	if err != nil {
		return nil, err
	}
	return &dividends.Job{
		Source:        src,
		Symbols:       syms,
		Path:          filepath.Join(cfg.Output.Dir, cfg.Dividends.File),
		Location:      u.Location,
		ProgressEvery: cfg.Download.ProgressEvery,
		Logger:        logger,
	}, nil
}
