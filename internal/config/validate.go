package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
// API keys are not checked here: a missing key only disables the universes
// that need it, and the publish server needs none.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return errors.New("output.dir is required")
	}
	if c.Output.StatusFile == "" {
		return errors.New("output.status_file is required")
	}
	if c.Download.TradingDays < 1 {
		return errors.New("download.trading_days must be >= 1")
	}
	if c.Download.ProgressEvery < 0 {
		return errors.New("download.progress_every must be >= 0")
	}
	if c.Download.HTTPTimeoutSec < 1 {
		return errors.New("download.http_timeout_sec must be >= 1")
	}
	if c.Server.RequestTimeoutSec < 1 {
		return errors.New("server.request_timeout_sec must be >= 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	if err := c.Yahoo.RateLimit.validate("yahoo.rate_limit"); err != nil {
		return err
	}
	if err := c.Yahoo.Retry.validate("yahoo.retry"); err != nil {
		return err
	}
	if err := c.Polygon.RateLimit.validate("polygon.rate_limit"); err != nil {
		return err
	}
	if err := c.Polygon.Retry.validate("polygon.retry"); err != nil {
		return err
	}

	enabled := 0
	for _, name := range []string{"ta125", "sp500"} {
		u, _ := c.Universes.Get(name)
		if !u.Enabled {
			continue
		}
		enabled++
		switch u.Provider {
		case ProviderYahoo, ProviderPolygon:
		default:
			return fmt.Errorf("universes.%s.provider must be %s or %s, got %q", name, ProviderYahoo, ProviderPolygon, u.Provider)
		}
	}
	if enabled == 0 {
		return errors.New("at least one universe must be enabled")
	}
	if c.Dividends.File == "" {
		return errors.New("dividends.file is required")
	}
	if _, ok := c.Universes.Get(c.Dividends.Universe); !ok {
		return fmt.Errorf("dividends.universe must be ta125 or sp500, got %q", c.Dividends.Universe)
	}
	return nil
}

func (r RateLimit) validate(prefix string) error {
	if r.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("%s.max_requests_per_minute must be >= 1", prefix)
	}
	if r.MinDelayMs < 0 || r.MaxDelayMs < r.MinDelayMs {
		return fmt.Errorf("%s: need 0 <= min_delay_ms (%d) <= max_delay_ms (%d)", prefix, r.MinDelayMs, r.MaxDelayMs)
	}
	if r.PauseEvery < 0 {
		return fmt.Errorf("%s.pause_every must be >= 0", prefix)
	}
	if r.PauseMinSec < 0 || r.PauseMaxSec < r.PauseMinSec {
		return fmt.Errorf("%s: need 0 <= pause_min_sec (%d) <= pause_max_sec (%d)", prefix, r.PauseMinSec, r.PauseMaxSec)
	}
	return nil
}

func (r Retry) validate(prefix string) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be >= 1", prefix)
	}
	if r.BaseDelaySec < 0 {
		return fmt.Errorf("%s.base_delay_sec must be >= 0", prefix)
	}
	return nil
}
