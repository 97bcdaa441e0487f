package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"stockfetch/internal/provider/ratelimit"
	"stockfetch/internal/retry"
)

// Provider keys accepted in universes.*.provider.
const (
	ProviderYahoo   = "yahoo"
	ProviderPolygon = "polygon"
)

type Output struct {
	Dir        string `yaml:"dir"`
	StatusFile string `yaml:"status_file"`
	// PageFile is the static status page; empty disables it.
	PageFile string `yaml:"page_file"`
}

type Download struct {
	TradingDays         int  `yaml:"trading_days"`
	ShuffleSymbols      bool `yaml:"shuffle_symbols"`
	ProgressEvery       int  `yaml:"progress_every"`
	ConcurrentUniverses bool `yaml:"concurrent_universes"`
	HTTPTimeoutSec      int  `yaml:"http_timeout_sec"`
	HealthTimeoutSec    int  `yaml:"health_timeout_sec"`
}

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimit struct {
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
	MinDelayMs           int `yaml:"min_delay_ms"`
	MaxDelayMs           int `yaml:"max_delay_ms"`
	PauseEvery           int `yaml:"pause_every"`
	PauseMinSec          int `yaml:"pause_min_sec"`
	PauseMaxSec          int `yaml:"pause_max_sec"`
}

// Policy converts the section into a limiter policy.
func (r RateLimit) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		MaxRequests: r.MaxRequestsPerMinute,
		Window:      time.Minute,
		MinDelay:    time.Duration(r.MinDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		PauseEvery:  r.PauseEvery,
		PauseMin:    time.Duration(r.PauseMinSec) * time.Second,
		PauseMax:    time.Duration(r.PauseMaxSec) * time.Second,
	}
}

type Retry struct {
	MaxAttempts  int `yaml:"max_attempts"`
	BaseDelaySec int `yaml:"base_delay_sec"`
	MaxDelaySec  int `yaml:"max_delay_sec"`
}

// Policy converts the section into a retry policy.
func (r Retry) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		Base:        time.Duration(r.BaseDelaySec) * time.Second,
		Max:         time.Duration(r.MaxDelaySec) * time.Second,
	}
}

type Yahoo struct {
	BaseURL     string    `yaml:"base_url"`
	ProbeSymbol string    `yaml:"probe_symbol"`
	UserAgents  []string  `yaml:"user_agents"`
	RateLimit   RateLimit `yaml:"rate_limit"`
	Retry       Retry     `yaml:"retry"`
}

type Polygon struct {
	BaseURL     string    `yaml:"base_url"`
	APIKey      string    `yaml:"api_key"`
	ProbeSymbol string    `yaml:"probe_symbol"`
	RateLimit   RateLimit `yaml:"rate_limit"`
	Retry       Retry     `yaml:"retry"`
}

type Universe struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	// Symbols replaces the embedded list when non-empty.
	Symbols []string `yaml:"symbols"`
}

// Dividends configures the weekly ex-dividend job.
type Dividends struct {
	File string `yaml:"file"`
	// Universe selects the symbol list; its provider is not used, dates
	// always come from Polygon.
	Universe string `yaml:"universe"`
}

type Universes struct {
	TA125 Universe `yaml:"ta125"`
	SP500 Universe `yaml:"sp500"`
}

// Get returns the section of the universe with the given key.
func (u Universes) Get(key string) (Universe, bool) {
	switch key {
	case "ta125":
		return u.TA125, true
	case "sp500":
		return u.SP500, true
	default:
		return Universe{}, false
	}
}

type Config struct {
	Output    Output    `yaml:"output"`
	Download  Download  `yaml:"download"`
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Yahoo     Yahoo     `yaml:"yahoo"`
	Polygon   Polygon   `yaml:"polygon"`
	Universes Universes `yaml:"universes"`
	Dividends Dividends `yaml:"dividends"`
}

func Default() Config {
	return Config{
		Output: Output{
			Dir:        "data",
			StatusFile: "download_status.json",
			PageFile:   "index.html",
		},
		Download: Download{
			TradingDays:      50,
			ProgressEvery:    10,
			HTTPTimeoutSec:   30,
			HealthTimeoutSec: 15,
		},
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Log:    Log{Level: "info", Format: "json"},
		Yahoo: Yahoo{
			ProbeSymbol: "AAPL",
			RateLimit: RateLimit{
				MaxRequestsPerMinute: 15,
				MinDelayMs:           25000,
				MaxDelayMs:           30000,
				PauseEvery:           5,
				PauseMinSec:          45,
				PauseMaxSec:          60,
			},
			Retry: Retry{MaxAttempts: 5, BaseDelaySec: 5, MaxDelaySec: 120},
		},
		Polygon: Polygon{
			ProbeSymbol: "AAPL",
			RateLimit: RateLimit{
				MaxRequestsPerMinute: 5,
				MinDelayMs:           12000,
				MaxDelayMs:           12000,
				PauseEvery:           5,
				PauseMinSec:          120,
				PauseMaxSec:          120,
			},
			Retry: Retry{MaxAttempts: 3, BaseDelaySec: 5, MaxDelaySec: 120},
		},
		Universes: Universes{
			TA125: Universe{Enabled: true, Provider: ProviderYahoo},
			SP500: Universe{Enabled: true, Provider: ProviderPolygon},
		},
		Dividends: Dividends{File: "Shazam-Stock-Earn-Div.csv", Universe: "sp500"},
	}
}

// Load builds the configuration: defaults, then the YAML (or JSON) file at
// path with ${VAR} expansion, then environment overrides. Variables from a
// .env file in the working directory are loaded first without replacing
// ones already set. If path is empty, config.yaml or config.json is used
// when present; a missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("STATUS_FILE"); v != "" {
		cfg.Output.StatusFile = v
	}
	if err := envInt("TRADING_DAYS", &cfg.Download.TradingDays); err != nil {
		return err
	}
	if v := os.Getenv("SHUFFLE_SYMBOLS"); v != "" {
		parseBool(v, &cfg.Download.ShuffleSymbols)
	}
	if v := os.Getenv("CONCURRENT_UNIVERSES"); v != "" {
		parseBool(v, &cfg.Download.ConcurrentUniverses)
	}
	if err := envInt("HTTP_TIMEOUT_SEC", &cfg.Download.HTTPTimeoutSec); err != nil {
		return err
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if err := envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec); err != nil {
		return err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("YAHOO_BASE_URL"); v != "" {
		cfg.Yahoo.BaseURL = v
	}
	if v := os.Getenv("YAHOO_USER_AGENTS"); v != "" {
		cfg.Yahoo.UserAgents = splitList(v, "|")
	}
	if v := os.Getenv("POLYGON_BASE_URL"); v != "" {
		cfg.Polygon.BaseURL = v
	}
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Polygon.APIKey = v
	}
	if v := os.Getenv("TA125_SYMBOLS"); v != "" {
		cfg.Universes.TA125.Symbols = splitList(v, ",")
	}
	if v := os.Getenv("SP500_SYMBOLS"); v != "" {
		cfg.Universes.SP500.Symbols = splitList(v, ",")
	}
	return nil
}

// envInt sets dst from the integer variable key when it is set.
func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	x, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	*dst = x
	return nil
}

func parseBool(v string, dst *bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func splitList(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
