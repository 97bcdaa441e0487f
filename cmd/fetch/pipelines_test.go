package main

import (
	"flag"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stockfetch/internal/config"
	"stockfetch/internal/market"
	"stockfetch/internal/provider/polygon"
	"stockfetch/internal/provider/yahoo"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Polygon.APIKey = "pk"
	return cfg
}

func TestBuildPipelines_Defaults(t *testing.T) {
	t.Parallel()

	pipelines, err := buildPipelines(testConfig(), http.DefaultClient, nil, nil)

	require.NoError(t, err)
	require.Len(t, pipelines, 2)
	require.Equal(t, market.TA125.Key, pipelines[0].Universe.Key)
	require.Equal(t, yahoo.Name, pipelines[0].Provider.Name())
	require.Greater(t, len(pipelines[0].Symbols), 100)
	require.Equal(t, market.SP500.Key, pipelines[1].Universe.Key)
	require.Equal(t, polygon.Name, pipelines[1].Provider.Name())
	require.Contains(t, pipelines[1].Symbols, "AAPL")
}

func TestBuildPipelines_OnlyAndOverrides(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Universes.SP500.Provider = config.ProviderYahoo
	cfg.Universes.SP500.Symbols = []string{"AAPL", "MSFT", "AAPL"}

	pipelines, err := buildPipelines(cfg, http.DefaultClient, []string{"sp500"}, nil)

	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	require.Equal(t, yahoo.Name, pipelines[0].Provider.Name())
	require.Equal(t, []string{"AAPL", "MSFT"}, pipelines[0].Symbols)
}

func TestBuildPipelines_Errors(t *testing.T) {
	t.Parallel()

	_, err := buildPipelines(testConfig(), http.DefaultClient, []string{"nikkei"}, nil)
	require.ErrorIs(t, err, market.ErrUnknownUniverse)

	cfg := testConfig()
	cfg.Universes.TA125.Provider = "bloomberg"
	_, err = buildPipelines(cfg, http.DefaultClient, nil, nil)
	require.ErrorContains(t, err, "unknown provider")
}

func TestBuildPipelines_MissingPolygonKeyMarksUniverse(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := testConfig()
	cfg.Polygon.APIKey = ""

	// Act
	pipelines, err := buildPipelines(cfg, http.DefaultClient, nil, nil)

	// Assert
	require.NoError(t, err)
	require.Len(t, pipelines, 2)
	require.NoError(t, pipelines[0].Err)
	require.Equal(t, yahoo.Name, pipelines[0].Provider.Name())
	require.ErrorIs(t, pipelines[1].Err, polygon.ErrMissingAPIKey)
	require.Equal(t, polygon.Name, pipelines[1].Provider.Name())
	_, probeErr := pipelines[1].Provider.Probe(t.Context())
	require.ErrorIs(t, probeErr, polygon.ErrMissingAPIKey)
}

func TestBuildDividendsJob(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := testConfig()
	cfg.Output.Dir = "/srv/data"
	cfg.Universes.SP500.Symbols = []string{"AAPL", "MSFT", "AAPL"}

	// Act
	job, err := buildDividendsJob(cfg, http.DefaultClient, nil)

	// Assert
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/srv/data", "Shazam-Stock-Earn-Div.csv"), job.Path)
	require.Equal(t, []string{"AAPL", "MSFT"}, job.Symbols)
	require.Equal(t, polygon.Name, job.Source.Name())
	require.Equal(t, market.SP500.Location, job.Location)

	cfg.Polygon.APIKey = ""
	_, err = buildDividendsJob(cfg, http.DefaultClient, nil)
	require.ErrorIs(t, err, polygon.ErrMissingAPIKey)
}

func TestParseFlags_ExplicitOverridesOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		args           []string
		wantShuffle    bool
		wantConcurrent bool
		wantDir        string
	}{
		{name: "no flags keep config", args: nil, wantShuffle: true, wantConcurrent: true, wantDir: "data"},
		{name: "explicit false disables", args: []string{"-shuffle=false", "-concurrent=false"}, wantDir: "data"},
		{name: "output dir", args: []string{"-output-dir", "/tmp/out"}, wantShuffle: true, wantConcurrent: true, wantDir: "/tmp/out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			cfg := testConfig()
			cfg.Download.ShuffleSymbols = true
			cfg.Download.ConcurrentUniverses = true

			// Act
			opts, err := parseFlags(flag.NewFlagSet("fetch", flag.ContinueOnError), tt.args)
			require.NoError(t, err)
			opts.apply(&cfg)

			// Assert
			require.Equal(t, tt.wantShuffle, cfg.Download.ShuffleSymbols)
			require.Equal(t, tt.wantConcurrent, cfg.Download.ConcurrentUniverses)
			require.Equal(t, tt.wantDir, cfg.Output.Dir)
			require.Equal(t, 50, cfg.Download.TradingDays)
		})
	}
}

func TestParseFlags_UnknownJob(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	_, err := parseFlags(fs, []string{"-job", "earnings"})

	require.ErrorContains(t, err, "unknown job")
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"ta125", "sp500"}, splitCSV(" TA125, ,sp500,"))
	require.Empty(t, splitCSV(""))
}
