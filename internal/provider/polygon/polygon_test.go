package polygon_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockfetch/internal/clock"
	"stockfetch/internal/provider"
	"stockfetch/internal/provider/polygon"
	"stockfetch/internal/retry"
)

// Bars start at midnight New York time: 2024-01-02 and 2024-01-03, plus an
// all-zero bar that must be dropped.
const aggsBody = `{
	"ticker":"AAPL","status":"OK","resultsCount":3,"adjusted":true,
	"results":[
		{"v":82488674,"vw":185.9465,"o":187.15,"c":185.64,"h":188.44,"l":183.885,"t":1704171600000,"n":1008871},
		{"v":58414460,"vw":184.3226,"o":184.22,"c":184.25,"h":185.88,"l":183.43,"t":1704258000000,"n":656853},
		{"v":0,"o":0,"c":0,"h":0,"l":0,"t":1704344400000}
	]}`

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := polygon.NewClient(polygon.Endpoint{})
	require.ErrorIs(t, err, polygon.ErrMissingAPIKey)
}

func TestEndpoint_QuotesRequest(t *testing.T) {
	t.Parallel()

	// Arrange
	e := polygon.Endpoint{APIKey: "secret"}
	r := provider.DateRange{
		From: time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	// Act
	req, err := e.QuotesRequest(t.Context(), "http://polygon.test", "BRK.B", r)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "/v2/aggs/ticker/BRK.B/range/1/day/2023-11-14/2024-01-05", req.URL.Path)
	q := req.URL.Query()
	require.Equal(t, "true", q.Get("adjusted"))
	require.Equal(t, "asc", q.Get("sort"))
	require.Equal(t, "50000", q.Get("limit"))
	require.Equal(t, "secret", q.Get("apiKey"))
}

func TestEndpoint_ParseQuotes(t *testing.T) {
	t.Parallel()

	// Act
	quotes, err := polygon.Endpoint{}.ParseQuotes("AAPL", []byte(aggsBody))

	// Assert
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), quotes[0].Date)
	require.Equal(t, "187.15", quotes[0].Open.String())
	require.Equal(t, "188.44", quotes[0].High.String())
	require.Equal(t, "183.885", quotes[0].Low.String())
	require.Equal(t, "185.64", quotes[0].Close.String())
	require.Equal(t, int64(82488674), quotes[0].Volume)
	require.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), quotes[1].Date)
}

func TestEndpoint_ParseQuotes_Status(t *testing.T) {
	t.Parallel()

	e := polygon.Endpoint{}

	_, err := e.ParseQuotes("AAPL", []byte(`{"status":"ERROR","error":"Unknown API Key"}`))
	require.ErrorContains(t, err, "Unknown API Key")

	_, err = e.ParseQuotes("AAPL", []byte(`{"status":"OK","resultsCount":0}`))
	require.ErrorIs(t, err, provider.ErrNoData)

	quotes, err := e.ParseQuotes("AAPL", []byte(`{"status":"DELAYED","results":[{"v":10,"o":1,"c":1,"h":1,"l":1,"t":1704171600000}]}`))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
}

func TestNewClient_ProbeAndFetch(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apiKey") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Ratelimit-Remaining", "4")
		if r.URL.Path == "/v2/aggs/ticker/AAPL/prev" {
			_, _ = w.Write([]byte(`{"status":"OK","results":[]}`))
			return
		}
		_, _ = w.Write([]byte(aggsBody))
	}))
	defer srv.Close()

	c, err := polygon.NewClient(polygon.Endpoint{APIKey: "secret"},
		provider.WithBaseURL(srv.URL),
		provider.WithHTTPClient(srv.Client()),
		provider.WithClock(clock.NewFake(time.Now())),
		provider.WithRetry(retry.Policy{MaxAttempts: 1}),
	)
	require.NoError(t, err)

	// Act
	probe, probeErr := c.Probe(t.Context())
	quotes, fetchErr := c.FetchQuotes(t.Context(), "AAPL", provider.DateRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})

	// Assert
	require.NoError(t, probeErr)
	require.Equal(t, http.StatusOK, probe.StatusCode)
	require.Equal(t, "4", probe.RateLimitRemaining)
	require.NoError(t, fetchErr)
	require.Len(t, quotes, 1)
	require.Equal(t, polygon.Name, c.Name())
}
