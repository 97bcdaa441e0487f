package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockfetch/internal/clock"
	"stockfetch/internal/health"
	"stockfetch/internal/provider"
)

type fakeProber struct {
	name  string
	res   provider.ProbeResult
	err   error
	calls int
}

func (f *fakeProber) Name() string { return f.name }

func (f *fakeProber) Probe(context.Context) (provider.ProbeResult, error) {
	f.calls++
	return f.res, f.err
}

func TestChecker_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		res         provider.ProbeResult
		err         error
		wantHealthy bool
		wantStatus  string
	}{
		{name: "ok", res: provider.ProbeResult{StatusCode: 200, Latency: 120 * time.Millisecond, RateLimitRemaining: "4"}, wantHealthy: true, wantStatus: health.StatusConnected},
		{name: "rate limited", res: provider.ProbeResult{StatusCode: 429}, wantStatus: health.StatusDegraded},
		{name: "server error", res: provider.ProbeResult{StatusCode: 500}, wantStatus: health.StatusUnreachable},
		{name: "unauthorized", res: provider.ProbeResult{StatusCode: 401}, wantStatus: health.StatusUnreachable},
		{name: "transport", err: errors.New("dial tcp: no route to host"), wantStatus: health.StatusUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			start := time.Date(2024, 1, 10, 21, 0, 0, 0, time.UTC)
			c := &health.Checker{Clock: clock.NewFake(start)}
			p := &fakeProber{name: "Stub", res: tt.res, err: tt.err}

			// Act
			h := c.Check(t.Context(), p)

			// Assert
			require.Equal(t, 1, p.calls)
			require.Equal(t, "Stub", h.Provider)
			require.Equal(t, tt.wantHealthy, h.IsHealthy)
			require.Equal(t, tt.wantStatus, h.Status)
			require.Equal(t, start, h.CheckedAt)
			if tt.wantHealthy {
				require.Empty(t, h.Error)
				require.InDelta(t, 120.0, h.ResponseTimeMs, 0.001)
				require.Equal(t, "4", h.RateLimitRemaining)
			} else {
				require.NotEmpty(t, h.Error)
			}
		})
	}
}

func TestChecker_Check_RealProviderServerError(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	stub := stubEndpoint{}
	p, err := provider.NewClient("Stub", stub, provider.WithBaseURL(srv.URL), provider.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	// Act
	h := (&health.Checker{Timeout: 5 * time.Second}).Check(t.Context(), p)

	// Assert
	require.False(t, h.IsHealthy)
	require.Equal(t, health.StatusUnreachable, h.Status)
	require.Equal(t, http.StatusInternalServerError, h.StatusCode)
}

func TestChecker_CheckAll_DistinctProviders(t *testing.T) {
	t.Parallel()

	a := &fakeProber{name: "A", res: provider.ProbeResult{StatusCode: 200}}
	b := &fakeProber{name: "B", res: provider.ProbeResult{StatusCode: 429}}

	got := (&health.Checker{}).CheckAll(t.Context(), []health.Prober{a, b, a})

	require.Len(t, got, 2)
	require.Equal(t, "A", got[0].Provider)
	require.Equal(t, "B", got[1].Provider)
	require.Equal(t, 1, a.calls)
}

type stubEndpoint struct{}

func (stubEndpoint) QuotesRequest(ctx context.Context, baseURL, symbol string, _ provider.DateRange) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/"+symbol, nil)
}

func (stubEndpoint) ParseQuotes(string, []byte) ([]provider.Quote, error) { return nil, nil }

func (stubEndpoint) ProbeRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/ping", nil)
}
