package server_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"stockfetch/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const csvBody = "Symbol,Date,Open,High,Low,Close,Volume\nAAPL,2024-01-02,100,105,99,104,1000000\n"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Shazam-Stock-Info-SP500.csv"), []byte(csvBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "download_status.json"), []byte(`{"status":"success"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.env"), []byte("KEY=1"), 0o644))
	return server.NewRouter(server.Files{
		Dir:    dir,
		Status: "download_status.json",
		Page:   "index.html",
		CSV:    []string{"Shazam-Stock-Info-SP500.csv", "Shazam-Stock-Info-TA125.csv"},
	}, nil)
}

func get(r http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := newRouter(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody string
		wantType string
	}{
		{name: "healthz", path: "/healthz", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "status", path: "/status", wantCode: http.StatusOK, wantBody: `{"status":"success"}`, wantType: "application/json; charset=utf-8"},
		{name: "csv", path: "/data/Shazam-Stock-Info-SP500.csv", wantCode: http.StatusOK, wantBody: csvBody, wantType: "text/csv; charset=utf-8"},
		{name: "known but missing", path: "/data/Shazam-Stock-Info-TA125.csv", wantCode: http.StatusNotFound},
		{name: "not whitelisted", path: "/data/secret.env", wantCode: http.StatusNotFound},
		{name: "page not generated", path: "/", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(r, tt.path, nil)
			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, rr.Body.String())
			}
			if tt.wantType != "" {
				require.Equal(t, tt.wantType, rr.Header().Get("Content-Type"))
			}
			require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRouter_Gzip(t *testing.T) {
	t.Parallel()

	rr := get(newRouter(t), "/data/Shazam-Stock-Info-SP500.csv", http.Header{"Accept-Encoding": {"gzip"}})

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, csvBody, string(b))
}
