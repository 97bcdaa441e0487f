package export_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockfetch/internal/export"
	"stockfetch/internal/provider"
)

func sampleRows() []provider.Quote {
	d := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return []provider.Quote{
		{Symbol: "AAPL", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: d("100"), High: d("105"), Low: d("99"), Close: d("104.5"), Volume: 1000000},
		{Symbol: "AAPL", Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: d("104.5"), High: d("106.1234"), Low: d("103.01"), Close: d("105.75"), Volume: 850000},
		{Symbol: "BRK.B", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: d("357.2"), High: d("361"), Low: d("355.1"), Close: d("360.02"), Volume: 0},
	}
}

func TestWriteCSV_Format(t *testing.T) {
	t.Parallel()

	// Arrange
	path := filepath.Join(t.TempDir(), "out", "quotes.csv")

	// Act
	err := export.WriteCSV(path, sampleRows()[:1])

	// Assert
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Symbol,Date,Open,High,Low,Close,Volume\nAAPL,2024-01-02,100,105,99,104.5,1000000\n", string(b))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "quotes.csv")
	rows := sampleRows()

	require.NoError(t, export.WriteCSV(path, rows))
	got, err := export.ReadCSV(path)
	require.NoError(t, err)

	require.Len(t, got, len(rows))
	for i := range rows {
		require.Equal(t, rows[i].Symbol, got[i].Symbol)
		require.True(t, rows[i].Date.Equal(got[i].Date))
		require.True(t, rows[i].Open.Equal(got[i].Open))
		require.True(t, rows[i].High.Equal(got[i].High))
		require.True(t, rows[i].Low.Equal(got[i].Low))
		require.True(t, rows[i].Close.Equal(got[i].Close))
		require.Equal(t, rows[i].Volume, got[i].Volume)
	}
}

func TestWriteCSV_Idempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "quotes.csv")

	require.NoError(t, export.WriteCSV(path, sampleRows()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, export.WriteCSV(path, sampleRows()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, first, second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteCSV_Error(t *testing.T) {
	t.Parallel()

	// Arrange: a regular file where the parent directory should be.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// Act
	err := export.WriteCSV(filepath.Join(blocker, "quotes.csv"), sampleRows())

	// Assert
	var werr *export.WriteError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, filepath.Join(blocker, "quotes.csv"), werr.Path)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := export.Decode(strings.NewReader(""))
	require.Error(t, err)

	_, err = export.Decode(strings.NewReader("Ticker,Date,Open,High,Low,Close,Volume\n"))
	require.ErrorContains(t, err, "unexpected header")

	_, err = export.Decode(strings.NewReader("Symbol,Date,Open,High,Low,Close,Volume\nAAPL,02/01/2024,1,1,1,1,1\n"))
	require.ErrorContains(t, err, "line 2")
}
