// Package export writes and reads the per-universe quote CSV files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"stockfetch/internal/provider"
)

// Header is the first line of every quote file.
var Header = []string{"Symbol", "Date", "Open", "High", "Low", "Close", "Volume"}

// WriteError reports that an output file could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Encode writes rows as CSV to w, in the order given.
func Encode(w io.Writer, rows []provider.Quote) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	rec := make([]string, len(Header))
	for _, q := range rows {
		rec[0] = q.Symbol
		rec[1] = q.Date.Format(provider.DateLayout)
		rec[2] = q.Open.String()
		rec[3] = q.High.String()
		rec[4] = q.Low.String()
		rec[5] = q.Close.String()
		rec[6] = strconv.FormatInt(q.Volume, 10)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV replaces the file at path with rows. The file is written to a
// temporary sibling and renamed into place, so readers never observe a
// partial file. Failures are returned as *WriteError.
func WriteCSV(path string, rows []provider.Quote) error {
	var buf bytes.Buffer
	if err := Encode(&buf, rows); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// WriteFileAtomic writes data to path through a temporary file in the same
// directory followed by a rename. Failures are returned as *WriteError.
func WriteFileAtomic(path string, data []byte) error {
	fail := func(err error) error { return &WriteError{Path: path, Err: err} }

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(err)
	}
	return nil
}

// Decode parses a quote file produced by Encode.
func Decode(r io.Reader) ([]provider.Quote, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	for i, h := range Header {
		if records[0][i] != h {
			return nil, fmt.Errorf("unexpected header %q", records[0])
		}
	}

	rows := make([]provider.Quote, 0, len(records)-1)
	for n, rec := range records[1:] {
		q, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+2, err)
		}
		rows = append(rows, q)
	}
	return rows, nil
}

// ReadCSV reads the quote file at path.
func ReadCSV(path string) ([]provider.Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func parseRecord(rec []string) (provider.Quote, error) {
	date, err := time.Parse(provider.DateLayout, rec[1])
	if err != nil {
		return provider.Quote{}, fmt.Errorf("date: %w", err)
	}
	var prices [4]decimal.Decimal
	for i := range prices {
		prices[i], err = decimal.NewFromString(rec[2+i])
		if err != nil {
			return provider.Quote{}, fmt.Errorf("%s: %w", Header[2+i], err)
		}
	}
	volume, err := strconv.ParseInt(rec[6], 10, 64)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("volume: %w", err)
	}
	return provider.Quote{
		Symbol: rec[0],
		Date:   date,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume,
	}, nil
}
