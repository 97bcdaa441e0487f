// Package dividends runs the weekly job that records the next ex-dividend
// date of every symbol in a universe.
package dividends

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"stockfetch/internal/clock"
	"stockfetch/internal/export"
	"stockfetch/internal/provider"
)

// Header is the first record of the output file. Fields are separated by
// Comma.
var Header = []string{"Symbol", "Date", "Next_Div_Date", "Next_Earn_Date"}

const Comma = ';'

// ErrNoResults is returned when no symbol could be looked up, so the file
// was left untouched.
var ErrNoResults = errors.New("dividends: no symbol could be looked up")

// Source looks up announced ex-dividend dates.
type Source interface {
	Name() string
	NextExDividend(ctx context.Context, symbol string, from time.Time) (time.Time, bool, error)
}

// Row is one output line. Zero dates are written as empty fields.
type Row struct {
	Symbol       string
	Date         time.Time
	NextDividend time.Time
	// NextEarnings has no upstream yet and is always empty.
	NextEarnings time.Time
}

// Result summarizes a run.
type Result struct {
	Requested     int
	Found         int
	FailedSymbols []string
	Rows          int
}

// Job looks up every symbol once, sequentially, and writes Path.
type Job struct {
	Source  Source
	Symbols []string
	Path    string
	// Location is the calendar for the run date and the search start.
	// Defaults to UTC.
	Location      *time.Location
	ProgressEvery int
	Clock         clock.Clock
	Logger        *slog.Logger
}

// NextSaturday returns the first Saturday strictly after the date of now.
func NextSaturday(now time.Time) time.Time {
	days := (int(time.Saturday) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return provider.Day(now.AddDate(0, 0, days))
}

// Run looks up the next ex-dividend date on or after the coming Saturday
// for every symbol. Failed lookups are logged and written with an empty
// date. The file is not written when ctx is canceled or every lookup failed.
func (j *Job) Run(ctx context.Context) (Result, error) {
	clk := j.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}

	now := clk.Now().In(loc)
	today := provider.Day(now)
	from := NextSaturday(now)
	res := Result{Requested: len(j.Symbols)}
	logger = logger.With("job", "dividends", "provider", j.Source.Name())
	logger.Info("dividends started", "symbols", len(j.Symbols), "from", from.Format(provider.DateLayout))

	rows := make([]Row, 0, len(j.Symbols))
	for i, sym := range j.Symbols {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("dividends interrupted after %d of %d symbols: %w", i, len(j.Symbols), err)
		}
		row := Row{Symbol: sym, Date: today}
		d, ok, err := j.Source.NextExDividend(ctx, sym, from)
		switch {
		case err != nil:
			logger.Warn("dividend lookup failed", "symbol", sym, "err", err)
			res.FailedSymbols = append(res.FailedSymbols, sym)
		case ok:
			row.NextDividend = d
			res.Found++
		default:
			logger.Debug("no upcoming dividend", "symbol", sym)
		}
		rows = append(rows, row)

		if j.ProgressEvery > 0 && (i+1)%j.ProgressEvery == 0 && i+1 < len(j.Symbols) {
			logger.Info("progress", "done", i+1, "total", len(j.Symbols), "found", res.Found, "failed", len(res.FailedSymbols))
		}
	}
	if len(rows) == 0 || len(res.FailedSymbols) == len(rows) {
		logger.Error("no dividend data, file not written", "failed", len(res.FailedSymbols))
		return res, ErrNoResults
	}

	var buf bytes.Buffer
	if err := Encode(&buf, rows); err != nil {
		return res, fmt.Errorf("encode dividends: %w", err)
	}
	if err := export.WriteFileAtomic(j.Path, buf.Bytes()); err != nil {
		return res, err
	}
	res.Rows = len(rows)
	logger.Info("dividends finished", "rows", res.Rows, "found", res.Found, "failed", len(res.FailedSymbols), "path", j.Path)
	return res, nil
}

// Encode writes the header and rows.
func Encode(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = Comma
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Symbol, r.Date.Format(provider.DateLayout), formatDate(r.NextDividend), formatDate(r.NextEarnings)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(provider.DateLayout)
}
