package aggregate

import (
	"sort"
	"time"

	"stockfetch/internal/market"
	"stockfetch/internal/provider"
)

// Key identifies one output row.
type Key struct {
	Symbol string
	Date   time.Time
}

// Valid reports whether q can be written: all prices positive and volume
// not negative.
func Valid(q provider.Quote) bool {
	if q.Symbol == "" || q.Date.IsZero() {
		return false
	}
	if !q.Open.IsPositive() || !q.High.IsPositive() || !q.Low.IsPositive() || !q.Close.IsPositive() {
		return false
	}
	return q.Volume >= 0
}

// Collapse keeps one quote per (Symbol, Date), dropping invalid rows and
// rows for which isTradingDay is false. Dates are truncated to the calendar
// day. For duplicate keys, later input wins. Output is sorted by symbol,
// then date.
func Collapse(quotes []provider.Quote, isTradingDay func(time.Time) bool) []provider.Quote {
	rows := make(map[Key]provider.Quote, len(quotes))
	for _, q := range quotes {
		if !Valid(q) {
			continue
		}
		q.Date = provider.Day(q.Date)
		if isTradingDay != nil && !isTradingDay(q.Date) {
			continue
		}
		rows[Key{Symbol: q.Symbol, Date: q.Date}] = q
	}

	out := make([]provider.Quote, 0, len(rows))
	for _, q := range rows {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// LastTradingDays collapses quotes for universe u and keeps, per symbol,
// only the n most recent trading days. n <= 0 keeps everything.
func LastTradingDays(quotes []provider.Quote, u market.Universe, n int) []provider.Quote {
	rows := Collapse(quotes, u.IsTradingDay)
	if n <= 0 {
		return rows
	}

	out := rows[:0]
	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].Symbol == rows[start].Symbol {
			end++
		}
		from := start
		if end-start > n {
			from = end - n
		}
		out = append(out, rows[from:end]...)
		start = end
	}
	return out
}
