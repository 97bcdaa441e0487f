// Package market describes the two stock universes: their exchange time
// zone, trading week and close hour, and the output file each one feeds.
package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stockfetch/internal/provider"
)

// ErrUnknownUniverse is returned by Lookup for an unrecognized key.
var ErrUnknownUniverse = errors.New("unknown universe")

// Session is a trading week that applies from From (inclusive) onwards.
type Session struct {
	From     time.Time
	Weekdays []time.Weekday
}

// Universe is a named list of symbols traded on one exchange.
type Universe struct {
	// Key is the stable identifier used in config and status output.
	Key  string
	Name string
	// File is the CSV file name the universe is written to.
	File     string
	Location *time.Location
	// CloseHour is the local hour after which the day's bar is final.
	CloseHour int
	// Sessions are ordered by From; the last one whose From is not after a
	// date decides whether that date is a trading day.
	Sessions []Session
}

var (
	monToFri = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	sunToThu = []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday}
)

// TA125 is the Tel Aviv 125 index. TASE traded Sunday to Thursday until it
// moved to a Monday to Friday week on 2026-01-05.
var TA125 = Universe{
	Key:       "ta125",
	Name:      "TA-125",
	File:      "Shazam-Stock-Info-TA125.csv",
	Location:  mustLoad("Asia/Jerusalem"),
	CloseHour: 17,
	Sessions: []Session{
		{Weekdays: sunToThu},
		{From: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC), Weekdays: monToFri},
	},
}

// SP500 is the S&P 500 index.
var SP500 = Universe{
	Key:       "sp500",
	Name:      "S&P 500",
	File:      "Shazam-Stock-Info-SP500.csv",
	Location:  mustLoad("America/New_York"),
	CloseHour: 16,
	Sessions:  []Session{{Weekdays: monToFri}},
}

// All lists the known universes in run order.
func All() []Universe {
	return []Universe{TA125, SP500}
}

// Lookup returns the universe with the given key, case-insensitively.
func Lookup(key string) (Universe, error) {
	for _, u := range All() {
		if strings.EqualFold(u.Key, key) {
			return u, nil
		}
	}
	return Universe{}, fmt.Errorf("%w: %q", ErrUnknownUniverse, key)
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("market: load location %s: %v", name, err))
	}
	return loc
}

// IsTradingDay reports whether the calendar date of d is a regular trading
// day. Exchange holidays are not modeled.
func (u Universe) IsTradingDay(d time.Time) bool {
	day := provider.Day(d)
	var weekdays []time.Weekday
	for _, s := range u.Sessions {
		if s.From.IsZero() || !day.Before(provider.Day(s.From)) {
			weekdays = s.Weekdays
		}
	}
	for _, wd := range weekdays {
		if day.Weekday() == wd {
			return true
		}
	}
	return false
}

// LastCompleteTradingDay is the latest trading day, as a UTC calendar date,
// whose session had closed at now. Today counts only once the local clock
// has passed CloseHour.
func (u Universe) LastCompleteTradingDay(now time.Time) time.Time {
	local := now.In(u.Location)
	day := provider.Day(local)
	if !u.IsTradingDay(day) || local.Hour() < u.CloseHour {
		day = day.AddDate(0, 0, -1)
	}
	for i := 0; i < 14 && !u.IsTradingDay(day); i++ {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// LookbackRange is the calendar range requested to cover tradingDays
// trading days ending on the last complete trading day. It spans
// tradingDays*1.5+10 calendar days to absorb weekends and holidays.
func (u Universe) LookbackRange(now time.Time, tradingDays int) provider.DateRange {
	to := u.LastCompleteTradingDay(now)
	calendarDays := tradingDays*3/2 + 10
	return provider.DateRange{From: to.AddDate(0, 0, -calendarDays), To: to}
}
