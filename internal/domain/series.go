package domain

import (
	"sort"
	"time"
)

// DateLayout is the calendar-day key format used by DailySeries.
// Lexical order of keys equals chronological order.
const DateLayout = "2006-01-02"

// DailySeries maps a UTC calendar day (YYYY-MM-DD) to a sampled value,
// price or volume. Built per token per fetch and discarded after surge
// evaluation.
type DailySeries map[string]float64

// SortedDates returns the series keys in ascending chronological order.
func (s DailySeries) SortedDates() []string {
	dates := make([]string, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Day truncates a timestamp to its UTC calendar day key.
func Day(ts time.Time) string {
	return ts.UTC().Format(DateLayout)
}
