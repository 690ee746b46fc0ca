// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package models

import (
	"fmt"
	"time"
)

// DateLayout is the canonical day format used for storage keys,
// checkpoint entries, and wire payloads.
const DateLayout = "2006-01-02"

// DateKey returns the canonical key for a day, ignoring the time of day
// and location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a canonical day key into a UTC-midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Day truncates a time to UTC midnight so that dates compare and key
// consistently regardless of the caller's location.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the inclusive day count from start to end.
// Returns 0 when start is after end.
func DaysBetween(start, end time.Time) int {
	start, end = Day(start), Day(end)
	if start.After(end) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// DateRange expands an inclusive [start, end] range into individual days.
// With newestFirst the result is ordered reverse-chronologically, which is
// the engine's default processing order.
func DateRange(start, end time.Time, newestFirst bool) []time.Time {
	n := DaysBetween(start, end)
	if n == 0 {
		return nil
	}
	days := make([]time.Time, 0, n)
	for d := Day(start); !d.After(Day(end)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	if newestFirst {
		for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
			days[i], days[j] = days[j], days[i]
		}
	}
	return days
}

// UnitKey identifies one (metric, date) unit of work, matching the key
// format used in checkpoint failed-attempt maps.
func UnitKey(metric string, day time.Time) string {
	return metric + ":" + DateKey(day)
}
