package util

import "time"

// IsTradingDay reports whether t falls on a weekday. Exchange holidays are
// not modelled; daily bar data simply has no rows on those dates.
func IsTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextTradingDay returns the first weekday strictly after t, at midnight UTC.
func NextTradingDay(t time.Time) time.Time {
	d := t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	for !IsTradingDay(d) {
		d = d.Add(24 * time.Hour)
	}
	return d
}

// TradingDays returns the weekdays in [start, end] as midnight-UTC times in
// ascending order.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	d := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC().Truncate(24 * time.Hour)
	for !d.After(last) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
		d = d.Add(24 * time.Hour)
	}
	return days
}
