// Package core provides the domain types and date arithmetic for recurring
// obligations.
//
// This file implements due-date advancement. A template's next due date moves
// forward by exactly one frequency period per payment; it is never regressed.
package core

import "time"

// Advance returns the due date one frequency period after d.
//
// Weekly adds exactly 7 calendar days. Monthly keeps the day-of-month and
// moves one calendar month forward, clamping to the last valid day when the
// source day does not exist in the target month (Jan 31 -> Feb 28/29).
func Advance(d Date, f Frequency) (Date, error) {
	switch f {
	case Weekly:
		return Date{Time: d.AddDate(0, 0, 7)}, nil
	case Monthly:
		return addMonthClamped(d), nil
	default:
		return Date{}, ErrInvalidFrequency
	}
}

// addMonthClamped moves d one month forward without the day-overflow
// normalization of time.AddDate (which would turn Jan 31 into Mar 2/3).
func addMonthClamped(d Date) Date {
	year, month, day := d.Date()

	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, d.Location())
	last := lastDayOfMonth(firstOfNext.Year(), firstOfNext.Month())
	if day > last {
		day = last
	}
	return Date{Time: time.Date(firstOfNext.Year(), firstOfNext.Month(), day, 0, 0, 0, 0, d.Location())}
}

// lastDayOfMonth returns the number of days in the given month.
func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
