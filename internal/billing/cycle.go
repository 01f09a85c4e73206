package billing

import (
	"time"

	"github.com/matthewbaird/rentroll/internal/types"
)

// Months is the length of the cycle in calendar months, or 0 for an unknown
// cycle.
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleBiannually:
		return 6
	case CycleAnnually:
		return 12
	}
	return 0
}

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool { return c.Months() > 0 }

// AddMonths moves t by n calendar months, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28, or Feb 29 in leap years).
func AddMonths(t time.Time, n int) time.Time {
	t = types.Date(t)
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthsBetween counts the whole calendar months elapsed from start to now.
// A month is complete once now reaches the month-clamped anniversary of
// start. Returns 0 when now precedes start.
func MonthsBetween(start, now time.Time) int {
	start, now = types.Date(start), types.Date(now)
	if now.Before(start) {
		return 0
	}
	months := (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month())
	if AddMonths(start, months).After(now) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// CyclesPassed is the number of complete billing cycles between start and
// now, floored.
func CyclesPassed(start time.Time, cycle BillingCycle, now time.Time) int {
	n := cycle.Months()
	if n == 0 {
		return 0
	}
	return MonthsBetween(start, now) / n
}

// NextDueDate advances a due date by one billing cycle.
func NextDueDate(due time.Time, cycle BillingCycle) time.Time {
	return AddMonths(due, cycle.Months())
}

// DaysBetween counts calendar days from a to b (negative when b precedes a).
func DaysBetween(a, b time.Time) int {
	return int(types.Date(b).Sub(types.Date(a)).Hours() / 24)
}
