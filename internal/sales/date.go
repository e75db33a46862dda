package sales

import "time"

// Ledger dates are calendar dates. They are pinned to 12:00 UTC in process so
// that a round trip through a timestamp column or a client timezone cannot
// shift them by a day.

const dateLayout = "2006-01-02"

// NormalizeDate strips the time-of-day component, keeping the calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a normalized date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeDate(t), nil
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// AddMonths steps a date forward by whole calendar months. Overflowing days
// normalize into the next month (Jan 31 + 1 month = Mar 2/3), matching the
// platform date arithmetic the installment schedules were built on.
func AddMonths(t time.Time, months int) time.Time {
	return NormalizeDate(t).AddDate(0, months, 0)
}
