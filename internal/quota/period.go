package quota

import "time"

// periodLayout is the key for a calendar-month quota period, e.g. "2026-08".
const periodLayout = "2006-01"

// PeriodKey returns the period key for the instant t. Periods are calendar
// months in UTC; a new month implicitly starts a fresh counter.
func PeriodKey(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// PeriodEnd returns the first instant of the month after the given period
// key, i.e. the moment the period's counters stop accumulating.
func PeriodEnd(period string) time.Time {
	start, err := time.Parse(periodLayout, period)
	if err != nil {
		return time.Time{}
	}
	return start.AddDate(0, 1, 0)
}
