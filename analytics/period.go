package analytics

import (
	"time"
)

// Period presets.
const (
	PeriodLast7Days  = "last7days"
	PeriodLast28Days = "last28days"
	PeriodLast30Days = "last30days"
	PeriodLast90Days = "last90days"

	DefaultPeriod = PeriodLast28Days

	dateLayout = "2006-01-02"
)

var periodDays = map[string]int{
	PeriodLast7Days:  7,
	PeriodLast28Days: 28,
	PeriodLast30Days: 30,
	PeriodLast90Days: 90,
}

// Period is a named reporting window with inclusive YYYY-MM-DD bounds.
type Period struct {
	Name      string
	StartDate string
	EndDate   string
}

// ResolvePeriod maps a preset name to a window ending on now's UTC date.
// Unknown names fall back to DefaultPeriod.
func ResolvePeriod(name string, now time.Time) Period {
	days, ok := periodDays[name]
	if !ok {
		name = DefaultPeriod
		days = periodDays[DefaultPeriod]
	}

	end := now.UTC()

	return Period{
		Name:      name,
		StartDate: end.AddDate(0, 0, -days).Format(dateLayout),
		EndDate:   end.Format(dateLayout),
	}
}

// IsKnownPeriod reports whether name is one of the presets.
func IsKnownPeriod(name string) bool {
	_, ok := periodDays[name]
	return ok
}
