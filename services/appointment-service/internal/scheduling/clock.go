package scheduling

import (
	"fmt"
	"strconv"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
	minutesADay = 24 * 60
)

// TimeOfDay is a wall-clock time with minute precision, counted from midnight.
type TimeOfDay int

func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" in 24h form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, err
	}
	return Clock(t.Hour(), t.Minute()), nil
}

// ParseDate parses "YYYY-MM-DD" as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, loc)
}

// FormatDate renders a calendar day as "YYYY-MM-DD".
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On anchors t to the calendar day of date.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
}

// EndTime is the wall-clock end of a procedure started at start on date. Durations that
// run past midnight wrap around; such slots never pass ValidateWorkingHours.
func EndTime(date time.Time, start TimeOfDay, code Procedure) TimeOfDay {
	end := start.On(date).Add(DurationOf(code))
	return Clock(end.Hour(), end.Minute())
}

// span is the occupied half-open interval in minutes from midnight. Unlike EndTime it
// does not wrap, so comparisons stay monotonic.
func span(start TimeOfDay, code Procedure) (int, int) {
	return int(start), int(start) + int(DurationOf(code)/time.Minute)
}

func itoa(n int) string { return strconv.Itoa(n) }
