package scheduling

import (
	"time"

	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
)

const minutesPerDay = 24 * 60

// occupied returns the [start, end) minute ranges of the active appointments on date.
func occupied(date time.Time, existing []model.Appointment) [][2]int {
	out := make([][2]int, 0, len(existing))
	for _, a := range existing {
		if !a.Status.Active() || !sameDay(a.Date, date) {
			continue
		}
		start, end := span(TimeOfDay(a.StartMinute), Procedure(a.Procedure))
		out = append(out, [2]int{start, end})
	}
	return out
}

// earliestStart is the first minute of date that is not before now. A zero now
// places no bound.
func earliestStart(date, now time.Time) int {
	if now.IsZero() {
		return 0
	}
	now = now.In(date.Location())
	y, m, d := date.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	switch {
	case now.Before(today):
		return 0
	case !sameDay(now, date):
		return minutesPerDay
	}
	minute := now.Hour()*60 + now.Minute()
	if now.Second() > 0 || now.Nanosecond() > 0 {
		minute++
	}
	return minute
}

// FreeSlots lists the start times on date at which code could be booked: inside one
// working window, clear of every active appointment, and not before now. Starts are
// tried every step from each window's opening.
func FreeSlots(date time.Time, code Procedure, existing []model.Appointment, step time.Duration, now time.Time) []TimeOfDay {
	every := int(step / time.Minute)
	if every <= 0 {
		return nil
	}
	length := int(DurationOf(code) / time.Minute)
	earliest := earliestStart(date, now)
	busy := occupied(date, existing)

	var out []TimeOfDay
	for _, w := range WorkingWindows {
		for start := int(w.Open); start+length <= int(w.Close); start += every {
			if start < earliest || clashes(start, start+length, busy) {
				continue
			}
			out = append(out, TimeOfDay(start))
		}
	}
	return out
}

func clashes(start, end int, busy [][2]int) bool {
	for _, b := range busy {
		if overlaps(start, end, b[0], b[1]) {
			return true
		}
	}
	return false
}
