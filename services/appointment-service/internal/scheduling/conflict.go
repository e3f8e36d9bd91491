package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
)

var ErrConflict = errors.New("time slot already booked")

// ConflictError names the existing appointment a candidate overlaps, with that
// appointment's own window so it can be shown to the patient.
type ConflictError struct {
	AppointmentID string
	Start         TimeOfDay
	End           TimeOfDay
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("there is already an appointment from %s to %s", e.Start, e.End)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Slot is a candidate booking on a calendar day.
type Slot struct {
	Date      time.Time
	Start     TimeOfDay
	Procedure Procedure
}

func (s Slot) End() TimeOfDay {
	return EndTime(s.Date, s.Start, s.Procedure)
}

// CheckConflict returns the first active appointment on the candidate's day whose
// interval overlaps the candidate, or nil. Intervals are half-open, so an appointment
// ending at 09:40 and a candidate starting at 09:40 do not conflict. Cancelled
// appointments never block.
func CheckConflict(candidate Slot, existing []model.Appointment) *ConflictError {
	cs, ce := span(candidate.Start, candidate.Procedure)
	for _, a := range existing {
		if !a.Status.Active() || !sameDay(a.Date, candidate.Date) {
			continue
		}
		start := TimeOfDay(a.StartMinute)
		code := Procedure(a.Procedure)
		es, ee := span(start, code)
		if overlaps(cs, ce, es, ee) {
			return &ConflictError{
				AppointmentID: a.ID,
				Start:         start,
				End:           EndTime(a.Date, start, code),
			}
		}
	}
	return nil
}

// overlaps reports whether half-open [aStart, aEnd) and [bStart, bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
