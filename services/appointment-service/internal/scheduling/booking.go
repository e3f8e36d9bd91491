package scheduling

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
)

var (
	ErrMissingProcedure    = errors.New("a procedure must be selected before booking")
	ErrInvalidDateTime     = errors.New("invalid date or time format")
	ErrOutsideWorkingHours = errors.New("requested time is outside clinic hours (08:00-12:00 / 14:00-18:00)")
)

// IsBookingError reports whether err is a validation outcome of a booking attempt, as
// opposed to an infrastructure failure.
func IsBookingError(err error) bool {
	return errors.Is(err, ErrMissingProcedure) ||
		errors.Is(err, ErrInvalidDateTime) ||
		errors.Is(err, ErrOutsideWorkingHours) ||
		errors.Is(err, ErrConflict)
}

// Request is a booking request as typed by the patient.
type Request struct {
	PatientID string
	Date      string // YYYY-MM-DD
	Start     string // HH:MM
	Procedure string
}

// Scheduler decides whether a candidate appointment may be created. It holds no
// schedule state; callers pass the existing appointments of the day.
type Scheduler struct {
	loc   *time.Location
	newID func() string
	now   func() time.Time
}

type Option func(*Scheduler)

func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) { s.now = fn }
}

func New(loc *time.Location, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		loc:   loc,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }

// Parse validates the textual parts of a request: a procedure must be present and the
// date and time must parse.
func (s *Scheduler) Parse(req Request) (Slot, error) {
	code := strings.TrimSpace(req.Procedure)
	if code == "" {
		return Slot{}, ErrMissingProcedure
	}
	date, err := ParseDate(strings.TrimSpace(req.Date), s.loc)
	if err != nil {
		return Slot{}, ErrInvalidDateTime
	}
	start, err := ParseTimeOfDay(strings.TrimSpace(req.Start))
	if err != nil {
		return Slot{}, ErrInvalidDateTime
	}
	return Slot{Date: date, Start: start, Procedure: Procedure(code)}, nil
}

// AttemptBooking runs the full booking check against the day's existing appointments
// and returns the pending appointment to persist. It has no side effects.
func (s *Scheduler) AttemptBooking(req Request, existing []model.Appointment) (model.Appointment, error) {
	slot, err := s.Parse(req)
	if err != nil {
		return model.Appointment{}, err
	}
	return s.Admit(req.PatientID, slot, existing)
}

// Admit applies the working-hours and conflict checks to an already parsed slot.
func (s *Scheduler) Admit(patientID string, slot Slot, existing []model.Appointment) (model.Appointment, error) {
	if !ValidateWorkingHours(slot.Start, slot.End()) {
		return model.Appointment{}, ErrOutsideWorkingHours
	}
	if c := CheckConflict(slot, existing); c != nil {
		return model.Appointment{}, c
	}
	now := s.now()
	return model.Appointment{
		ID:          s.newID(),
		PatientID:   patientID,
		Date:        slot.Date,
		StartMinute: int(slot.Start),
		Procedure:   string(slot.Procedure),
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SlotOf describes an existing appointment as a Slot.
func SlotOf(a model.Appointment) Slot {
	return Slot{Date: a.Date, Start: TimeOfDay(a.StartMinute), Procedure: Procedure(a.Procedure)}
}
