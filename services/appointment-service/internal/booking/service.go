package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/dentalclinic/libs/auth"
	otelx "github.com/md-rashed-zaman/dentalclinic/libs/otel"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/outbox"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/scheduling"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("appointment not found")
	ErrInvalidStatus    = errors.New("status must be pending, confirmed or cancelled")
	ErrNoPatientProfile = errors.New("no patient profile for this user")
	ErrInvalidPatient   = errors.New("patient name is required and age must be between 0 and 150")
	ErrPatientExists    = errors.New("patient profile already exists")
)

// Actor is the caller on whose behalf an operation runs.
type Actor = auth.Principal

// Store is the appointment persistence the service needs.
type Store interface {
	WithinDay(ctx context.Context, date time.Time, fn func(ctx context.Context, tx storage.DayTx) error) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	List(ctx context.Context, f storage.ListFilter) ([]model.Appointment, error)
	Summary(ctx context.Context, today time.Time) (model.Summary, error)
}

// PatientDirectory resolves users to patient profiles.
type PatientDirectory interface {
	ByUserID(ctx context.Context, userID string) (model.Patient, error)
	Create(ctx context.Context, p *model.Patient) error
}

type Service struct {
	store     Store
	patients  PatientDirectory
	scheduler *scheduling.Scheduler
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	slotStep  time.Duration
}

type Option func(*Service)

func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithSlotStep sets the granularity of the free slots reported by Day.
func WithSlotStep(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.slotStep = d
		}
	}
}

func NewService(store Store, patients PatientDirectory, scheduler *scheduling.Scheduler, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		patients:  patients,
		scheduler: scheduler,
		logger:    logger,
		tracer:    otelx.Tracer("appointment-service/booking"),
		now:       time.Now,
		slotStep:  scheduling.DefaultDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type BookingRequest struct {
	Date      string
	Start     string
	Procedure string
}

// Book creates a pending appointment for the calling patient. The conflict check and
// the insert run under the day's schedule lock.
func (s *Service) Book(ctx context.Context, actor Actor, req BookingRequest) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("appointment.date", req.Date),
		attribute.String("appointment.start", req.Start),
		attribute.String("appointment.procedure", req.Procedure),
	))
	defer func() { endSpan(span, err) }()

	if !actor.CanBook() {
		return model.Appointment{}, ErrForbidden
	}
	patientID, err := s.resolvePatient(ctx, actor)
	if err != nil {
		return model.Appointment{}, err
	}

	slot, err := s.scheduler.Parse(scheduling.Request{
		PatientID: patientID,
		Date:      req.Date,
		Start:     req.Start,
		Procedure: req.Procedure,
	})
	if err != nil {
		s.logger.Warn("booking rejected", "user_id", actor.UserID, "reason", err.Error())
		return model.Appointment{}, err
	}
	if !slot.Procedure.Known() {
		s.logger.Warn("unknown procedure, using default duration",
			"procedure", string(slot.Procedure),
			"duration", scheduling.DefaultDuration.String(),
		)
	}

	err = s.store.WithinDay(ctx, slot.Date, func(ctx context.Context, tx storage.DayTx) error {
		existing, err := tx.ActiveOn(ctx)
		if err != nil {
			return fmt.Errorf("load day: %w", err)
		}
		appt, err = s.scheduler.Admit(patientID, slot, existing)
		if err != nil {
			return err
		}
		if err := tx.Insert(ctx, &appt); err != nil {
			if storage.IsConflict(err) {
				return scheduling.ErrConflict
			}
			if storage.IsUnknownPatient(err) {
				return ErrNoPatientProfile
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		return s.emit(ctx, tx, outbox.EventAppointmentBooked, appt, actor, nil)
	})
	if err != nil {
		if scheduling.IsBookingError(err) {
			s.logger.Warn("booking rejected",
				"user_id", actor.UserID,
				"date", req.Date,
				"start", req.Start,
				"procedure", req.Procedure,
				"reason", err.Error(),
			)
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"patient_id", appt.PatientID,
		"date", scheduling.FormatDate(appt.Date),
		"start", scheduling.TimeOfDay(appt.StartMinute).String(),
		"procedure", appt.Procedure,
	)
	return appt, nil
}

// SetStatus moves an appointment to any of the three states. Patients may only touch
// their own appointments. Reactivating a cancelled appointment re-checks its slot.
func (s *Service) SetStatus(ctx context.Context, actor Actor, id string, status model.Status) (appt model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.SetStatus", trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("appointment.status", string(status)),
	))
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return model.Appointment{}, ErrInvalidStatus
	}
	current, err := s.authorize(ctx, actor, id)
	if err != nil {
		return model.Appointment{}, err
	}

	var previous model.Status
	err = s.store.WithinDay(ctx, current.Date, func(ctx context.Context, tx storage.DayTx) error {
		appt, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err)
		}
		previous = appt.Status
		if !previous.Active() && status.Active() {
			existing, err := tx.ActiveOn(ctx)
			if err != nil {
				return fmt.Errorf("load day: %w", err)
			}
			if c := scheduling.CheckConflict(scheduling.SlotOf(appt), existing); c != nil {
				return c
			}
		}
		updatedAt, err := tx.UpdateStatus(ctx, id, status)
		if err != nil {
			if storage.IsConflict(err) {
				return scheduling.ErrConflict
			}
			return notFound(err)
		}
		appt.Status = status
		appt.UpdatedAt = updatedAt
		return s.emit(ctx, tx, outbox.EventAppointmentStatusChanged, appt, actor, map[string]any{
			"previous_status": string(previous),
		})
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment status changed",
		"appointment_id", id,
		"from", string(previous),
		"to", string(status),
		"actor_role", string(actor.Role),
	)
	return s.localize(appt), nil
}

// Delete removes an appointment outright. Staff may delete any, patients their own.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Delete", trace.WithAttributes(attribute.String("appointment.id", id)))
	defer func() { endSpan(span, err) }()

	current, err := s.authorize(ctx, actor, id)
	if err != nil {
		return err
	}
	err = s.store.WithinDay(ctx, current.Date, func(ctx context.Context, tx storage.DayTx) error {
		if err := tx.Delete(ctx, id); err != nil {
			return notFound(err)
		}
		return s.emit(ctx, tx, outbox.EventAppointmentDeleted, current, actor, nil)
	})
	if err != nil {
		return err
	}
	s.logger.Info("appointment deleted", "appointment_id", id, "actor_role", string(actor.Role))
	return nil
}

type ListQuery struct {
	Date      string // YYYY-MM-DD, optional
	PatientID string // staff only
	Status    string // a status, "all", or empty for the role default
	Limit     int
}

// List returns appointments newest first. Patients see only their own, all statuses
// by default. Staff see the whole clinic, confirmed ones by default.
func (s *Service) List(ctx context.Context, actor Actor, q ListQuery) ([]model.Appointment, error) {
	filter := storage.ListFilter{Limit: q.Limit}

	switch {
	case actor.CanViewClinic():
		filter.PatientID = strings.TrimSpace(q.PatientID)
		if q.Status == "" {
			q.Status = string(model.StatusConfirmed)
		}
	case actor.Role == auth.RolePatient:
		patientID, err := s.resolvePatient(ctx, actor)
		if errors.Is(err, ErrNoPatientProfile) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if q.PatientID != "" && q.PatientID != patientID {
			return nil, ErrForbidden
		}
		filter.PatientID = patientID
	default:
		return nil, ErrForbidden
	}

	if q.Status != "" && q.Status != "all" {
		status := model.Status(q.Status)
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		filter.Statuses = []model.Status{status}
	}
	if q.Date != "" {
		date, err := scheduling.ParseDate(q.Date, s.scheduler.Location())
		if err != nil {
			return nil, scheduling.ErrInvalidDateTime
		}
		filter.Date = date
	}

	appts, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return s.localizeAll(appts), nil
}

// Next is the calling patient's earliest pending or confirmed appointment that has
// not started yet. ok is false when there is none.
func (s *Service) Next(ctx context.Context, actor Actor) (appt model.Appointment, ok bool, err error) {
	if actor.Role != auth.RolePatient {
		return model.Appointment{}, false, ErrForbidden
	}
	patientID, err := s.resolvePatient(ctx, actor)
	if errors.Is(err, ErrNoPatientProfile) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}

	now := s.now().In(s.scheduler.Location())
	appts, err := s.store.List(ctx, storage.ListFilter{
		PatientID: patientID,
		From:      midnight(now),
		Statuses:  []model.Status{model.StatusPending, model.StatusConfirmed},
		Ascending: true,
	})
	if err != nil {
		return model.Appointment{}, false, fmt.Errorf("list appointments: %w", err)
	}
	for _, a := range s.localizeAll(appts) {
		if !scheduling.TimeOfDay(a.StartMinute).On(a.Date).Before(now) {
			return a, true, nil
		}
	}
	return model.Appointment{}, false, nil
}

// Summary feeds the staff dashboards.
func (s *Service) Summary(ctx context.Context, actor Actor) (model.Summary, error) {
	if !actor.CanViewClinic() {
		return model.Summary{}, ErrForbidden
	}
	today := midnight(s.now().In(s.scheduler.Location()))
	sum, err := s.store.Summary(ctx, today)
	if err != nil {
		return model.Summary{}, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// DayEntry is an occupied window in the day view.
type DayEntry struct {
	Appointment model.Appointment
	Start       scheduling.TimeOfDay
	End         scheduling.TimeOfDay
}

type DayView struct {
	Date      time.Time
	Entries   []DayEntry
	Procedure scheduling.Procedure
	FreeSlots []scheduling.TimeOfDay
}

// Day is the calendar view of one date: the active appointments with their derived
// end times and, when a procedure is given, the start times still free for it.
// Patients see other patients' windows without identifying fields.
func (s *Service) Day(ctx context.Context, actor Actor, date, procedure string) (DayView, error) {
	if !actor.Role.Valid() {
		return DayView{}, ErrForbidden
	}
	if actor.Role == auth.RolePatient && actor.PatientID == "" {
		if patientID, err := s.resolvePatient(ctx, actor); err == nil {
			actor.PatientID = patientID
		} else if !errors.Is(err, ErrNoPatientProfile) {
			return DayView{}, err
		}
	}
	day, err := scheduling.ParseDate(strings.TrimSpace(date), s.scheduler.Location())
	if err != nil {
		return DayView{}, scheduling.ErrInvalidDateTime
	}

	appts, err := s.store.List(ctx, storage.ListFilter{
		Date:      day,
		Statuses:  []model.Status{model.StatusPending, model.StatusConfirmed},
		Ascending: true,
	})
	if err != nil {
		return DayView{}, fmt.Errorf("list day: %w", err)
	}
	appts = s.localizeAll(appts)

	view := DayView{Date: day, Entries: make([]DayEntry, 0, len(appts))}
	for _, a := range appts {
		start := scheduling.TimeOfDay(a.StartMinute)
		if !actor.CanManage(a.PatientID) {
			a = model.Appointment{Date: a.Date, StartMinute: a.StartMinute, Procedure: a.Procedure, Status: a.Status}
		}
		view.Entries = append(view.Entries, DayEntry{
			Appointment: a,
			Start:       start,
			End:         scheduling.EndTime(a.Date, start, scheduling.Procedure(a.Procedure)),
		})
	}
	if code := strings.TrimSpace(procedure); code != "" {
		view.Procedure = scheduling.Procedure(code)
		view.FreeSlots = scheduling.FreeSlots(day, view.Procedure, appts, s.slotStep, s.now())
	}
	return view, nil
}

type PatientInput struct {
	Name  string
	Age   int
	Email string
}

// RegisterPatient creates the patient profile of the calling user.
func (s *Service) RegisterPatient(ctx context.Context, actor Actor, in PatientInput) (model.Patient, error) {
	if actor.Role != auth.RolePatient {
		return model.Patient{}, ErrForbidden
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Age < 0 || in.Age > 150 {
		return model.Patient{}, ErrInvalidPatient
	}
	if _, err := s.patients.ByUserID(ctx, actor.UserID); err == nil {
		return model.Patient{}, ErrPatientExists
	} else if !storage.IsNotFound(err) {
		return model.Patient{}, fmt.Errorf("lookup patient: %w", err)
	}

	p := model.Patient{
		UserID: actor.UserID,
		Name:   in.Name,
		Age:    in.Age,
		Email:  strings.TrimSpace(in.Email),
	}
	if err := s.patients.Create(ctx, &p); err != nil {
		if storage.IsDuplicate(err) {
			return model.Patient{}, ErrPatientExists
		}
		return model.Patient{}, fmt.Errorf("create patient: %w", err)
	}
	s.logger.Info("patient registered", "patient_id", p.ID, "user_id", p.UserID)
	return p, nil
}

func (s *Service) resolvePatient(ctx context.Context, actor Actor) (string, error) {
	if actor.PatientID != "" {
		return actor.PatientID, nil
	}
	p, err := s.patients.ByUserID(ctx, actor.UserID)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", ErrNoPatientProfile
		}
		return "", fmt.Errorf("lookup patient: %w", err)
	}
	return p.ID, nil
}

// authorize loads id and checks that actor may change it. A patient probing someone
// else's appointment gets ErrNotFound rather than ErrForbidden.
func (s *Service) authorize(ctx context.Context, actor Actor, id string) (model.Appointment, error) {
	if actor.Role == auth.RolePatient && actor.PatientID == "" {
		patientID, err := s.resolvePatient(ctx, actor)
		if err != nil {
			return model.Appointment{}, err
		}
		actor.PatientID = patientID
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, notFound(err)
	}
	if !actor.CanManage(appt.PatientID) {
		if actor.Role == auth.RolePatient {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, ErrForbidden
	}
	return s.localize(appt), nil
}

func (s *Service) emit(ctx context.Context, tx storage.DayTx, eventType string, appt model.Appointment, actor Actor, extra map[string]any) error {
	evt, err := outbox.AppointmentEvent(eventType, appt, actor.UserID, extra)
	if err != nil {
		return fmt.Errorf("build event: %w", err)
	}
	if err := tx.Emit(ctx, evt); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// localize re-anchors a stored calendar day at midnight in the clinic location.
func (s *Service) localize(a model.Appointment) model.Appointment {
	a.Date = time.Date(a.Date.Year(), a.Date.Month(), a.Date.Day(), 0, 0, 0, 0, s.scheduler.Location())
	return a
}

func (s *Service) localizeAll(appts []model.Appointment) []model.Appointment {
	for i := range appts {
		appts[i] = s.localize(appts[i])
	}
	return appts
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func notFound(err error) error {
	if storage.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil && !scheduling.IsBookingError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
