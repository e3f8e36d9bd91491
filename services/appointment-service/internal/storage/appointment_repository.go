package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/md-rashed-zaman/dentalclinic/libs/db"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/outbox"
)

const dateLayout = "2006-01-02"

var dialect = goqu.Dialect("postgres")

// DayTx is a transaction holding the schedule lock of one calendar day. Everything
// read through it is stable until the transaction ends.
type DayTx interface {
	// ActiveOn lists the pending and confirmed appointments of the locked day.
	ActiveOn(ctx context.Context) ([]model.Appointment, error)
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, appt *model.Appointment) error
	UpdateStatus(ctx context.Context, id string, status model.Status) (time.Time, error)
	Delete(ctx context.Context, id string) error
	Emit(ctx context.Context, evt outbox.Event) error
}

type ListFilter struct {
	PatientID string
	Date      time.Time // zero: any day
	From      time.Time // zero: no lower bound
	Statuses  []model.Status
	Ascending bool
	Limit     int
}

// querier is the part of *db.Pool the repositories use.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AppointmentRepository struct {
	pool   querier
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

// WithinDay runs fn in a transaction that holds an advisory lock on date. Concurrent
// bookings for the same day queue on the lock, so the conflict check and the insert
// see a consistent schedule. fn's error rolls the transaction back.
func (r *AppointmentRepository) WithinDay(ctx context.Context, date time.Time, fn func(ctx context.Context, tx DayTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "appointments:"+date.Format(dateLayout)); err != nil {
		return fmt.Errorf("lock day: %w", err)
	}
	if err := fn(ctx, &dayTx{tx: tx, date: date, outbox: r.outbox}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, selectAppointment+` WHERE a.id = $1`, id))
	return appt, notFound(err)
}

func (r *AppointmentRepository) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	query, args, err := buildListQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Summary counts patients and appointments for the staff dashboards. Today and
// Upcoming ignore cancelled appointments.
func (r *AppointmentRepository) Summary(ctx context.Context, today time.Time) (model.Summary, error) {
	var s model.Summary
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM patients),
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'confirmed'),
			count(*) FILTER (WHERE appt_date = $1::date AND status <> 'cancelled'),
			count(*) FILTER (WHERE appt_date >= $1::date AND status <> 'cancelled')
		FROM appointments
	`, today.Format(dateLayout)).Scan(&s.TotalPatients, &s.Pending, &s.Confirmed, &s.Today, &s.Upcoming)
	return s, err
}

func buildListQuery(f ListFilter) (string, []any, error) {
	ds := dialect.From(goqu.T("appointments").As("a")).
		Join(goqu.T("patients").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("a.patient_id")))).
		Select(appointmentColumns...).
		Prepared(true)

	if f.PatientID != "" {
		ds = ds.Where(goqu.I("a.patient_id").Eq(f.PatientID))
	}
	if !f.Date.IsZero() {
		ds = ds.Where(goqu.I("a.appt_date").Eq(goqu.Cast(goqu.V(f.Date.Format(dateLayout)), "DATE")))
	}
	if !f.From.IsZero() {
		ds = ds.Where(goqu.I("a.appt_date").Gte(goqu.Cast(goqu.V(f.From.Format(dateLayout)), "DATE")))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		ds = ds.Where(goqu.I("a.status").In(statuses))
	}
	if f.Ascending {
		ds = ds.Order(goqu.I("a.appt_date").Asc(), goqu.I("a.start_time").Asc())
	} else {
		ds = ds.Order(goqu.I("a.appt_date").Desc(), goqu.I("a.start_time").Desc())
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	return ds.ToSQL()
}

var appointmentColumns = []any{
	goqu.L("a.id::text"), goqu.L("a.patient_id::text"), goqu.I("p.name"), goqu.I("a.appt_date"), goqu.I("a.start_time"),
	goqu.I("a.procedure"), goqu.I("a.status"), goqu.I("a.created_at"), goqu.I("a.updated_at"),
}

const selectAppointment = `
	SELECT a.id::text, a.patient_id::text, p.name, a.appt_date, a.start_time,
		a.procedure, a.status, a.created_at, a.updated_at
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var start pgtype.Time
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.PatientName,
		&appt.Date,
		&start,
		&appt.Procedure,
		&status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.StartMinute = int(start.Microseconds / int64(time.Minute/time.Microsecond))
	appt.Status = model.Status(status)
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func startTime(minute int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(minute) * int64(time.Minute/time.Microsecond), Valid: true}
}

type dayTx struct {
	tx     pgx.Tx
	date   time.Time
	outbox *outbox.Repository
}

func (d *dayTx) ActiveOn(ctx context.Context) ([]model.Appointment, error) {
	rows, err := d.tx.Query(ctx, selectAppointment+`
		WHERE a.appt_date = $1::date AND a.status <> 'cancelled'
		ORDER BY a.start_time ASC
	`, d.date.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (d *dayTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(d.tx.QueryRow(ctx, selectAppointment+`
		WHERE a.id = $1 AND a.appt_date = $2::date
		FOR UPDATE OF a
	`, id, d.date.Format(dateLayout)))
	return appt, notFound(err)
}

func (d *dayTx) Insert(ctx context.Context, appt *model.Appointment) error {
	_, err := d.tx.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, appt_date, start_time, procedure, status, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
	`, appt.ID, appt.PatientID, appt.Date.Format(dateLayout), startTime(appt.StartMinute),
		appt.Procedure, string(appt.Status), appt.CreatedAt, appt.UpdatedAt)
	return err
}

func (d *dayTx) UpdateStatus(ctx context.Context, id string, status model.Status) (time.Time, error) {
	var updatedAt time.Time
	err := d.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, id, string(status)).Scan(&updatedAt)
	return updatedAt, notFound(err)
}

func (d *dayTx) Delete(ctx context.Context, id string) error {
	tag, err := d.tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *dayTx) Emit(ctx context.Context, evt outbox.Event) error {
	if d.outbox == nil {
		return nil
	}
	return d.outbox.Insert(ctx, d.tx, evt)
}
