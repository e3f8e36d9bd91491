package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// IsConflict reports a storage-level slot collision: an exclusion violation or the
// unique index on active (date, start) pairs.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" || (pgErr.Code == "23505" && pgErr.ConstraintName == "appointments_active_start_uq")
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// IsUnknownPatient reports an appointment that references no stored patient.
func IsUnknownPatient(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503" && pgErr.ConstraintName == "appointments_patient_id_fkey"
}

// IsDuplicate reports a unique violation on any other constraint, such as a second
// patient profile for one user.
func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && !IsConflict(err)
}
