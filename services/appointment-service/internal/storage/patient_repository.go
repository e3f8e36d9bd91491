package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/dentalclinic/libs/db"
	"github.com/md-rashed-zaman/dentalclinic/services/appointment-service/internal/model"
)

type PatientRepository struct {
	pool  querier
	newID func() string
}

func NewPatientRepository(pool *db.Pool) *PatientRepository {
	return &PatientRepository{pool: pool, newID: uuid.NewString}
}

// Create inserts p under a fresh id and fills in ID and CreatedAt. A second profile
// for the same user fails with a unique violation.
func (r *PatientRepository) Create(ctx context.Context, p *model.Patient) error {
	id := r.newID()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, user_id, name, age, email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, id, p.UserID, p.Name, p.Age, p.Email).Scan(&p.CreatedAt)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (r *PatientRepository) ByUserID(ctx context.Context, userID string) (model.Patient, error) {
	var p model.Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, user_id, name, age, email, created_at
		FROM patients
		WHERE user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.Age, &p.Email, &p.CreatedAt)
	return p, notFound(err)
}
