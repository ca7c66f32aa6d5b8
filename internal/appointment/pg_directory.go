package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDirectory reads the doctor and patient tables maintained by the
// directory service.
type PgDirectory struct {
	db pgxDB
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{db: pool}
}

func (d *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	var department, specialty *string

	err := d.db.QueryRow(ctx, `
		SELECT id, name, department, specialty
		FROM doctors
		WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Name, &department, &specialty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if department != nil {
		doc.Department = *department
	}
	if specialty != nil {
		doc.Specialty = *specialty
	}
	return &doc, nil
}

func (d *PgDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient

	err := d.db.QueryRow(ctx, `
		SELECT id, name, email
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (d *PgDirectory) GetDoctorWorkingHours(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WorkingHours, error) {
	h := WorkingHours{Weekday: weekday}

	err := d.db.QueryRow(ctx, `
		SELECT start_time, end_time
		FROM doctor_working_hours
		WHERE doctor_id = $1 AND weekday = $2
	`, doctorID, int(weekday)).Scan(&h.Start, &h.End)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}
