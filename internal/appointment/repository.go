package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists Appointment aggregates.
type Repository interface {
	// Create stores a freshly booked appointment together with its history.
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Update writes next and appends its last history entry in one unit,
	// provided the stored version still equals expectedVersion. On success
	// next.Version is advanced. A stale version yields ErrConflict.
	Update(ctx context.Context, next *Appointment, expectedVersion int64) error

	// For the availability index
	ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Reminder worker
	ListScheduledBetween(ctx context.Context, from, to time.Time, statuses []Status) ([]Appointment, error)
}

// Directory resolves doctors, patients and working hours. It is owned by
// another service; only lookups are needed here.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	// GetDoctorWorkingHours returns nil, nil when the doctor does not work
	// on that weekday.
	GetDoctorWorkingHours(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WorkingHours, error)
}
