package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxDB is the subset of pgxpool.Pool the repositories use.
type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db pgxDB
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func newPgRepositoryWithDB(db pgxDB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, patient_name, doctor_name, date_time, duration,
	type, priority, reason, status, approval, payment, rescheduling, cancellation, completion,
	version, created_at, last_updated_at, last_updated_by`

// Helpers

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var approval, payment, rescheduling, cancellation, completion []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.PatientName,
		&a.DoctorName,
		&a.DateTime,
		&a.Duration,
		&a.Type,
		&a.Priority,
		&a.Reason,
		&a.Status,
		&approval,
		&payment,
		&rescheduling,
		&cancellation,
		&completion,
		&a.Version,
		&a.CreatedAt,
		&a.LastUpdatedAt,
		&a.LastUpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if err := unmarshalDetail(approval, &a.Approval); err != nil {
		return nil, err
	}
	if err := unmarshalDetail(payment, &a.Payment); err != nil {
		return nil, err
	}
	if err := unmarshalDetail(rescheduling, &a.Rescheduling); err != nil {
		return nil, err
	}
	if len(cancellation) > 0 {
		a.Cancellation = &Cancellation{}
		if err := unmarshalDetail(cancellation, a.Cancellation); err != nil {
			return nil, err
		}
	}
	if len(completion) > 0 {
		a.Completion = &Completion{}
		if err := unmarshalDetail(completion, a.Completion); err != nil {
			return nil, err
		}
	}
	a.DateTime = a.DateTime.UTC()
	return &a, nil
}

func unmarshalDetail(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode appointment detail: %w", err)
	}
	return nil
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

type detailColumns struct {
	approval, payment, rescheduling, cancellation, completion []byte
}

func encodeDetails(a *Appointment) (detailColumns, error) {
	var d detailColumns
	var err error
	if d.approval, err = json.Marshal(a.Approval); err != nil {
		return d, fmt.Errorf("encode approval: %w", err)
	}
	if d.payment, err = json.Marshal(a.Payment); err != nil {
		return d, fmt.Errorf("encode payment: %w", err)
	}
	if d.rescheduling, err = json.Marshal(a.Rescheduling); err != nil {
		return d, fmt.Errorf("encode rescheduling: %w", err)
	}
	if d.cancellation, err = nullableJSON(a.Cancellation); err != nil {
		return d, fmt.Errorf("encode cancellation: %w", err)
	}
	if d.completion, err = nullableJSON(a.Completion); err != nil {
		return d, fmt.Errorf("encode completion: %w", err)
	}
	return d, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, seq int, h HistoryEntry) error {
	data, err := json.Marshal(h.Data)
	if err != nil {
		return fmt.Errorf("encode history data: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, seq, action, performed_by, at, notes, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appointmentID, seq, string(h.Action), h.PerformedBy, h.Timestamp, h.Notes, data)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	d, err := encodeDetails(a)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18, $19, $20)
	`,
		a.ID, a.PatientID, a.DoctorID, a.PatientName, a.DoctorName, a.DateTime, a.Duration,
		string(a.Type), string(a.Priority), a.Reason, string(a.Status),
		d.approval, d.payment, d.rescheduling, d.cancellation, d.completion,
		a.CreatedAt, a.LastUpdatedAt, a.LastUpdatedBy, a.End(),
	)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return fmt.Errorf("create appointment %s: %w", a.ID, ErrConflict)
		}
		if isPgError(err, pgExclusionViolation) {
			return fmt.Errorf("create appointment %s: %w", a.ID, ErrSlotNoLongerAvailable)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	for i, h := range a.History {
		if err := insertHistory(ctx, tx, a.ID, i+1, h); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create appointment: %w", err)
	}
	a.Version = 1
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT action, performed_by, at, notes, data
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h HistoryEntry
		var action string
		var data []byte
		if err := rows.Scan(&action, &h.PerformedBy, &h.Timestamp, &h.Notes, &data); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Action = Operation(action)
		h.Timestamp = h.Timestamp.UTC()
		if err := unmarshalDetail(data, &h.Data); err != nil {
			return nil, err
		}
		a.History = append(a.History, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return a, nil
}

func (r *PgRepository) Update(ctx context.Context, next *Appointment, expectedVersion int64) error {
	if len(next.History) == 0 {
		return fmt.Errorf("update appointment %s: no history entry to append", next.ID)
	}
	d, err := encodeDetails(next)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET date_time = $3,
		    status = $4,
		    approval = $5,
		    payment = $6,
		    rescheduling = $7,
		    cancellation = $8,
		    completion = $9,
		    last_updated_at = $10,
		    last_updated_by = $11,
		    ends_at = $12,
		    version = version + 1
		WHERE id = $1
		  AND version = $2
	`,
		next.ID, expectedVersion, next.DateTime, string(next.Status),
		d.approval, d.payment, d.rescheduling, d.cancellation, d.completion,
		next.LastUpdatedAt, next.LastUpdatedBy, next.End(),
	)
	if err != nil {
		if isPgError(err, pgExclusionViolation) {
			return fmt.Errorf("update appointment %s: %w", next.ID, ErrSlotNoLongerAvailable)
		}
		return fmt.Errorf("update appointment: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check appointment exists: %w", err)
		}
		if !exists {
			return ErrAppointmentNotFound
		}
		return ErrConflict
	}

	last := len(next.History)
	if err := insertHistory(ctx, tx, next.ID, last, next.History[last-1]); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update appointment: %w", err)
	}
	next.Version = expectedVersion + 1
	return nil
}

// List queries return appointments without their history.

func (r *PgRepository) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date_time < $3
		  AND date_time + make_interval(mins => duration) > $2
		ORDER BY date_time
	`, doctorID, from, to)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
}

func (r *PgRepository) ListScheduledBetween(ctx context.Context, from, to time.Time, statuses []Status) ([]Appointment, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE date_time >= $1
		  AND date_time < $2
		  AND status = ANY($3)
		ORDER BY date_time
	`, from, to, names)
}

func (r *PgRepository) list(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
