package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
)

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgStore struct {
	db pgxDB
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool}
}

func newPgStoreWithDB(db pgxDB) *PgStore {
	return &PgStore{db: db}
}

const notificationColumns = `id, recipient_id, recipient_type, type, title, message, priority, status,
	delivery_status, attempts, last_error, data, created_at, delivered_at, read_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var data []byte

	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.RecipientType,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Priority,
		&n.Status,
		&n.DeliveryStatus,
		&n.Attempts,
		&n.LastError,
		&data,
		&n.CreatedAt,
		&n.DeliveredAt,
		&n.ReadAt,
	)
	if err != nil {
		return Notification{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return Notification{}, fmt.Errorf("decode notification data: %w", err)
		}
	}
	return n, nil
}

// Save inserts all records in one transaction.
func (s *PgStore) Save(ctx context.Context, ns []Notification) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, n := range ns {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("encode notification data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO notifications (id, recipient_id, recipient_type, type, title, message, priority,
				status, delivery_status, attempts, last_error, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING
		`,
			n.ID,
			n.RecipientID,
			string(n.RecipientType),
			string(n.Type),
			n.Title,
			n.Message,
			string(n.Priority),
			string(n.Status),
			string(n.DeliveryStatus),
			n.Attempts,
			n.LastError,
			data,
			n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'delivered', delivered_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrNotificationNotFound
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET delivery_status = 'failed', attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrNotificationNotFound
	}
	return nil
}

func (s *PgStore) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'read', read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrNotificationNotFound
	}
	return nil
}

func (s *PgStore) ListUndelivered(ctx context.Context, maxAttempts, limit int, pendingBefore time.Time) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE attempts < $1
		  AND (delivery_status = 'failed' OR (delivery_status = 'pending' AND created_at < $3))
		ORDER BY created_at
		LIMIT $2
	`, maxAttempts, limit, pendingBefore)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PgStore) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
