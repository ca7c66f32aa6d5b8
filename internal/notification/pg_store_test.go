package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newPgStoreWithDB(mock), mock
}

var notificationCols = []string{
	"id", "recipient_id", "recipient_type", "type", "title", "message", "priority", "status",
	"delivery_status", "attempts", "last_error", "data", "created_at", "delivered_at", "read_at",
}

func TestPgStore_SaveInsertsAllInOneTx(t *testing.T) {
	store, mock := newMockStore(t)
	a := sampleAppointment(appointment.StatusPendingApproval)
	ns := Build(a, EventFor(appointment.Event{Operation: appointment.OpBook}), BuildOptions{Now: testNow})

	mock.ExpectBegin()
	for _, n := range ns {
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(
				n.ID, n.RecipientID, string(n.RecipientType), "booking",
				n.Title, n.Message, "normal", "unread", "pending", 0, "",
				pgxmock.AnyArg(), testNow,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), ns))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_SaveRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	a := sampleAppointment(appointment.StatusApproved)
	ns := Build(a, EventFor(appointment.Event{Operation: appointment.OpApprove}), BuildOptions{Now: testNow})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), ns)
	assert.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_MarkMissingIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE notifications").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE notifications").
		WithArgs(id, "timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.True(t, errors.Is(store.MarkDelivered(context.Background(), id, testNow), appointment.ErrNotFound))
	assert.True(t, errors.Is(store.MarkFailed(context.Background(), id, "timeout"), appointment.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_ListUndelivered(t *testing.T) {
	store, mock := newMockStore(t)
	id, recipient := uuid.New(), uuid.New()
	cutoff := testNow.Add(-10 * time.Second)

	mock.ExpectQuery(`delivery_status = 'pending' AND created_at < \$3`).
		WithArgs(5, 100, cutoff).
		WillReturnRows(mock.NewRows(notificationCols).AddRow(
			id, recipient, RecipientDoctor, TypeReminder, "Appointment reminder", "soon",
			PriorityHigh, StatusUnread, DeliveryFailed, 2, "broker down",
			[]byte(`{"window":"30min"}`), testNow, (*time.Time)(nil), (*time.Time)(nil),
		))

	got, err := store.ListUndelivered(context.Background(), 5, 100, cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, DeliveryFailed, got[0].DeliveryStatus)
	assert.Equal(t, 2, got[0].Attempts)
	assert.Equal(t, "30min", got[0].Data["window"])
	assert.Nil(t, got[0].DeliveredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
