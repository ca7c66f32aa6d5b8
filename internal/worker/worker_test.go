package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/notification"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/reservation"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type workerFixture struct {
	repo       *appointment.MemoryRepository
	store      *notification.MemoryStore
	dispatcher *notification.Dispatcher
	worker     *Worker
}

func newWorkerFixture(t *testing.T, claims Claimer) *workerFixture {
	t.Helper()
	clock := fixedClock{now: testNow}
	f := &workerFixture{
		repo:  appointment.NewMemoryRepository(),
		store: notification.NewMemoryStore(),
	}
	f.dispatcher = notification.NewDispatcher(notification.DispatcherConfig{
		Store:  f.store,
		Clock:  clock,
		Logger: logging.Discard(),
	})
	f.worker = New(Config{
		Repository: f.repo,
		Dispatcher: f.dispatcher,
		Claims:     claims,
		Clock:      clock,
		Logger:     logging.Discard(),
		Interval:   time.Minute,
	})
	return f
}

func (f *workerFixture) add(t *testing.T, at time.Time, status appointment.Status) appointment.Appointment {
	t.Helper()
	a := appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		DateTime:  at,
		Duration:  30,
		Status:    status,
	}
	require.NoError(t, f.repo.Create(context.Background(), &a))
	return a
}

func TestSendReminders(t *testing.T) {
	f := newWorkerFixture(t, reservation.NewMemoryHoldStore(fixedClock{now: testNow}))

	dayAhead := f.add(t, testNow.Add(24*time.Hour), appointment.StatusApproved)
	twoHours := f.add(t, testNow.Add(2*time.Hour+30*time.Second), appointment.StatusConfirmed)
	halfHour := f.add(t, testNow.Add(30*time.Minute), appointment.StatusApproved)
	f.add(t, testNow.Add(30*time.Minute), appointment.StatusPendingApproval)
	f.add(t, testNow.Add(2*time.Hour), appointment.StatusCancelled)
	f.add(t, testNow.Add(3*time.Hour), appointment.StatusConfirmed)

	sent, err := f.worker.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	windows := map[uuid.UUID]string{}
	for _, n := range f.store.All() {
		assert.Equal(t, notification.TypeReminder, n.Type)
		id, err := uuid.Parse(n.Data["appointment_id"].(string))
		require.NoError(t, err)
		windows[id] = n.Data["window"].(string)
	}
	assert.Equal(t, map[uuid.UUID]string{
		dayAhead.ID: notification.Window24h,
		twoHours.ID: notification.Window2h,
		halfHour.ID: notification.Window30min,
	}, windows)
	assert.Len(t, f.store.All(), 6, "patient and doctor each")

	sent, err = f.worker.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent, "claims suppress duplicates")
	assert.Len(t, f.store.All(), 6)
}

func TestSendReminders_WithoutClaimsRepeats(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.add(t, testNow.Add(2*time.Hour), appointment.StatusApproved)

	for i := 0; i < 2; i++ {
		sent, err := f.worker.SendReminders(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
	}
}

func TestReminderKey_ChangesWithStartTime(t *testing.T) {
	a := appointment.Appointment{ID: uuid.New(), DateTime: testNow}
	before := reminderKey(a, notification.Window2h)

	a.DateTime = a.DateTime.Add(time.Hour)
	assert.NotEqual(t, before, reminderKey(a, notification.Window2h))
	assert.NotEqual(t, before, reminderKey(a, notification.Window24h))
}

func TestRun_StopsWhenContextDone(t *testing.T) {
	f := newWorkerFixture(t, nil)
	f.add(t, testNow.Add(24*time.Hour), appointment.StatusConfirmed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Len(t, f.store.All(), 2, "initial run still happens")
}
