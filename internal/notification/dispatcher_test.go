package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingDeliverer struct {
	mu   sync.Mutex
	got  []Notification
	fail error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.got = append(d.got, n)
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

type brokenStore struct {
	*MemoryStore
}

func (brokenStore) Save(ctx context.Context, ns []Notification) error {
	return errors.New("connection refused")
}

// flakyStore fails Save while down is set.
type flakyStore struct {
	*MemoryStore
	down atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, ns []Notification) error {
	if s.down.Load() {
		return errors.New("connection refused")
	}
	return s.MemoryStore.Save(ctx, ns)
}

type movingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(store Store, d Deliverer) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Store:     store,
		Deliverer: d,
		Clock:     fixedClock{now: testNow},
		Logger:    logging.Discard(),
	})
}

func bookingEvent(a appointment.Appointment) Event {
	return EventFor(appointment.Event{Operation: appointment.OpBook, To: a.Status, At: testNow})
}

func TestDispatch_PersistsAndDelivers(t *testing.T) {
	store := NewMemoryStore()
	deliverer := &recordingDeliverer{}
	d := newTestDispatcher(store, deliverer)
	a := sampleAppointment(appointment.StatusApproved)

	ns := d.Dispatch(context.Background(), a, bookingEvent(a))
	require.Len(t, ns, 2)
	d.Wait()

	assert.Equal(t, 2, deliverer.count())
	for _, n := range store.All() {
		assert.Equal(t, DeliveryDelivered, n.DeliveryStatus)
		assert.Equal(t, 1, n.Attempts)
		require.NotNil(t, n.DeliveredAt)
		assert.Equal(t, testNow, *n.DeliveredAt)
	}
}

func TestDispatch_DeliveryOutlivesCallerContext(t *testing.T) {
	store := NewMemoryStore()
	deliverer := &recordingDeliverer{}
	d := newTestDispatcher(store, deliverer)
	a := sampleAppointment(appointment.StatusApproved)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, a, bookingEvent(a))
	cancel()
	d.Wait()

	assert.Equal(t, 2, deliverer.count())
}

func TestDispatch_SaveFailureSkipsDelivery(t *testing.T) {
	deliverer := &recordingDeliverer{}
	d := newTestDispatcher(brokenStore{NewMemoryStore()}, deliverer)
	a := sampleAppointment(appointment.StatusPendingApproval)

	ns := d.Dispatch(context.Background(), a, bookingEvent(a))
	d.Wait()

	assert.Len(t, ns, 2, "built notifications are still returned")
	assert.Zero(t, deliverer.count())
	assert.Equal(t, 1, d.Unsaved(), "batch queued for another save")
}

func TestDispatch_DeliveryFailureIsRecorded(t *testing.T) {
	store := NewMemoryStore()
	deliverer := &recordingDeliverer{fail: errors.New("smtp timeout")}
	d := newTestDispatcher(store, deliverer)
	a := sampleAppointment(appointment.StatusApproved)

	d.Dispatch(context.Background(), a, bookingEvent(a))
	d.Wait()

	for _, n := range store.All() {
		assert.Equal(t, DeliveryFailed, n.DeliveryStatus)
		assert.Equal(t, 1, n.Attempts)
		assert.Equal(t, "smtp timeout", n.LastError)
	}
}

func TestRedeliver(t *testing.T) {
	store := NewMemoryStore()
	deliverer := &recordingDeliverer{fail: errors.New("broker down")}
	d := newTestDispatcher(store, deliverer)
	a := sampleAppointment(appointment.StatusApproved)

	d.Dispatch(context.Background(), a, bookingEvent(a))
	d.Wait()

	// Still failing: attempts climb until the cap.
	delivered, err := d.Redeliver(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Zero(t, delivered)

	deliverer.mu.Lock()
	deliverer.fail = nil
	deliverer.mu.Unlock()

	delivered, err = d.Redeliver(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Zero(t, delivered, "attempt cap reached")

	delivered, err = d.Redeliver(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, n := range store.All() {
		assert.Equal(t, DeliveryDelivered, n.DeliveryStatus)
		assert.Equal(t, 3, n.Attempts)
		assert.Empty(t, n.LastError)
	}

	delivered, err = d.Redeliver(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestMultiDeliverer_StopsAtFirstError(t *testing.T) {
	first := &recordingDeliverer{}
	second := &recordingDeliverer{fail: errors.New("down")}
	third := &recordingDeliverer{}

	err := MultiDeliverer{first, second, third}.Deliver(context.Background(), Notification{ID: uuid.New()})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, first.count())
	assert.Zero(t, third.count())
}

func TestMemoryStore_ReadAndRecipientListing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	recipient := uuid.New()

	older := Notification{ID: uuid.New(), RecipientID: recipient, Status: StatusUnread, CreatedAt: testNow}
	newer := Notification{ID: uuid.New(), RecipientID: recipient, Status: StatusUnread, CreatedAt: testNow.Add(time.Hour)}
	other := Notification{ID: uuid.New(), RecipientID: uuid.New(), CreatedAt: testNow}
	require.NoError(t, store.Save(ctx, []Notification{older, newer, other}))

	list, err := store.ListForRecipient(ctx, recipient, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	readAt := testNow.Add(2 * time.Hour)
	require.NoError(t, store.MarkRead(ctx, older.ID, readAt))
	require.NoError(t, store.MarkRead(ctx, older.ID, readAt.Add(time.Hour)))

	list, err = store.ListForRecipient(ctx, recipient, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, list[1].Status)
	assert.Equal(t, readAt, *list[1].ReadAt, "first read wins")

	err = store.MarkRead(ctx, uuid.New(), readAt)
	assert.True(t, errors.Is(err, appointment.ErrNotFound))
}

func TestRedeliver_SavesQueuedBatchesOnceStoreRecovers(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.down.Store(true)
	deliverer := &recordingDeliverer{}
	clock := &movingClock{now: testNow}
	d := NewDispatcher(DispatcherConfig{
		Store:     store,
		Deliverer: deliverer,
		Clock:     clock,
		Logger:    logging.Discard(),
	})

	first := sampleAppointment(appointment.StatusApproved)
	second := sampleAppointment(appointment.StatusApproved)
	firstBatch := d.Dispatch(ctx, first, bookingEvent(first))
	secondBatch := d.Dispatch(ctx, second, bookingEvent(second))
	d.Wait()
	require.Equal(t, 2, d.Unsaved())

	saved, err := d.FlushUnsaved(ctx)
	assert.Error(t, err, "store still down")
	assert.Zero(t, saved)
	assert.Equal(t, 2, d.Unsaved(), "nothing lost while the store is down")

	store.down.Store(false)
	clock.Advance(time.Minute)

	delivered, err := d.Redeliver(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, delivered)
	assert.Zero(t, d.Unsaved())

	var want []uuid.UUID
	for _, n := range append(firstBatch, secondBatch...) {
		want = append(want, n.ID)
	}
	var got []uuid.UUID
	for _, n := range store.All() {
		got = append(got, n.ID)
		assert.Equal(t, DeliveryDelivered, n.DeliveryStatus)
		assert.Equal(t, 1, n.Attempts)
	}
	assert.Equal(t, want, got, "batches saved in dispatch order")

	// A repeated flush of the same records does not duplicate them.
	require.NoError(t, store.Save(ctx, firstBatch))
	assert.Len(t, store.All(), 4)
}

func TestFlushUnsaved_DropsOldestPastCap(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.down.Store(true)
	d := NewDispatcher(DispatcherConfig{
		Store:      store,
		Clock:      fixedClock{now: testNow},
		Logger:     logging.Discard(),
		MaxUnsaved: 2,
	})

	var batches [][]Notification
	for i := 0; i < 3; i++ {
		a := sampleAppointment(appointment.StatusApproved)
		batches = append(batches, d.Dispatch(ctx, a, bookingEvent(a)))
	}
	assert.Equal(t, 2, d.Unsaved())

	store.down.Store(false)
	saved, err := d.FlushUnsaved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, saved)

	var got []uuid.UUID
	for _, n := range store.All() {
		got = append(got, n.ID)
	}
	var want []uuid.UUID
	for _, n := range append(batches[1], batches[2]...) {
		want = append(want, n.ID)
	}
	assert.Equal(t, want, got, "oldest batch dropped")
}

func TestRedeliver_LeavesFreshPendingToInFlightDelivery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	deliverer := &recordingDeliverer{}
	clock := &movingClock{now: testNow}
	d := NewDispatcher(DispatcherConfig{
		Store:          store,
		Deliverer:      deliverer,
		Clock:          clock,
		Logger:         logging.Discard(),
		DeliverTimeout: 10 * time.Second,
	})

	pending := Notification{ID: uuid.New(), RecipientID: uuid.New(), DeliveryStatus: DeliveryPending, CreatedAt: testNow}
	require.NoError(t, store.Save(ctx, []Notification{pending}))

	clock.Advance(5 * time.Second)
	delivered, err := d.Redeliver(ctx, 5, 10)
	require.NoError(t, err)
	assert.Zero(t, delivered, "delivery may still be in flight")
	assert.Zero(t, deliverer.count())

	clock.Advance(6 * time.Second)
	delivered, err = d.Redeliver(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered, "stale pending record is picked up")
}

func TestMemoryStore_ListUndeliveredPendingCutoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := Notification{ID: uuid.New(), DeliveryStatus: DeliveryPending, CreatedAt: testNow.Add(-time.Minute)}
	fresh := Notification{ID: uuid.New(), DeliveryStatus: DeliveryPending, CreatedAt: testNow}
	failed := Notification{ID: uuid.New(), DeliveryStatus: DeliveryFailed, Attempts: 1, CreatedAt: testNow}
	done := Notification{ID: uuid.New(), DeliveryStatus: DeliveryDelivered, Attempts: 1, CreatedAt: testNow.Add(-time.Hour)}
	require.NoError(t, store.Save(ctx, []Notification{old, fresh, failed, done}))

	got, err := store.ListUndelivered(ctx, 5, 10, testNow.Add(-10*time.Second))
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, n := range got {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []uuid.UUID{old.ID, failed.ID}, ids)
}
