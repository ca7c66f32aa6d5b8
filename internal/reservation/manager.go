package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

// HoldStore is an atomic key/value store with expiry. Acquire must be a
// single conditional insert so that concurrent callers get exactly one winner.
type HoldStore interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Holder returns the token currently stored under key, or "" if none.
	Holder(ctx context.Context, key string) (string, error)
	// Release deletes key only if it still holds token.
	Release(ctx context.Context, key, token string) error
}

// Hold is a short-lived exclusive claim on one doctor slot.
type Hold struct {
	Token     string    `json:"hold_token"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotStart time.Time `json:"slot_start"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Manager struct {
	store       HoldStore
	ttl         time.Duration
	granularity time.Duration
	clock       appointment.Clock
	logger      *logging.Logger
}

func NewManager(store HoldStore, ttl, granularity time.Duration, clock appointment.Clock, logger *logging.Logger) *Manager {
	if clock == nil {
		clock = appointment.SystemClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:       store,
		ttl:         ttl,
		granularity: granularity,
		clock:       clock,
		logger:      logger,
	}
}

// SlotKey is the hold key for the slot containing t.
func SlotKey(doctorID uuid.UUID, t time.Time, granularity time.Duration) string {
	return fmt.Sprintf("hold:slot:%s:%d", doctorID, bucket(t, granularity).Unix())
}

func bucket(t time.Time, granularity time.Duration) time.Time {
	return t.UTC().Truncate(granularity)
}

// Reserve grants a hold or fails immediately with ErrSlotNoLongerAvailable.
func (m *Manager) Reserve(ctx context.Context, doctorID uuid.UUID, dateTime time.Time) (*Hold, error) {
	key := SlotKey(doctorID, dateTime, m.granularity)
	token := uuid.NewString()

	ok, err := m.store.Acquire(ctx, key, token, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire slot hold: %w", err)
	}
	if !ok {
		return nil, appointment.ErrSlotNoLongerAvailable
	}

	return &Hold{
		Token:     token,
		DoctorID:  doctorID,
		SlotStart: bucket(dateTime, m.granularity),
		ExpiresAt: m.clock.Now().Add(m.ttl),
	}, nil
}

// Validate checks that token still owns the slot.
func (m *Manager) Validate(ctx context.Context, doctorID uuid.UUID, dateTime time.Time, token string) error {
	if token == "" {
		return appointment.ErrSlotNoLongerAvailable
	}
	holder, err := m.store.Holder(ctx, SlotKey(doctorID, dateTime, m.granularity))
	if err != nil {
		return fmt.Errorf("read slot hold: %w", err)
	}
	if holder != token {
		return appointment.ErrSlotNoLongerAvailable
	}
	return nil
}

// Release drops the hold. Failures are logged; the hold expires anyway.
func (m *Manager) Release(ctx context.Context, doctorID uuid.UUID, dateTime time.Time, token string) {
	key := SlotKey(doctorID, dateTime, m.granularity)
	if err := m.store.Release(ctx, key, token); err != nil {
		m.logger.Warn("release slot hold failed", "key", key, "error", err)
	}
}

// Buckets lists the slot starts that [start, start+duration) touches, first
// to last. Two overlapping intervals always share at least one bucket.
func (m *Manager) Buckets(start time.Time, duration time.Duration) []time.Time {
	first := bucket(start, m.granularity)
	end := start.Add(duration)
	out := []time.Time{first}
	for b := first.Add(m.granularity); b.Before(end); b = b.Add(m.granularity) {
		out = append(out, b)
	}
	return out
}

// Extend holds every bucket of [start, start+duration) after the first, which
// the caller already holds. If any is taken the ones acquired so far are
// released and ErrSlotNoLongerAvailable is returned. The returned func
// releases the extra holds.
func (m *Manager) Extend(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) (func(), error) {
	var taken []*Hold
	release := func() {
		bg := context.WithoutCancel(ctx)
		for _, h := range taken {
			m.Release(bg, doctorID, h.SlotStart, h.Token)
		}
	}

	for _, b := range m.Buckets(start, duration)[1:] {
		h, err := m.Reserve(ctx, doctorID, b)
		if err != nil {
			release()
			return nil, err
		}
		taken = append(taken, h)
	}
	return release, nil
}

// WithSpan runs fn while holding every bucket of [start, start+duration) and
// releases them afterwards.
func (m *Manager) WithSpan(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration, fn func(ctx context.Context) error) error {
	hold, err := m.Reserve(ctx, doctorID, start)
	if err != nil {
		return err
	}
	defer m.Release(context.WithoutCancel(ctx), doctorID, start, hold.Token)

	release, err := m.Extend(ctx, doctorID, start, duration)
	if err != nil {
		return err
	}
	defer release()

	holdCtx, cancel := context.WithTimeout(ctx, m.ttl)
	defer cancel()

	return fn(holdCtx)
}
