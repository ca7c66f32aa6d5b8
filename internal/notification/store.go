package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
)

// Store persists notification records.
type Store interface {
	// Save inserts records whose ID is not stored yet, so a retried batch
	// is not duplicated.
	Save(ctx context.Context, ns []Notification) error
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// ListUndelivered returns failed records, and pending records created
	// before pendingBefore, with fewer than maxAttempts attempts, oldest
	// first. Newer pending records may still have a delivery in flight.
	ListUndelivered(ctx context.Context, maxAttempts, limit int, pendingBefore time.Time) ([]Notification, error)
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Deliverer hands a notification to a transport.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Notification
	order []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]Notification)}
}

func (s *MemoryStore) Save(ctx context.Context, ns []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range ns {
		if _, ok := s.items[n.ID]; ok {
			continue
		}
		s.order = append(s.order, n.ID)
		s.items[n.ID] = n
	}
	return nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, func(n *Notification) {
		n.Attempts++
		n.DeliveryStatus = DeliveryDelivered
		n.DeliveredAt = &at
		n.LastError = ""
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.update(id, func(n *Notification) {
		n.Attempts++
		n.DeliveryStatus = DeliveryFailed
		n.LastError = reason
	})
}

func (s *MemoryStore) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, func(n *Notification) {
		if n.Status == StatusRead {
			return
		}
		n.Status = StatusRead
		n.ReadAt = &at
	})
}

func (s *MemoryStore) ListUndelivered(ctx context.Context, maxAttempts, limit int, pendingBefore time.Time) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for _, id := range s.order {
		n := s.items[id]
		if n.Attempts >= maxAttempts {
			continue
		}
		switch n.DeliveryStatus {
		case DeliveryFailed:
		case DeliveryPending:
			if !n.CreatedAt.Before(pendingBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for _, id := range s.order {
		if n := s.items[id]; n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every stored record in insertion order.
func (s *MemoryStore) All() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Notification, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

func (s *MemoryStore) update(id uuid.UUID, fn func(n *Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok {
		return appointment.ErrNotificationNotFound
	}
	fn(&n)
	s.items[id] = n
	return nil
}
