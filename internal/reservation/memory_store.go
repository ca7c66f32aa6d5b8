package reservation

import (
	"context"
	"sync"
	"time"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
)

type memoryHold struct {
	token     string
	expiresAt time.Time
}

// MemoryHoldStore keeps holds in process memory. Expiry is evaluated lazily
// against the injected clock.
type MemoryHoldStore struct {
	mu    sync.Mutex
	clock appointment.Clock
	holds map[string]memoryHold
}

func NewMemoryHoldStore(clock appointment.Clock) *MemoryHoldStore {
	if clock == nil {
		clock = appointment.SystemClock{}
	}
	return &MemoryHoldStore{clock: clock, holds: make(map[string]memoryHold)}
}

func (s *MemoryHoldStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if h, ok := s.holds[key]; ok && now.Before(h.expiresAt) {
		return false, nil
	}
	s.holds[key] = memoryHold{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryHoldStore) Holder(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[key]
	if !ok {
		return "", nil
	}
	if !s.clock.Now().Before(h.expiresAt) {
		delete(s.holds, key)
		return "", nil
	}
	return h.token, nil
}

func (s *MemoryHoldStore) Release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holds[key]; ok && h.token == token {
		delete(s.holds, key)
	}
	return nil
}
