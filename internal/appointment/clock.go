package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current instant to transitions.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies identifiers for new aggregates and records.
type IDGenerator interface {
	NewID() uuid.UUID
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() uuid.UUID { return uuid.New() }
