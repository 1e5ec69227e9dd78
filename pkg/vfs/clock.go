package vfs

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so expiry and timestamps can be controlled in tests
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall clock time in UTC
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator produces unique identifiers for object keys
type IDGenerator interface {
	New() string
}

// UUIDGenerator generates random UUIDs
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	return uuid.NewString()
}

type utcClock struct {
	Clock
}

func (c utcClock) Now() time.Time {
	return c.Clock.Now().UTC()
}

// UTC wraps c so every reading is in UTC. Timestamps written to the
// database come from a UTC clock.
func UTC(c Clock) Clock {
	switch c.(type) {
	case RealClock, utcClock:
		return c
	}
	return utcClock{c}
}
