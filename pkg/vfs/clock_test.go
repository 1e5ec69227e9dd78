package vfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type zonedClock struct {
	now time.Time
}

func (c zonedClock) Now() time.Time {
	return c.now
}

func TestUTC(t *testing.T) {
	zone := time.FixedZone("UTC-7", -7*60*60)
	local := time.Date(2024, 3, 1, 9, 0, 0, 0, zone)

	clock := UTC(zonedClock{now: local})
	got := clock.Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
	assert.Equal(t, 16, got.Hour())

	assert.Equal(t, clock, UTC(clock), "already normalized")
	assert.Equal(t, RealClock{}, UTC(RealClock{}))
	assert.Equal(t, time.UTC, RealClock{}.Now().Location())
}
