package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetUserID(ctx))
	assert.Empty(t, GetRequestID(ctx))
	_, ok := GetTeamIDs(ctx)
	assert.False(t, ok)

	ctx = WithUserID(ctx, "alice")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTeamIDs(ctx, []string{"docs", "platform"})

	assert.Equal(t, "alice", GetUserID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
	teams, ok := GetTeamIDs(ctx)
	assert.True(t, ok)
	assert.Equal(t, []string{"docs", "platform"}, teams)
}

func TestKeysDoNotCollideWithStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "user_id", "mallory")
	assert.Empty(t, GetUserID(ctx))
}
