package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

func TestLevel_Satisfies(t *testing.T) {
	tests := []struct {
		have, need Level
		want       bool
	}{
		{LevelAdmin, LevelWrite, true},
		{LevelAdmin, LevelRead, true},
		{LevelWrite, LevelRead, true},
		{LevelWrite, LevelAdmin, false},
		{LevelRead, LevelWrite, false},
		{LevelNone, LevelRead, false},
		{LevelNone, LevelNone, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.have.Satisfies(tt.need), "%s satisfies %s", tt.have, tt.need)
	}
	assert.Equal(t, LevelAdmin, Max(LevelRead, LevelAdmin))
	assert.Equal(t, LevelWrite, Max(LevelWrite, LevelNone))
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("write")
	require.NoError(t, err)
	assert.Equal(t, LevelWrite, l)

	_, err = ParseLevel("owner")
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestGrantRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  GrantRequest
		ok   bool
	}{
		{"user", GrantRequest{NodeID: 1, UserID: "alice", Level: LevelRead}, true},
		{"team", GrantRequest{NodeID: 1, TeamID: "devs", Level: LevelAdmin}, true},
		{"both subjects", GrantRequest{NodeID: 1, UserID: "alice", TeamID: "devs", Level: LevelRead}, false},
		{"no subject", GrantRequest{NodeID: 1, Level: LevelRead}, false},
		{"none level", GrantRequest{NodeID: 1, UserID: "alice", Level: LevelNone}, false},
		{"no node", GrantRequest{UserID: "alice", Level: LevelRead}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
			}
		})
	}
}
