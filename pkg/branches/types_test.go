package branches

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

func TestBranch_ShortHash(t *testing.T) {
	assert.Equal(t, "", (&Branch{}).ShortHash())
	assert.Equal(t, "abc", (&Branch{LastCommitHash: "abc"}).ShortHash())
	assert.Equal(t, "1234567", (&Branch{LastCommitHash: "1234567890"}).ShortHash())
}

func TestBranch_MessageSummary(t *testing.T) {
	assert.Equal(t, "", (&Branch{}).MessageSummary())
	assert.Equal(t, "Fix bug", (&Branch{LastCommitMessage: "Fix bug\r\n\nDetails"}).MessageSummary())

	long := strings.Repeat("a", 150)
	assert.Equal(t, strings.Repeat("a", 100)+"...", (&Branch{LastCommitMessage: long}).MessageSummary())

	exact := strings.Repeat("b", 100)
	assert.Equal(t, exact, (&Branch{LastCommitMessage: exact}).MessageSummary())
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"main", "feature/login", "release-1.2"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "has space", "a..b", "/lead", "trail/", "what?", strings.Repeat("x", 101)} {
		assert.ErrorIs(t, ValidateName(bad), vfs.ErrInvalidArgument, bad)
	}
}
