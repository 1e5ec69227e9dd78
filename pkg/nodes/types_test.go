package nodes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "readme.md", false},
		{"spaces", "my notes", false},
		{"unicode", "résumé.pdf", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"max length", strings.Repeat("a", MaxNameLength), false},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChildPath(t *testing.T) {
	assert.Equal(t, "/docs", ChildPath("", "docs"))
	assert.Equal(t, "/docs", ChildPath("/", "docs"))
	assert.Equal(t, "/docs/readme.md", ChildPath("/docs", "readme.md"))
}

func TestNormalizePath(t *testing.T) {
	got, err := NormalizePath("docs/readme.md/")
	require.NoError(t, err)
	assert.Equal(t, "/docs/readme.md", got)

	got, err = NormalizePath("/docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", got)

	for _, bad := range []string{"", "/", "/docs//readme.md", "/docs/../etc"} {
		_, err := NormalizePath(bad)
		assert.ErrorIs(t, err, vfs.ErrInvalidArgument, "path %q", bad)
	}
}
