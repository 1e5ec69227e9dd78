package tags

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const (
	maxTagNameLength = 64
	maxLabelLength   = 255
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Tag is a named label that can be attached to nodes
type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateTagRequest creates a tag
type CreateTagRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Actor       string `json:"-"`
}

// Validate checks the tag name and color
func (r CreateTagRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("%w: tag name is required", vfs.ErrInvalidArgument)
	}
	if len(name) > maxTagNameLength {
		return fmt.Errorf("%w: tag name exceeds %d bytes", vfs.ErrInvalidArgument, maxTagNameLength)
	}
	if r.Color != "" && !colorPattern.MatchString(r.Color) {
		return fmt.Errorf("%w: color %q is not of the form #rrggbb", vfs.ErrInvalidArgument, r.Color)
	}
	return nil
}

// Favorite marks a node for quick access by one user
type Favorite struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	NodeID    int64     `json:"node_id"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func validateLabel(label string) error {
	if len(label) > maxLabelLength {
		return fmt.Errorf("%w: label exceeds %d bytes", vfs.ErrInvalidArgument, maxLabelLength)
	}
	return nil
}
