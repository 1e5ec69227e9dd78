package sharelinks

import (
	"fmt"
	"time"

	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Link grants external, policy-limited access to one node
type Link struct {
	ID             int64      `json:"id"`
	Token          string     `json:"token"`
	NodeID         int64      `json:"node_id"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PasswordHash   string     `json:"-"`
	MaxDownloads   *int       `json:"max_downloads,omitempty"`
	DownloadCount  int        `json:"download_count"`
	IsActive       bool       `json:"is_active"`
	AllowDownload  bool       `json:"allow_download"`
	AllowPreview   bool       `json:"allow_preview"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// RequiresPassword reports whether callers must verify a password before resolving
func (l *Link) RequiresPassword() bool {
	return l.PasswordHash != ""
}

// IsExpired reports whether the link's validity window has passed at now
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// AtLimit reports whether the download cap has been reached
func (l *Link) AtLimit() bool {
	return l.MaxDownloads != nil && l.DownloadCount >= *l.MaxDownloads
}

// IsAccessible reports whether the link is active, unexpired and under its cap
func (l *Link) IsAccessible(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now) && !l.AtLimit()
}

// RemainingDownloads returns downloads left before the cap, or -1 when unlimited
func (l *Link) RemainingDownloads() int {
	if l.MaxDownloads == nil {
		return -1
	}
	if remaining := *l.MaxDownloads - l.DownloadCount; remaining > 0 {
		return remaining
	}
	return 0
}

// Options configure a new link. Nil toggles default to allowed.
type Options struct {
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	PasswordHash  string     `json:"-"`
	MaxDownloads  *int       `json:"max_downloads,omitempty"`
	AllowDownload *bool      `json:"allow_download,omitempty"`
	AllowPreview  *bool      `json:"allow_preview,omitempty"`
}

// UpdateOptions change an existing link. Nil fields are left as they are.
type UpdateOptions struct {
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ClearExpiry       bool       `json:"clear_expiry,omitempty"`
	MaxDownloads      *int       `json:"max_downloads,omitempty"`
	ClearMaxDownloads bool       `json:"clear_max_downloads,omitempty"`
	AllowDownload     *bool      `json:"allow_download,omitempty"`
	AllowPreview      *bool      `json:"allow_preview,omitempty"`
}

func validateLimits(expiresAt *time.Time, maxDownloads *int, now time.Time) error {
	if expiresAt != nil && !expiresAt.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", vfs.ErrInvalidArgument)
	}
	if maxDownloads != nil && *maxDownloads < 1 {
		return fmt.Errorf("%w: max downloads must be at least 1", vfs.ErrInvalidArgument)
	}
	return nil
}

// Access is the result of resolving a token
type Access struct {
	Link        *Link       `json:"link"`
	Node        *nodes.Node `json:"node"`
	CanDownload bool        `json:"can_download"`
	CanPreview  bool        `json:"can_preview"`
}
