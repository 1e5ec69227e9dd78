package branches

import (
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const (
	shortHashLength  = 7
	summaryMaxLength = 100
	maxNameLength    = 100
)

// Branch is a named, independent tree of a repository
type Branch struct {
	ID                int64      `json:"id"`
	RepositoryID      int64      `json:"repository_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	IsPrincipal       bool       `json:"is_principal"`
	IsProtected       bool       `json:"is_protected"`
	LastCommitHash    string     `json:"last_commit_hash,omitempty"`
	LastCommitMessage string     `json:"last_commit_message,omitempty"`
	LastCommitAuthor  string     `json:"last_commit_author,omitempty"`
	LastCommitAt      *time.Time `json:"last_commit_at,omitempty"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ShortHash returns the abbreviated last commit hash
func (b *Branch) ShortHash() string {
	if len(b.LastCommitHash) <= shortHashLength {
		return b.LastCommitHash
	}
	return b.LastCommitHash[:shortHashLength]
}

// MessageSummary returns the first line of the last commit message, truncated for display
func (b *Branch) MessageSummary() string {
	line, _, _ := strings.Cut(b.LastCommitMessage, "\n")
	line = strings.TrimRight(line, "\r")
	if runes := []rune(line); len(runes) > summaryMaxLength {
		return string(runes[:summaryMaxLength]) + "..."
	}
	return line
}

// Scope returns the node tree scope of this branch
func (b *Branch) Scope() vfs.Scope {
	return vfs.RepositoryScope(b.RepositoryID, b.ID)
}

// Commit is the last-commit metadata recorded on a branch
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	At      time.Time `json:"at"`
}

// CreateRequest creates a branch
type CreateRequest struct {
	RepositoryID int64  `json:"repository_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Actor        string `json:"-"`
}

// ValidateName checks a branch name
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: branch name is required", vfs.ErrInvalidArgument)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: branch name exceeds %d bytes", vfs.ErrInvalidArgument, maxNameLength)
	case strings.ContainsAny(name, " \t\n~^:?*[\\"):
		return fmt.Errorf("%w: branch name %q contains invalid characters", vfs.ErrInvalidArgument, name)
	case strings.Contains(name, ".."), strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"):
		return fmt.Errorf("%w: branch name %q is malformed", vfs.ErrInvalidArgument, name)
	}
	return nil
}
