package nodes

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// MaxNameLength is the longest allowed node name in bytes
const MaxNameLength = 255

// Kind distinguishes folders from files
type Kind string

const (
	KindFolder Kind = "FOLDER"
	KindFile   Kind = "FILE"
)

// Node is a file or folder in a scope's tree
type Node struct {
	ID         int64      `json:"id"`
	Scope      vfs.Scope  `json:"scope"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	MimeType   string     `json:"mime_type,omitempty"`
	StorageKey string     `json:"-"`
	Checksum   string     `json:"checksum,omitempty"`
	CreatedBy  string     `json:"created_by"`
	UpdatedBy  string     `json:"updated_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	IsDeleted  bool       `json:"is_deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// IsFolder reports whether the node can hold children
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// IsRoot reports whether the node sits at the top of its tree
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// FileVersion records one stored revision of a file's content
type FileVersion struct {
	ID         int64     `json:"id"`
	NodeID     int64     `json:"node_id"`
	Version    int       `json:"version"`
	StorageKey string    `json:"-"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	MimeType   string    `json:"mime_type,omitempty"`
	IsCurrent  bool      `json:"is_current"`
	IsObsolete bool      `json:"is_obsolete"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateFolderRequest creates an empty folder
type CreateFolderRequest struct {
	Scope    vfs.Scope `json:"scope"`
	ParentID *int64    `json:"parent_id,omitempty"`
	Name     string    `json:"name"`
	Actor    string    `json:"-"`
}

// CreateFileRequest uploads content and creates a file node for it
type CreateFileRequest struct {
	Scope    vfs.Scope
	ParentID *int64
	Name     string
	MimeType string
	Content  io.Reader
	Actor    string
}

// AdoptRequest creates a file node for an object that is already stored
type AdoptRequest struct {
	Scope    vfs.Scope
	ParentID *int64
	Name     string
	MimeType string
	Object   storage.ObjectInfo
	Actor    string
}

// ValidateName checks a single path segment
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", vfs.ErrInvalidArgument)
	case name == "." || name == "..":
		return fmt.Errorf("%w: name %q is reserved", vfs.ErrInvalidArgument, name)
	case strings.Contains(name, "/"):
		return fmt.Errorf("%w: name %q contains '/'", vfs.ErrInvalidArgument, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name exceeds %d bytes", vfs.ErrInvalidArgument, MaxNameLength)
	}
	return nil
}

// ChildPath joins a parent path and a child name. An empty parent path means a root node.
func ChildPath(parentPath, name string) string {
	if parentPath == "" || parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// NormalizePath turns user input like "docs/readme.md/" into "/docs/readme.md"
func NormalizePath(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: path is required", vfs.ErrInvalidArgument)
	}
	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if err := ValidateName(seg); err != nil {
			return "", err
		}
	}
	return "/" + strings.Join(segments, "/"), nil
}
