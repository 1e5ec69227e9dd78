package clipboard

import (
	"fmt"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Operation is what a paste of the entry will do
type Operation string

const (
	OperationCopy Operation = "COPY"
	OperationCut  Operation = "CUT"
)

// ParseOperation accepts COPY and CUT in any case
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "COPY", "copy":
		return OperationCopy, nil
	case "CUT", "cut":
		return OperationCut, nil
	}
	return "", fmt.Errorf("%w: unknown clipboard operation %q", vfs.ErrInvalidArgument, s)
}

// Status is the bookkeeping state of an entry
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusConsumed Status = "CONSUMED"
)

// Entry is a staged copy or cut selection
type Entry struct {
	UserID         string     `json:"user_id"`
	Operation      Operation  `json:"operation"`
	NodeIDs        []int64    `json:"node_ids"`
	Source         vfs.Scope  `json:"source"`
	SourceParentID *int64     `json:"source_parent_id,omitempty"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// IsActive reports whether the entry can still be pasted at now.
// Expiry is computed here, so an entry is inactive before any sweep marks it.
func (e *Entry) IsActive(now time.Time) bool {
	return e.Status == StatusActive && now.Before(e.ExpiresAt)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.NodeIDs = append([]int64(nil), e.NodeIDs...)
	if e.SourceParentID != nil {
		id := *e.SourceParentID
		c.SourceParentID = &id
	}
	if e.ClosedAt != nil {
		at := *e.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}

// StageRequest stages a selection for a user
type StageRequest struct {
	UserID         string    `json:"-"`
	Operation      Operation `json:"operation"`
	NodeIDs        []int64   `json:"node_ids"`
	Source         vfs.Scope `json:"source"`
	SourceParentID *int64    `json:"source_parent_id,omitempty"`
}

// Validate checks the request
func (r StageRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", vfs.ErrInvalidArgument)
	}
	if r.Operation != OperationCopy && r.Operation != OperationCut {
		return fmt.Errorf("%w: unknown clipboard operation %q", vfs.ErrInvalidArgument, r.Operation)
	}
	if len(r.NodeIDs) == 0 {
		return fmt.Errorf("%w: at least one node is required", vfs.ErrInvalidArgument)
	}
	return r.Source.Validate()
}
