package jobs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// ErrCancelled is returned by Progress.Checkpoint once the job has been cancelled
var ErrCancelled = errors.New("job cancelled")

// Operation is the closed set of bulk job types
type Operation string

const (
	OperationCompress     Operation = "COMPRESS"
	OperationBulkUpload   Operation = "BULK_UPLOAD"
	OperationBulkDownload Operation = "BULK_DOWNLOAD"
	OperationMove         Operation = "MOVE"
	OperationCopy         Operation = "COPY"
	OperationDeleteBulk   Operation = "DELETE_BULK"
)

// Operations lists every supported operation
var Operations = []Operation{
	OperationCompress,
	OperationBulkUpload,
	OperationBulkDownload,
	OperationMove,
	OperationCopy,
	OperationDeleteBulk,
}

// ParseOperation accepts operation names in any case
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(s))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: unknown operation %q", vfs.ErrInvalidArgument, s)
}

// Status is a job's lifecycle state
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Target is where MOVE, COPY and BULK_UPLOAD place nodes. A nil ParentID means the scope's root.
type Target struct {
	Scope    vfs.Scope `json:"scope"`
	ParentID *int64    `json:"parent_id,omitempty"`
}

// UploadItem is a staged upload that BULK_UPLOAD turns into a file node
type UploadItem struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
}

// UploadKeyPrefix is the object key prefix of staged uploads
const UploadKeyPrefix = "uploads/"

// UploadKey is the staging key of upload id for userID
func UploadKey(userID, id string) string {
	return UploadKeyPrefix + url.PathEscape(userID) + "/" + id
}

// StagedBy reports whether key is an upload userID staged
func StagedBy(key, userID string) bool {
	rest, ok := strings.CutPrefix(key, UploadKeyPrefix+url.PathEscape(userID)+"/")
	return ok && rest != "" && rest != "." && rest != ".." && !strings.Contains(rest, "/")
}

// Job is one asynchronous bulk operation
type Job struct {
	ID              int64        `json:"id"`
	UserID          string       `json:"user_id"`
	Operation       Operation    `json:"operation"`
	NodeIDs         []int64      `json:"node_ids"`
	Items           []UploadItem `json:"items,omitempty"`
	Target          *Target      `json:"target,omitempty"`
	Status          Status       `json:"status"`
	ProcessedFiles  int          `json:"processed_files"`
	TotalFiles      int          `json:"total_files"`
	ProgressPercent int          `json:"progress_percent"`
	Result          string       `json:"result,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	ResubmittedFrom *int64       `json:"resubmitted_from,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SubmitRequest describes a new job
type SubmitRequest struct {
	UserID    string       `json:"-"`
	Operation Operation    `json:"operation"`
	NodeIDs   []int64      `json:"node_ids,omitempty"`
	Items     []UploadItem `json:"items,omitempty"`
	Target    *Target      `json:"target,omitempty"`
}

// Validate checks that the request carries what its operation needs
func (r SubmitRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", vfs.ErrInvalidArgument)
	}
	if _, err := ParseOperation(string(r.Operation)); err != nil {
		return err
	}

	switch r.Operation {
	case OperationBulkUpload:
		if len(r.Items) == 0 {
			return fmt.Errorf("%w: %s requires upload items", vfs.ErrInvalidArgument, r.Operation)
		}
		for _, item := range r.Items {
			if !strings.HasPrefix(item.Key, UploadKeyPrefix) {
				return fmt.Errorf("%w: %q is not a staged upload", vfs.ErrInvalidArgument, item.Key)
			}
			if !StagedBy(item.Key, r.UserID) {
				return fmt.Errorf("%w: upload %q was not staged by %s", vfs.ErrPermissionDenied, item.Key, r.UserID)
			}
			if item.Name == "" {
				return fmt.Errorf("%w: upload %q has no name", vfs.ErrInvalidArgument, item.Key)
			}
		}
	default:
		if len(r.NodeIDs) == 0 {
			return fmt.Errorf("%w: %s requires node ids", vfs.ErrInvalidArgument, r.Operation)
		}
		for _, id := range r.NodeIDs {
			if id <= 0 {
				return fmt.Errorf("%w: invalid node id %d", vfs.ErrInvalidArgument, id)
			}
		}
	}

	switch r.Operation {
	case OperationMove, OperationCopy, OperationBulkUpload:
		if r.Target == nil {
			return fmt.Errorf("%w: %s requires a target", vfs.ErrInvalidArgument, r.Operation)
		}
		return r.Target.Scope.Validate()
	}
	return nil
}

// percentOf returns processed*100/total, 0 when total is 0
func percentOf(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}
