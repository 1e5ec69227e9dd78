package vfs

import "errors"

// Error taxonomy shared by all services.
var (
	// ErrNotFound means the node, branch, job or link is absent or soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a duplicate name or path, a duplicate branch name,
	// or an attempt to remove the only principal branch.
	ErrConflict = errors.New("conflict")

	// ErrPermissionDenied means the effective permission is below the required level.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidState means the operation is illegal for the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrExpired means the clipboard entry or share link is past its validity window.
	ErrExpired = errors.New("expired")

	// ErrLimitExceeded means a share link reached its download cap.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidArgument means the request itself is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)
