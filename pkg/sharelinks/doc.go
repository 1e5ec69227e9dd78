// Package sharelinks issues tokens that give outside users limited access to one node.
//
// # Overview
//
// A link carries an optional expiry, an optional password hash, an optional
// download cap and two toggles for download and preview:
//
//	link, err := svc.Issue(ctx, nodeID, "alice", sharelinks.Options{
//		ExpiresAt:    &weekFromNow,
//		MaxDownloads: &three,
//	})
//
// Tokens are 32 bytes from crypto/rand, hex encoded.
//
// # Resolution
//
// Resolve and RecordDownload recompute accessibility on every call and map
// each failure to the shared taxonomy:
//
//	deactivated            vfs.ErrInvalidState
//	past expiry            vfs.ErrExpired
//	download cap reached   vfs.ErrLimitExceeded
//	password not verified  vfs.ErrPermissionDenied
//	node deleted           vfs.ErrNotFound
//
// The service never sees passwords. The HTTP layer compares the bcrypt hash
// and passes the outcome as passwordVerified.
//
// # Download Counting
//
// RecordDownload increments with a single conditional UPDATE guarded by the
// cap, so concurrent downloads cannot exceed it.
package sharelinks
