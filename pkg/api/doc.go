// Package api provides the HTTP REST API of the portal filesystem.
//
// # Overview
//
// The API exposes the node store, branch registry, permission resolver,
// tag and favorite index, clipboard, share links and bulk job engine as
// JSON endpoints mounted under /api/v1. Handlers are grouped per domain and
// registered on a gorilla/mux router:
//
//   - Tree: roots, children, ancestors, path resolution, trash, content and versions
//   - Branches: repository initialization, principal switching, protection and commits
//   - Permissions: grants, effective permission queries and teams
//   - Tags: tag catalog, node tagging and per-user favorites
//   - Clipboard: staging a copy or cut selection and pasting it as a job
//   - Share links: issuing and managing links, plus the public /s routes
//   - Jobs: submitting, tracking, cancelling and resubmitting bulk jobs
//
// # Identity and Authorization
//
// Every route except /api/v1/s/... requires a caller. The caller comes from
// a verified bearer token when a verifier is configured, otherwise from the
// X-User-ID header set by a trusted proxy. Node routes evaluate the caller's
// effective permission with a per-request permissions.Session:
//
//	GET    /api/v1/nodes/{id}          READ
//	PATCH  /api/v1/nodes/{id}          WRITE, plus WRITE on the new parent
//	DELETE /api/v1/nodes/{id}          WRITE
//	POST   /api/v1/nodes/{id}/grants   ADMIN
//
// Creating a root makes its creator an inheritable ADMIN of it.
//
// # Errors
//
// Service errors are mapped to statuses by their vfs sentinel:
//
//	vfs.ErrInvalidArgument  400
//	vfs.ErrPermissionDenied 403
//	vfs.ErrNotFound         404
//	vfs.ErrConflict         409
//	vfs.ErrInvalidState     409
//	vfs.ErrExpired          410
//	vfs.ErrLimitExceeded    429
//
// Error bodies have the form {"error": "..."}.
//
// # Usage
//
//	server := api.NewServer(api.Services{...}, api.Options{Logger: logger})
//	http.ListenAndServe(":8080", server)
package api
