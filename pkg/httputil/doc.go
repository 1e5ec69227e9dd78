// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Handlers in pkg/api use these helpers for JSON encoding and decoding,
// parameter parsing and mapping service errors to status codes.
//
// # Error Mapping
//
// WriteServiceError maps the shared error taxonomy:
//
//	vfs.ErrNotFound           404
//	vfs.ErrConflict           409
//	vfs.ErrInvalidState       409
//	vfs.ErrPermissionDenied   403
//	vfs.ErrExpired            410
//	vfs.ErrLimitExceeded      429
//	vfs.ErrInvalidArgument    400
//	anything else             500, with a generic message
//
// # Request Parsing
//
//	var req nodes.CreateFolderRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	scope, ok := httputil.ParseScopeOrError(w, r) // {type}/{id} plus ?branch=
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.CORSMiddleware([]string{"https://portal.example.com"}),
//	)
package httputil
