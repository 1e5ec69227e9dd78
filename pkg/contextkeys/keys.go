// Package contextkeys defines the request-scoped values shared between
// middleware and handlers.
//
//	ctx = contextkeys.WithUserID(ctx, "alice")
//	userID := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type of every key in this package so values set elsewhere
// cannot collide with them
type Key string

const (
	// UserIDKey holds the caller's user id (string). Set by
	// middleware.Identity on every /api/v1 route except public share links.
	UserIDKey Key = "user_id"

	// TeamIDsKey holds the teams named by the caller's OIDC groups claim
	// ([]string). When absent, teams come from the team directory.
	TeamIDsKey Key = "team_ids"

	// RequestIDKey holds the request id (string) set by httputil.RequestIDMiddleware
	RequestIDKey Key = "request_id"

	// LoggerKey holds the *observability.Logger set by observability.LoggingMiddleware
	LoggerKey Key = "logger"
)

func value[T any](ctx context.Context, key Key) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithTeamIDs(ctx context.Context, teamIDs []string) context.Context {
	return context.WithValue(ctx, TeamIDsKey, teamIDs)
}

// WithLogger stores logger untyped; this package cannot import observability
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	id, _ := value[string](ctx, RequestIDKey)
	return id
}

// GetUserID returns the authenticated caller, or "" for anonymous requests
func GetUserID(ctx context.Context) string {
	id, _ := value[string](ctx, UserIDKey)
	return id
}

// GetTeamIDs returns the caller's teams. ok is false when no token supplied them.
func GetTeamIDs(ctx context.Context) (teamIDs []string, ok bool) {
	return value[[]string](ctx, TeamIDsKey)
}
