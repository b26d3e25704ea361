// Package contextkeys provides centralized context key definitions
//
// All context keys used across lumen are defined here so that setters and
// getters in different packages agree on one typed key.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/lumen/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, identity)
//	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: every user-scoped API endpoint
	IdentityKey Key = "identity"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, error responses
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID (identity provider subject)
	// Set by: middleware.Authenticator
	// Used by: logger, ledger and project lookups
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.RequestLogger
	LoggerKey Key = "logger"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
