// Package middleware provides HTTP middleware for authentication and rate limiting.
//
// # Authentication
//
// Authenticator reads a Supabase access token from the Authorization header
// ("Bearer <token>") or, failing that, from the session cookie, verifies it
// and stores the resulting *auth.Identity in the request context:
//
//	authn := middleware.NewAuthenticator(verifier, "sb-access-token", logger)
//	router.Handle("/api/generate", authn.Handler(generate))
//
// Requests without a valid token are answered 401 {"error":"Unauthorized"}.
//
// # Rate Limiting
//
// RateLimit guards expensive endpoints per user (or per client IP when
// unauthenticated). RateLimiter is an in-process token bucket;
// DistributedRateLimiter counts fixed windows in Redis so that limits hold
// across instances. Limiter errors fail open.
package middleware
