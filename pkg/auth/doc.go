// Package auth verifies Supabase access tokens.
//
// # Overview
//
// Supabase issues a JWT per session. Its subject is the user id every
// ledger row and project is keyed by, and its audience is "authenticated".
// Two verifiers are provided:
//
//	auth.NewSecretVerifier(secret, audience)           // HS256, project JWT secret
//	auth.NewJWKSVerifier(ctx, supabaseURL, audience)   // asymmetric keys from the JWKS endpoint
//
// NewVerifier picks the secret verifier when a secret is configured and
// falls back to the JWKS endpoint of the project otherwise.
//
// # Identity
//
// Both verifiers return an Identity holding the subject and, when present,
// the email claim. pkg/middleware stores it in the request context.
package auth
