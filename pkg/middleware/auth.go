package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/lumen/pkg/auth"
	"github.com/platinummonkey/lumen/pkg/contextkeys"
	"github.com/platinummonkey/lumen/pkg/httputil"
	"github.com/platinummonkey/lumen/pkg/observability"
)

// DefaultSessionCookie is the legacy Supabase auth-helpers cookie holding a
// bare access token. Sessions written by @supabase/ssr under
// sb-<ref>-auth-token are decoded when this cookie is absent.
const DefaultSessionCookie = "sb-access-token"

// Authenticator requires a verified Supabase session on every request
type Authenticator struct {
	verifier   auth.Verifier
	cookieName string
	logger     *observability.Logger
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(verifier auth.Verifier, cookieName string, logger *observability.Logger) *Authenticator {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authenticator{
		verifier:   verifier,
		cookieName: cookieName,
		logger:     logger.WithComponent("auth"),
	}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.token(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "Unauthorized")
			return
		}

		identity, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			a.logger.WithError(err).WithField("request_id", contextkeys.GetRequestID(r.Context())).Debug("Rejected access token")
			httputil.WriteUnauthorized(w, "Unauthorized")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// token extracts the bearer token, falling back to the session cookies
func (a *Authenticator) token(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return a.cookieToken(r)
}

// IdentityFromContext returns the identity stored by Authenticator
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
	return identity, ok && identity != nil
}

// GetIdentity extracts the identity from the request, or nil
func GetIdentity(r *http.Request) *auth.Identity {
	identity, _ := IdentityFromContext(r.Context())
	return identity
}
