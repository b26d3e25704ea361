package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAudience is the audience Supabase puts on user sessions
	DefaultAudience = "authenticated"

	defaultLeeway = 30 * time.Second
)

var (
	// ErrInvalidToken is returned for any token that fails verification
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned for a valid token without a subject
	ErrMissingSubject = errors.New("token missing sub")
)

// Identity is the authenticated caller
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Verifier turns a raw access token into an Identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims are the Supabase access token claims lumen reads
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SecretVerifier validates HS256 tokens signed with the project JWT secret
type SecretVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewSecretVerifier creates a verifier for secret. An empty audience uses
// DefaultAudience.
func NewSecretVerifier(secret, audience string) *SecretVerifier {
	if audience == "" {
		audience = DefaultAudience
	}
	return &SecretVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithAudience(audience),
			jwt.WithLeeway(defaultLeeway),
			jwt.WithExpirationRequired(),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		),
	}
}

// Verify parses and validates token
func (v *SecretVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	var claims Claims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// JWKSVerifier validates asymmetric tokens against the project's JWKS
type JWKSVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// JWKSURL returns the JWKS endpoint of a Supabase project
func JWKSURL(supabaseURL string) string {
	return Issuer(supabaseURL) + "/.well-known/jwks.json"
}

// Issuer returns the token issuer of a Supabase project
func Issuer(supabaseURL string) string {
	return strings.TrimRight(supabaseURL, "/") + "/auth/v1"
}

// NewJWKSVerifier creates a verifier that fetches signing keys from the
// JWKS endpoint of supabaseURL. Keys are fetched on first use and cached.
func NewJWKSVerifier(ctx context.Context, supabaseURL, audience string) *JWKSVerifier {
	if audience == "" {
		audience = DefaultAudience
	}
	keySet := oidc.NewRemoteKeySet(ctx, JWKSURL(supabaseURL))
	return &JWKSVerifier{
		verifier: oidc.NewVerifier(Issuer(supabaseURL), keySet, &oidc.Config{
			ClientID:             audience,
			SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
		}),
	}
}

// Verify checks the signature, issuer, audience and expiry of token
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return nil, ErrMissingSubject
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{UserID: idToken.Subject, Email: claims.Email}, nil
}

// NewVerifier returns a SecretVerifier when secret is set and a JWKSVerifier
// for supabaseURL otherwise
func NewVerifier(ctx context.Context, secret, supabaseURL, audience string) (Verifier, error) {
	switch {
	case secret != "":
		return NewSecretVerifier(secret, audience), nil
	case supabaseURL != "":
		return NewJWKSVerifier(ctx, supabaseURL, audience), nil
	default:
		return nil, errors.New("either a JWT secret or a Supabase URL is required")
	}
}
