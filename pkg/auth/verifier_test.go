package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signHS256(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func sessionClaims(subject string, expiresIn time.Duration) Claims {
	return Claims{
		Email: "alice@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestSecretVerifier(t *testing.T) {
	verifier := NewSecretVerifier(testSecret, "")

	t.Run("valid", func(t *testing.T) {
		identity, err := verifier.Verify(context.Background(), signHS256(t, testSecret, sessionClaims("user-1", time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, &Identity{UserID: "user-1", Email: "alice@example.com"}, identity)
	})

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{"expired", func(t *testing.T) string {
			return signHS256(t, testSecret, sessionClaims("user-1", -time.Hour))
		}, ErrInvalidToken},
		{"wrong secret", func(t *testing.T) string {
			return signHS256(t, "another-secret-another-secret-another", sessionClaims("user-1", time.Hour))
		}, ErrInvalidToken},
		{"wrong audience", func(t *testing.T) string {
			claims := sessionClaims("user-1", time.Hour)
			claims.Audience = jwt.ClaimStrings{"anon"}
			return signHS256(t, testSecret, claims)
		}, ErrInvalidToken},
		{"no expiry", func(t *testing.T) string {
			claims := sessionClaims("user-1", time.Hour)
			claims.ExpiresAt = nil
			return signHS256(t, testSecret, claims)
		}, ErrInvalidToken},
		{"no subject", func(t *testing.T) string {
			return signHS256(t, testSecret, sessionClaims("", time.Hour))
		}, ErrMissingSubject},
		{"none algorithm", func(t *testing.T) string {
			token, err := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims("user-1", time.Hour)).SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)
			return token
		}, ErrInvalidToken},
		{"garbage", func(t *testing.T) string { return "not.a.jwt" }, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	jwks := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server := newJWKSServer(t, key, "key-1")

	ctx := context.Background()
	verifier := NewJWKSVerifier(ctx, server.URL, "")

	claims := sessionClaims("user-2", time.Hour)
	claims.Issuer = Issuer(server.URL)

	identity, err := verifier.Verify(ctx, signRS256(t, key, "key-1", claims))
	require.NoError(t, err)
	assert.Equal(t, "user-2", identity.UserID)
	assert.Equal(t, "alice@example.com", identity.Email)

	t.Run("foreign key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		_, err = verifier.Verify(ctx, signRS256(t, other, "key-1", claims))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		bad := claims
		bad.Issuer = "https://evil.example.com/auth/v1"
		_, err := verifier.Verify(ctx, signRS256(t, key, "key-1", bad))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewVerifier(t *testing.T) {
	ctx := context.Background()

	v, err := NewVerifier(ctx, testSecret, "https://ref.supabase.co", "")
	require.NoError(t, err)
	assert.IsType(t, &SecretVerifier{}, v)

	v, err = NewVerifier(ctx, "", "https://ref.supabase.co", "")
	require.NoError(t, err)
	assert.IsType(t, &JWKSVerifier{}, v)

	_, err = NewVerifier(ctx, "", "", "")
	assert.Error(t, err)
}

func TestJWKSURL(t *testing.T) {
	assert.Equal(t, "https://ref.supabase.co/auth/v1/.well-known/jwks.json", JWKSURL("https://ref.supabase.co/"))
	assert.Equal(t, "https://ref.supabase.co/auth/v1", Issuer("https://ref.supabase.co"))
}
