package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lumen/pkg/contextkeys"
)

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1})
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow(ctx, "user:1"); ok {
			allowed++
		}
	}
	assert.Equal(t, 4, allowed)

	ok, _ := limiter.Allow(ctx, "user:2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(20 * time.Second)
	ok, _ = limiter.Allow(ctx, "user:1")
	assert.True(t, ok, "one token refilled after a third of the window")
	ok, _ = limiter.Allow(ctx, "user:1")
	assert.False(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(GenerationRateLimitConfig(5))
	limiter.now = func() time.Time { return now }

	_, _ = limiter.Allow(context.Background(), "user:1")
	now = now.Add(3 * time.Minute)
	limiter.Cleanup()
	assert.Empty(t, limiter.buckets)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, GenerationRateLimitConfig(2), "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("lumen:ratelimit:user:1"))

	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Close()
	ok, err = limiter.Allow(ctx, "user:1")
	assert.Error(t, err)
	assert.True(t, ok, "redis errors fail open")
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(GenerationRateLimitConfig(1))
	handler := RateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(userID, forwarded string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
		if userID != "" {
			r = r.WithContext(contextkeys.WithUserID(r.Context(), userID))
		}
		if forwarded != "" {
			r.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		return rr
	}

	assert.Equal(t, http.StatusOK, request("user-1", "").Code)

	rr := request("user-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded"}`, rr.Body.String())
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, request("user-2", "").Code)
	assert.Equal(t, http.StatusOK, request("", "203.0.113.7, 10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, request("", "203.0.113.7").Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(r))
}
