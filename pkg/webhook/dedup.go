package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultEventTTL is how long a processed event id is remembered
const DefaultEventTTL = 72 * time.Hour

// Deduper claims Stripe event ids so each is applied once
type Deduper interface {
	// Claim returns false when eventID was already claimed
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets a claim after a failed delivery
	Release(ctx context.Context, eventID string) error
}

// NoopDeduper claims every event
type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }

func (NoopDeduper) Release(context.Context, string) error { return nil }

// RedisDeduper claims event ids with SETNX and a TTL
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper on client. A non-positive ttl uses
// DefaultEventTTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) key(eventID string) string {
	return fmt.Sprintf("lumen:stripe:event:%s", eventID)
}

// Claim marks eventID as in progress
func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Release deletes the claim on eventID
func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	if err := d.client.Del(ctx, d.key(eventID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// NewRedisClient connects to the Redis at url and pings it
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
