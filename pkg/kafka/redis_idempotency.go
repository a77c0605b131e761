package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisIdempotencyPrefix = "ordercore:processed-events:"

// RedisIdempotencyStore is a Redis-backed IdempotencyStore for consumers that
// run multiple instances. Entries expire after the configured TTL; callers
// that need permanent deduplication must also enforce it in their datastore.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

// Contains reports whether the event ID has been recorded and not yet expired.
func (s *RedisIdempotencyStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, redisIdempotencyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Add records the event ID with the store's TTL.
func (s *RedisIdempotencyStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, redisIdempotencyPrefix+eventID, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
