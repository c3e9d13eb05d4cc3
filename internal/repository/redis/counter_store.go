package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"shop-auth/internal/client"
)

// CounterStore backs the fixed-window rate limiter with Redis counters.
type CounterStore struct {
	client *client.RedisClient
}

func NewCounterStore(redisClient *client.RedisClient) *CounterStore {
	return &CounterStore{client: redisClient}
}

func (s *CounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, nil
}

func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed counter value %q: %w", raw, err)
	}
	return count, nil
}
