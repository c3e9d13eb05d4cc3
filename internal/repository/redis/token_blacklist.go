package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-auth/internal/client"
)

// TokenBlacklist records revoked refresh token IDs until their natural
// expiry, after which Redis forgets them on its own.
type TokenBlacklist struct {
	client *client.RedisClient
}

func NewTokenBlacklist(redisClient *client.RedisClient) *TokenBlacklist {
	return &TokenBlacklist{client: redisClient}
}

func blacklistKey(jti string) string {
	return "token:revoked:" + jti
}

func (b *TokenBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already past expiry, nothing to remember.
		return nil
	}
	if err := b.client.Set(ctx, blacklistKey(jti), "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (b *TokenBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := b.client.Get(ctx, blacklistKey(jti))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return true, nil
}
