package token

import (
	"context"
	"sync"
	"time"
)

// MemoryBlacklist is the in-process Blacklist used in development mode.
type MemoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	clock   func() time.Time
}

func NewMemoryBlacklist(clock func() time.Time) *MemoryBlacklist {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryBlacklist{
		revoked: make(map[string]time.Time),
		clock:   clock,
	}
}

func (b *MemoryBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = b.clock().Add(ttl)
	return nil
}

func (b *MemoryBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.revoked[jti]
	if !ok {
		return false, nil
	}
	if b.clock().After(expiry) {
		delete(b.revoked, jti)
		return false, nil
	}
	return true, nil
}
