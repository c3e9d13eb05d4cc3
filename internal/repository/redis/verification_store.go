package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shop-auth/internal/client"
	"shop-auth/internal/otp"
)

// failScript bumps the attempt counter inside the stored entry without
// a read-modify-write race and without disturbing the remaining TTL.
// Returns the new attempt count, or -1 when the entry is gone.
const failScript = `
local raw = redis.call('GET', KEYS[1])
if not raw then
    return -1
end
local entry = cjson.decode(raw)
entry.attempts = entry.attempts + 1
redis.call('SET', KEYS[1], cjson.encode(entry), 'KEEPTTL')
return entry.attempts
`

// VerificationStore keeps pending codes in Redis so issuance and
// verification survive process restarts and spread across replicas.
type VerificationStore struct {
	client *client.RedisClient
	clock  otp.Clock
}

func NewVerificationStore(redisClient *client.RedisClient, clock otp.Clock) *VerificationStore {
	if clock == nil {
		clock = time.Now
	}
	return &VerificationStore{client: redisClient, clock: clock}
}

func codeKey(namespace, phone string) string {
	return fmt.Sprintf("otp:%s:%s", namespace, phone)
}

func (s *VerificationStore) Put(ctx context.Context, namespace, phone string, entry otp.Entry, ttl time.Duration) error {
	entry.ExpiresAt = s.clock().Add(ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal verification entry: %w", err)
	}
	if err := s.client.Set(ctx, codeKey(namespace, phone), data, ttl); err != nil {
		return fmt.Errorf("failed to store verification entry: %w", err)
	}
	return nil
}

func (s *VerificationStore) Get(ctx context.Context, namespace, phone string) (otp.Entry, error) {
	raw, err := s.client.Get(ctx, codeKey(namespace, phone))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return otp.Entry{}, otp.ErrCodeExpired
		}
		return otp.Entry{}, fmt.Errorf("failed to load verification entry: %w", err)
	}

	var entry otp.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return otp.Entry{}, fmt.Errorf("failed to unmarshal verification entry: %w", err)
	}
	// Redis expires the key on its own; the recorded deadline still
	// gates entries the server holds past their TTL.
	if s.expired(entry) {
		if err := s.client.Del(ctx, codeKey(namespace, phone)); err != nil {
			return otp.Entry{}, fmt.Errorf("failed to delete expired verification entry: %w", err)
		}
		return otp.Entry{}, otp.ErrCodeExpired
	}
	return entry, nil
}

func (s *VerificationStore) expired(entry otp.Entry) bool {
	return s.clock().After(entry.ExpiresAt)
}

func (s *VerificationStore) Fail(ctx context.Context, namespace, phone string) (int, error) {
	res, err := s.client.Eval(ctx, failScript, []string{codeKey(namespace, phone)})
	if err != nil {
		return 0, fmt.Errorf("failed to record verification attempt: %w", err)
	}

	attempts, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected attempt counter type %T", res)
	}
	if attempts < 0 {
		return 0, otp.ErrCodeExpired
	}
	return int(attempts), nil
}

func (s *VerificationStore) Delete(ctx context.Context, namespace, phone string) error {
	if err := s.client.Del(ctx, codeKey(namespace, phone)); err != nil {
		return fmt.Errorf("failed to delete verification entry: %w", err)
	}
	return nil
}
