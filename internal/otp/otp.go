// Package otp implements the verification-code core: code issuance and
// verification with TTL and attempt bounds, and the rate limits that
// guard issuance.
package otp

import (
	"context"
	"errors"
	"time"
)

// Namespaces keep login/registration codes and password-reset codes in
// separate keyspaces so a code issued for one purpose can never verify
// the other.
const (
	NamespaceSMS   = "sms_code"
	NamespaceReset = "reset_code"
)

var (
	ErrCodeExpired     = errors.New("verification code expired or not found")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Entry is a pending verification code. Payload carries auxiliary data
// captured at issue time (the password for the combined
// registration/login flow) and is returned to the caller on successful
// verification. ExpiresAt is stamped by the store on Put from the
// requested TTL; Get treats an entry past its deadline as absent even
// when the backend still holds it.
type Entry struct {
	Code      string    `json:"code"`
	Payload   string    `json:"payload,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists pending codes keyed by (namespace, phone). One pending
// code per key: Put overwrites any previous entry and resets its
// attempt count.
type Store interface {
	// Put stores entry under (namespace, phone) with the given TTL,
	// replacing any existing entry.
	Put(ctx context.Context, namespace, phone string, entry Entry, ttl time.Duration) error

	// Get returns the pending entry, or ErrCodeExpired if none exists
	// or it has expired.
	Get(ctx context.Context, namespace, phone string) (Entry, error)

	// Fail atomically increments the attempt counter of the pending
	// entry, preserving its remaining TTL, and returns the new count.
	// Returns ErrCodeExpired if the entry is gone.
	Fail(ctx context.Context, namespace, phone string) (int, error)

	// Delete removes the pending entry. Deleting a missing entry is
	// not an error.
	Delete(ctx context.Context, namespace, phone string) error
}

// Counters is the fixed-window counter backend used by the rate
// limiter.
type Counters interface {
	// Incr increments the counter at key, setting ttl on first
	// increment, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the current counter value, zero if absent.
	Get(ctx context.Context, key string) (int64, error)
}

// Clock is injected so TTL behavior is testable without sleeping.
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }
