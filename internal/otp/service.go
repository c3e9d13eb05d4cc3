package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"shop-auth/internal/util"
)

// ServiceConfig bounds issued codes.
type ServiceConfig struct {
	CodeLength  int
	VerifyTTL   time.Duration
	ResetTTL    time.Duration
	MaxAttempts int
}

// Service issues and verifies single-use codes. Each (namespace, phone)
// pair holds at most one pending code: issuing again replaces the old
// code and resets its attempt count.
type Service struct {
	store   Store
	limiter *Limiter
	cfg     ServiceConfig
	clock   Clock
}

func NewService(store Store, limiter *Limiter, cfg ServiceConfig, clock Clock) *Service {
	if clock == nil {
		clock = systemClock
	}
	return &Service{store: store, limiter: limiter, cfg: cfg, clock: clock}
}

func (s *Service) ttl(namespace string) time.Duration {
	if namespace == NamespaceReset {
		return s.cfg.ResetTTL
	}
	return s.cfg.VerifyTTL
}

// Issue generates a fresh code for (namespace, phone) after the rate
// limiter admits the send. payload is stored alongside the code and
// handed back on successful verification.
func (s *Service) Issue(ctx context.Context, namespace, phone, ip, payload string) (string, error) {
	if err := s.limiter.Check(ctx, phone, ip); err != nil {
		return "", err
	}

	code, err := GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return "", err
	}

	entry := Entry{
		Code:      code,
		Payload:   payload,
		Attempts:  0,
		CreatedAt: s.clock(),
	}
	if err := s.store.Put(ctx, namespace, phone, entry, s.ttl(namespace)); err != nil {
		return "", fmt.Errorf("failed to store verification code: %w", err)
	}

	if err := s.limiter.Record(ctx, phone, ip); err != nil {
		// The code is already stored and will be sent. Losing one
		// counter tick is preferable to refusing a send we committed to.
		util.Warn("failed to record send against rate limits",
			util.String("phone", util.MaskPhone(phone)),
			util.ErrorField(err))
	}

	util.Info("verification code issued",
		util.String("namespace", namespace),
		util.String("phone", util.MaskPhone(phone)))
	return code, nil
}

// Verify checks code against the pending entry for (namespace, phone)
// and returns its payload. An entry that already carries the maximum
// number of failed attempts is destroyed before the code is even
// compared, so the attempt after the last wrong guess reports
// ErrTooManyAttempts no matter what code it submits. A mismatch counts
// an attempt; a match consumes the entry immediately, so a code
// verifies at most once.
func (s *Service) Verify(ctx context.Context, namespace, phone, code string) (string, error) {
	entry, err := s.store.Get(ctx, namespace, phone)
	if err != nil {
		return "", err
	}

	if entry.Attempts >= s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, namespace, phone); err != nil {
			util.Error("failed to destroy exhausted code",
				util.String("phone", util.MaskPhone(phone)),
				util.ErrorField(err))
		}
		return "", ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(code)) != 1 {
		if _, err := s.store.Fail(ctx, namespace, phone); err != nil {
			// Entry vanished between Get and Fail: it expired.
			return "", ErrCodeExpired
		}
		return "", ErrInvalidCode
	}

	if err := s.store.Delete(ctx, namespace, phone); err != nil {
		return "", fmt.Errorf("failed to consume verification code: %w", err)
	}
	util.Info("verification code consumed",
		util.String("namespace", namespace),
		util.String("phone", util.MaskPhone(phone)))
	return entry.Payload, nil
}
