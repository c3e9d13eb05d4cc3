package otp

import (
	"context"
	"fmt"
	"time"

	"shop-auth/internal/util"
)

// Limit reasons reported to the caller when a send is refused.
const (
	ReasonHourlyPhone = "HOURLY_PHONE_LIMIT"
	ReasonDailyPhone  = "DAILY_PHONE_LIMIT"
	ReasonHourlyIP    = "HOURLY_IP_LIMIT"
)

// LimitError carries which window refused the send.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s", e.Reason)
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// LimiterConfig holds the per-window send caps.
type LimiterConfig struct {
	HourlyPhoneLimit int64
	DailyPhoneLimit  int64
	HourlyIPLimit    int64
}

// Limiter enforces fixed-window send caps per phone (hourly and daily)
// and per client IP (hourly). A backend failure refuses the send rather
// than letting an attacker exhaust the SMS budget while the counter
// store is down.
type Limiter struct {
	counters Counters
	cfg      LimiterConfig
	clock    Clock
}

func NewLimiter(counters Counters, cfg LimiterConfig, clock Clock) *Limiter {
	if clock == nil {
		clock = systemClock
	}
	return &Limiter{counters: counters, cfg: cfg, clock: clock}
}

type window struct {
	name   string
	key    string
	limit  int64
	ttl    time.Duration
	reason string
}

func (l *Limiter) windows(phone, ip string) []window {
	now := l.clock()
	hourBucket := now.Unix() / 3600
	dayBucket := now.Unix() / 86400

	ws := []window{
		{
			name:   "phone_hour",
			key:    fmt.Sprintf("rl:phone_hour:%s:%d", phone, hourBucket),
			limit:  l.cfg.HourlyPhoneLimit,
			ttl:    time.Hour,
			reason: ReasonHourlyPhone,
		},
		{
			name:   "phone_day",
			key:    fmt.Sprintf("rl:phone_day:%s:%d", phone, dayBucket),
			limit:  l.cfg.DailyPhoneLimit,
			ttl:    24 * time.Hour,
			reason: ReasonDailyPhone,
		},
	}
	if ip != "" {
		ws = append(ws, window{
			name:   "ip_hour",
			key:    fmt.Sprintf("rl:ip_hour:%s:%d", ip, hourBucket),
			limit:  l.cfg.HourlyIPLimit,
			ttl:    time.Hour,
			reason: ReasonHourlyIP,
		})
	}
	return ws
}

// Check returns a *LimitError naming the first exhausted window, phone
// windows before the IP window. Counter store failures fail closed.
func (l *Limiter) Check(ctx context.Context, phone, ip string) error {
	for _, w := range l.windows(phone, ip) {
		count, err := l.counters.Get(ctx, w.key)
		if err != nil {
			util.Error("rate limit counter unavailable, refusing send",
				util.String("window", w.name),
				util.ErrorField(err))
			return ErrRateLimited
		}
		if count >= w.limit {
			return &LimitError{Reason: w.reason}
		}
	}
	return nil
}

// Record counts one accepted send against every window.
func (l *Limiter) Record(ctx context.Context, phone, ip string) error {
	for _, w := range l.windows(phone, ip) {
		if _, err := l.counters.Incr(ctx, w.key, w.ttl); err != nil {
			return fmt.Errorf("failed to record %s counter: %w", w.name, err)
		}
	}
	return nil
}
