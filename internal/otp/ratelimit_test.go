package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(clock Clock) (*Limiter, *MemoryCounters) {
	counters := NewMemoryCounters(clock)
	limiter := NewLimiter(counters, LimiterConfig{
		HourlyPhoneLimit: 2,
		DailyPhoneLimit:  3,
		HourlyIPLimit:    5,
	}, clock)
	return limiter, counters
}

func TestLimiterAllowsUnderLimit(t *testing.T) {
	limiter, _ := testLimiter(nil)
	ctx := context.Background()

	require.NoError(t, limiter.Check(ctx, "+998901234567", "10.0.0.1"))
	require.NoError(t, limiter.Record(ctx, "+998901234567", "10.0.0.1"))
	require.NoError(t, limiter.Check(ctx, "+998901234567", "10.0.0.1"))
}

func TestLimiterHourlyPhoneLimit(t *testing.T) {
	limiter, _ := testLimiter(nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, limiter.Check(ctx, "+998901234567", "10.0.0.1"))
		require.NoError(t, limiter.Record(ctx, "+998901234567", "10.0.0.1"))
	}

	err := limiter.Check(ctx, "+998901234567", "10.0.0.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonHourlyPhone, le.Reason)

	// A different phone from the same IP is still allowed.
	assert.NoError(t, limiter.Check(ctx, "+998907654321", "10.0.0.1"))
}

func TestLimiterDailyPhoneLimit(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter, _ := testLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Record(ctx, "+998901234567", "10.0.0.1"))
		// Step into the next hour so the hourly window never trips.
		now = now.Add(time.Hour)
	}

	err := limiter.Check(ctx, "+998901234567", "10.0.0.1")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonDailyPhone, le.Reason)
}

func TestLimiterHourlyIPLimit(t *testing.T) {
	limiter, _ := testLimiter(nil)
	ctx := context.Background()

	// Five sends from distinct phones through one IP.
	phones := []string{"+998901110001", "+998901110002", "+998901110003", "+998901110004", "+998901110005"}
	for _, p := range phones {
		require.NoError(t, limiter.Record(ctx, p, "10.0.0.1"))
	}

	err := limiter.Check(ctx, "+998901110006", "10.0.0.1")
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonHourlyIP, le.Reason)
}

func TestLimiterWindowReset(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter, _ := testLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, limiter.Record(ctx, "+998901234567", ""))
	}
	require.Error(t, limiter.Check(ctx, "+998901234567", ""))

	// Crossing the hour boundary opens a fresh hourly bucket.
	now = now.Add(2 * time.Minute)
	assert.NoError(t, limiter.Check(ctx, "+998901234567", ""))
}

type failingCounters struct{}

func (failingCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("backend down")
}

func (failingCounters) Get(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("backend down")
}

func TestLimiterFailsClosed(t *testing.T) {
	limiter := NewLimiter(failingCounters{}, LimiterConfig{
		HourlyPhoneLimit: 5,
		DailyPhoneLimit:  20,
		HourlyIPLimit:    50,
	}, nil)

	err := limiter.Check(context.Background(), "+998901234567", "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)
}
