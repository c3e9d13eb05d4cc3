package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-auth/internal/bucketing"
	"shop-auth/internal/config"
	"shop-auth/internal/encryption"
	"shop-auth/internal/events"
	"shop-auth/internal/hashing"
	"shop-auth/internal/otp"
	"shop-auth/internal/repository/scylla"
	"shop-auth/internal/sms"
	"shop-auth/internal/token"
)

type capturingChannel struct {
	mu       sync.Mutex
	messages []sms.Message
}

func (c *capturingChannel) Send(ctx context.Context, phone, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, sms.Message{Phone: phone, Body: message})
	return nil
}

func (c *capturingChannel) all() []sms.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sms.Message(nil), c.messages...)
}

type memoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (b *memoryBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = true
	return nil
}

func (b *memoryBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[jti], nil
}

type authFixture struct {
	svc     *AuthService
	store   *otp.MemoryStore
	channel *capturingChannel
	users   *scylla.MemoryUserRepository
	now     *time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = "test-pepper"
	cfg.Bucketing.UserBuckets = 16

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := otp.NewMemoryStore(clock)
	counters := otp.NewMemoryCounters(clock)
	limiter := otp.NewLimiter(counters, otp.LimiterConfig{
		HourlyPhoneLimit: 5,
		DailyPhoneLimit:  20,
		HourlyIPLimit:    50,
	}, clock)
	otpService := otp.NewService(store, limiter, otp.ServiceConfig{
		CodeLength:  6,
		VerifyTTL:   5 * time.Minute,
		ResetTTL:    10 * time.Minute,
		MaxAttempts: 3,
	}, clock)

	channel := &capturingChannel{}
	dispatcher := sms.NewDispatcher(channel, sms.DispatcherConfig{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		QueueSize:   16,
		Workers:     1,
	})
	t.Cleanup(dispatcher.Close)

	users := scylla.NewMemoryUserRepository()
	hasher := hashing.NewHasher(cfg)
	encryptor := encryption.NewEncryptionManager(cfg, nil)
	buckets := bucketing.NewBucketingManager(cfg)

	tokens := token.NewManager(token.ManagerConfig{
		Secret:     "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
		Issuer:     "shop-auth",
	}, &memoryBlacklist{revoked: make(map[string]bool)}, clock)

	publisher := events.NewPublisher(nil, nil)

	svc := NewAuthService(otpService, dispatcher, users, hasher, encryptor, buckets, tokens, publisher)
	return &authFixture{svc: svc, store: store, channel: channel, users: users, now: &now}
}

// issuedCode reads the pending code straight out of the store so tests
// do not have to parse SMS bodies.
func (f *authFixture) issuedCode(t *testing.T, namespace, phone string) string {
	t.Helper()
	entry, err := f.store.Get(context.Background(), namespace, phone)
	require.NoError(t, err)
	return entry.Code
}

const (
	testPhone = "+998901234567"
	testIP    = "10.0.0.1"
)

func TestRegistrationFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendCode(ctx, testPhone, "s3cret", testIP))
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	result, err := f.svc.VerifyCode(ctx, testPhone, code, "Ali Valiyev", testIP)
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	assert.Equal(t, "Ali", result.FirstName)
	assert.Equal(t, "Valiyev", result.LastName)
	require.NotNil(t, result.Tokens)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)
}

func TestRegistrationWithoutNameRejected(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendCode(ctx, testPhone, "s3cret", testIP))
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	_, err := f.svc.VerifyCode(ctx, testPhone, code, "", testIP)
	assert.ErrorIs(t, err, ErrRegistrationDataRequired)

	// The match already consumed the code; resubmitting it is a replay.
	_, err = f.svc.VerifyCode(ctx, testPhone, code, "Ali Valiyev", testIP)
	assert.ErrorIs(t, err, otp.ErrCodeExpired)

	// A fresh code with the full registration data goes through.
	require.NoError(t, f.svc.SendCode(ctx, testPhone, "s3cret", testIP))
	code = f.issuedCode(t, otp.NamespaceSMS, testPhone)
	result, err := f.svc.VerifyCode(ctx, testPhone, code, "Ali Valiyev", testIP)
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
}

func TestRegistrationWithoutPasswordRejected(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SendCode(ctx, testPhone, "", testIP))
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	_, err := f.svc.VerifyCode(ctx, testPhone, code, "Ali Valiyev", testIP)
	assert.ErrorIs(t, err, ErrRegistrationDataRequired)

	// No account came out of the attempt.
	_, err = f.svc.Login(ctx, testPhone, "", testIP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func registerUser(t *testing.T, f *authFixture, password string) *AuthResult {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.SendCode(ctx, testPhone, password, testIP))
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)
	result, err := f.svc.VerifyCode(ctx, testPhone, code, "Ali Valiyev", testIP)
	require.NoError(t, err)
	return result
}

func TestLoginFlowExistingUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	first := registerUser(t, f, "s3cret")

	require.NoError(t, f.svc.SendCode(ctx, testPhone, "s3cret", testIP))
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	result, err := f.svc.VerifyCode(ctx, testPhone, code, "", testIP)
	require.NoError(t, err)
	assert.False(t, result.IsNewUser)
	assert.Equal(t, first.UserID, result.UserID)
}

func TestLoginFlowWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registerUser(t, f, "s3cret")

	require.NoError(t, f.svc.SendCode(ctx, testPhone, "wrong-password", testIP))
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	_, err := f.svc.VerifyCode(ctx, testPhone, code, "", testIP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registerUser(t, f, "s3cret")

	result, err := f.svc.Login(ctx, testPhone, "s3cret", testIP)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)

	_, err = f.svc.Login(ctx, testPhone, "wrong", testIP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// An unknown phone answers exactly like a wrong password.
	_, err = f.svc.Login(ctx, "+998909999999", "s3cret", testIP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshAndLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	result := registerUser(t, f, "s3cret")

	*f.now = f.now.Add(time.Second)
	fresh, err := f.svc.Refresh(ctx, result.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, result.Tokens.RefreshToken, fresh.RefreshToken)

	require.NoError(t, f.svc.Logout(ctx, fresh.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, fresh.RefreshToken))

	_, err = f.svc.Refresh(ctx, fresh.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registerUser(t, f, "old-password")

	require.NoError(t, f.svc.ForgotPassword(ctx, testPhone, testIP))
	code := f.issuedCode(t, otp.NamespaceReset, testPhone)

	require.NoError(t, f.svc.ResetPassword(ctx, testPhone, code, "new-password"))

	_, err := f.svc.Login(ctx, testPhone, "old-password", testIP)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, testPhone, "new-password", testIP)
	assert.NoError(t, err)
}

func TestForgotPasswordUnknownPhone(t *testing.T) {
	f := newAuthFixture(t)

	err := f.svc.ForgotPassword(context.Background(), "+998909999999", testIP)
	assert.ErrorIs(t, err, scylla.ErrUserNotFound)
}

func TestResetCodeDoesNotLogIn(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registerUser(t, f, "s3cret")

	require.NoError(t, f.svc.ForgotPassword(ctx, testPhone, testIP))
	resetCode := f.issuedCode(t, otp.NamespaceReset, testPhone)

	_, err := f.svc.VerifyCode(ctx, testPhone, resetCode, "", testIP)
	assert.ErrorIs(t, err, otp.ErrCodeExpired)
}

func TestSendCodeDeliversSMS(t *testing.T) {
	f := newAuthFixture(t)

	require.NoError(t, f.svc.SendCode(context.Background(), testPhone, "", testIP))

	require.Eventually(t, func() bool {
		return len(f.channel.all()) == 1
	}, time.Second, 5*time.Millisecond)

	msgs := f.channel.all()
	assert.Equal(t, testPhone, msgs[0].Phone)
	assert.Contains(t, msgs[0].Body, f.issuedCode(t, otp.NamespaceSMS, testPhone))
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		in    string
		first string
		last  string
	}{
		{"Ali Valiyev", "Ali", "Valiyev"},
		{"Ali", "Ali", ""},
		{"Ali Bobur Valiyev", "Ali", "Bobur Valiyev"},
		{"  Ali   Valiyev  ", "Ali", "Valiyev"},
	}
	for _, tc := range cases {
		first, last := splitName(tc.in)
		assert.Equal(t, tc.first, first, tc.in)
		assert.Equal(t, tc.last, last, tc.in)
	}
}
