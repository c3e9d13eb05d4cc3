package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-auth/internal/bucketing"
	"shop-auth/internal/config"
	"shop-auth/internal/encryption"
	"shop-auth/internal/events"
	"shop-auth/internal/hashing"
	"shop-auth/internal/otp"
	"shop-auth/internal/repository/scylla"
	"shop-auth/internal/service"
	"shop-auth/internal/sms"
	"shop-auth/internal/token"
)

type nullChannel struct{}

func (nullChannel) Send(ctx context.Context, phone, message string) error { return nil }

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

type apiFixture struct {
	router chi.Router
	store  *otp.MemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &config.Config{Environment: "development"}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = "test-pepper"
	cfg.Bucketing.UserBuckets = 16
	cfg.Server.CORSOrigins = []string{"https://*"}

	store := otp.NewMemoryStore(nil)
	counters := otp.NewMemoryCounters(nil)
	limiter := otp.NewLimiter(counters, otp.LimiterConfig{
		HourlyPhoneLimit: 3,
		DailyPhoneLimit:  20,
		HourlyIPLimit:    50,
	}, nil)
	otpService := otp.NewService(store, limiter, otp.ServiceConfig{
		CodeLength:  6,
		VerifyTTL:   5 * time.Minute,
		ResetTTL:    10 * time.Minute,
		MaxAttempts: 3,
	}, nil)

	dispatcher := sms.NewDispatcher(nullChannel{}, sms.DispatcherConfig{
		MaxAttempts: 1,
		Backoff:     time.Millisecond,
		QueueSize:   16,
		Workers:     1,
	})
	t.Cleanup(dispatcher.Close)

	tokens := token.NewManager(token.ManagerConfig{
		Secret:     "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
		Issuer:     "shop-auth",
	}, &memoryBlacklist{revoked: make(map[string]bool)}, nil)

	authService := service.NewAuthService(
		otpService,
		dispatcher,
		scylla.NewMemoryUserRepository(),
		hashing.NewHasher(cfg),
		encryption.NewEncryptionManager(cfg, nil),
		bucketing.NewBucketingManager(cfg),
		tokens,
		events.NewPublisher(nil, nil),
	)

	return &apiFixture{
		router: NewRouter(NewAuthHandler(authService), cfg),
		store:  store,
	}
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func (f *apiFixture) issuedCode(t *testing.T, namespace, phone string) string {
	t.Helper()
	entry, err := f.store.Get(context.Background(), namespace, phone)
	require.NoError(t, err)
	return entry.Code
}

const testPhone = "+998901234567"

func TestSendCodeEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestSendCodeNormalizesPhone(t *testing.T) {
	f := newAPIFixture(t)

	// Local 9-digit form normalizes to the canonical +998 number.
	rec, resp := f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": "90 123 45 67"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	assert.NotEmpty(t, f.issuedCode(t, otp.NamespaceSMS, testPhone))
}

func TestSendCodeInvalidPhone(t *testing.T) {
	f := newAPIFixture(t)

	for _, phone := range []string{"", "abc", "+12"} {
		rec, resp := f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": phone})
		assert.Equal(t, http.StatusBadRequest, rec.Code, phone)
		require.NotNil(t, resp.Error, phone)
		assert.Equal(t, CodeInvalidRequest, resp.Error.Code, phone)
	}
}

func TestSendCodeRateLimited(t *testing.T) {
	f := newAPIFixture(t)

	for i := 0; i < 3; i++ {
		rec, _ := f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
	assert.Equal(t, otp.ReasonHourlyPhone, resp.Error.Message)
}

func TestVerifyCodeRegistersAndLogsIn(t *testing.T) {
	f := newAPIFixture(t)

	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone, "password": "s3cret"})
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	// New phone without a name: the client must ask for one.
	rec, resp := f.post(t, "/api/v1/auth/verify-code", map[string]string{"phone": testPhone, "code": code})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRegistrationDataRequired, resp.Error.Code)

	// The match consumed the code; resubmitting it is a replay.
	rec, resp = f.post(t, "/api/v1/auth/verify-code", map[string]string{
		"phone": testPhone, "code": code, "name": "Ali Valiyev",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeExpired, resp.Error.Code)

	// A fresh code with the full registration data registers.
	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone, "password": "s3cret"})
	code = f.issuedCode(t, otp.NamespaceSMS, testPhone)

	rec, resp = f.post(t, "/api/v1/auth/verify-code", map[string]string{
		"phone": testPhone, "code": code, "name": "Ali Valiyev",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["is_new_user"])
	tokens := data["tokens"].(map[string]interface{})
	assert.NotEmpty(t, tokens["access_token"])

	// Second round trip logs the same user in.
	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone, "password": "s3cret"})
	code = f.issuedCode(t, otp.NamespaceSMS, testPhone)

	rec, resp = f.post(t, "/api/v1/auth/verify-code", map[string]string{"phone": testPhone, "code": code})
	assert.Equal(t, http.StatusOK, rec.Code)
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["is_new_user"])
}

func TestVerifyCodeWrongCode(t *testing.T) {
	f := newAPIFixture(t)

	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone})
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	rec, resp := f.post(t, "/api/v1/auth/verify-code", map[string]string{"phone": testPhone, "code": wrong})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidCode, resp.Error.Code)
}

func TestVerifyCodeExhaustsAttempts(t *testing.T) {
	f := newAPIFixture(t)

	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone})
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		_, resp := f.post(t, "/api/v1/auth/verify-code", map[string]string{"phone": testPhone, "code": wrong})
		require.Equal(t, CodeInvalidCode, resp.Error.Code)
	}

	// The attempt after the third wrong guess is refused before the
	// code is even looked at, and kills the entry.
	_, resp := f.post(t, "/api/v1/auth/verify-code", map[string]string{"phone": testPhone, "code": code})
	assert.Equal(t, CodeTooManyAttempts, resp.Error.Code)

	_, resp = f.post(t, "/api/v1/auth/verify-code", map[string]string{"phone": testPhone, "code": code})
	assert.Equal(t, CodeExpired, resp.Error.Code)
}

func TestVerifyCodeWithoutPasswordCannotRegister(t *testing.T) {
	f := newAPIFixture(t)

	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone})
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	rec, resp := f.post(t, "/api/v1/auth/verify-code", map[string]string{
		"phone": testPhone, "code": code, "name": "Ali Valiyev",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRegistrationDataRequired, resp.Error.Code)
}

func registerViaAPI(t *testing.T, f *apiFixture, password string) map[string]interface{} {
	t.Helper()
	_, _ = f.post(t, "/api/v1/auth/send-code", map[string]string{"phone": testPhone, "password": password})
	code := f.issuedCode(t, otp.NamespaceSMS, testPhone)

	rec, resp := f.post(t, "/api/v1/auth/verify-code", map[string]string{
		"phone": testPhone, "code": code, "name": "Ali Valiyev",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return resp.Data.(map[string]interface{})
}

func TestLoginEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	registerViaAPI(t, f, "s3cret")

	rec, resp := f.post(t, "/api/v1/auth/login", map[string]string{"phone": testPhone, "password": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = f.post(t, "/api/v1/auth/login", map[string]string{"phone": testPhone, "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidCredentials, resp.Error.Code)

	// An unknown phone gets the same answer as a wrong password.
	rec, resp = f.post(t, "/api/v1/auth/login", map[string]string{"phone": "+998909999999", "password": "s3cret"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidCredentials, resp.Error.Code)
}

func TestRefreshAndLogoutEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	data := registerViaAPI(t, f, "s3cret")
	refreshToken := data["tokens"].(map[string]interface{})["refresh_token"].(string)

	rec, resp := f.post(t, "/api/v1/auth/refresh", map[string]string{"refresh_token": refreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	rotated := resp.Data.(map[string]interface{})["refresh_token"].(string)

	rec, _ = f.post(t, "/api/v1/auth/logout", map[string]string{"refresh_token": rotated})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Logout twice is fine, refreshing a revoked token is not.
	rec, _ = f.post(t, "/api/v1/auth/logout", map[string]string{"refresh_token": rotated})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = f.post(t, "/api/v1/auth/refresh", map[string]string{"refresh_token": rotated})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, resp.Error.Code)
}

func TestRefreshGarbageToken(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.post(t, "/api/v1/auth/refresh", map[string]string{"refresh_token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, resp.Error.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	registerViaAPI(t, f, "old-password")

	rec, _ := f.post(t, "/api/v1/auth/forgot-password", map[string]string{"phone": testPhone})
	assert.Equal(t, http.StatusOK, rec.Code)

	code := f.issuedCode(t, otp.NamespaceReset, testPhone)
	rec, _ = f.post(t, "/api/v1/auth/reset-password", map[string]string{
		"phone": testPhone, "code": code, "new_password": "new-password",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.post(t, "/api/v1/auth/login", map[string]string{"phone": testPhone, "password": "new-password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotPasswordUnknownPhone(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.post(t, "/api/v1/auth/forgot-password", map[string]string{"phone": testPhone})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeUserNotFound, resp.Error.Code)
}

func TestUnknownEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/nope", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
