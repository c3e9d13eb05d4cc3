// Package service implements the auth flows on top of the verification
// core: combined registration/login through SMS codes, password login,
// session refresh and logout, and password reset.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shop-auth/internal/bucketing"
	"shop-auth/internal/encryption"
	"shop-auth/internal/events"
	"shop-auth/internal/hashing"
	"shop-auth/internal/models"
	"shop-auth/internal/otp"
	"shop-auth/internal/repository/scylla"
	"shop-auth/internal/sms"
	"shop-auth/internal/token"
	"shop-auth/internal/util"
)

var (
	// ErrRegistrationDataRequired means the code verified but the phone
	// has no account yet and the request was missing the name or the
	// password needed to create one.
	ErrRegistrationDataRequired = errors.New("registration data required")

	// ErrInvalidCredentials covers a wrong password for an existing
	// account.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthResult is returned by the flows that end in a session.
type AuthResult struct {
	UserID    string      `json:"user_id"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
	IsNewUser bool        `json:"is_new_user"`
	Tokens    *token.Pair `json:"tokens"`
}

// AuthService ties the verification core, the identity store, and the
// session issuer together.
type AuthService struct {
	otp        *otp.Service
	dispatcher *sms.Dispatcher
	users      scylla.UserRepository
	hasher     *hashing.Hasher
	encryptor  *encryption.EncryptionManager
	buckets    *bucketing.BucketingManager
	tokens     *token.Manager
	publisher  *events.Publisher
}

func NewAuthService(
	otpService *otp.Service,
	dispatcher *sms.Dispatcher,
	users scylla.UserRepository,
	hasher *hashing.Hasher,
	encryptor *encryption.EncryptionManager,
	buckets *bucketing.BucketingManager,
	tokens *token.Manager,
	publisher *events.Publisher,
) *AuthService {
	return &AuthService{
		otp:        otpService,
		dispatcher: dispatcher,
		users:      users,
		hasher:     hasher,
		encryptor:  encryptor,
		buckets:    buckets,
		tokens:     tokens,
		publisher:  publisher,
	}
}

func codeMessage(code string) string {
	return fmt.Sprintf("Your verification code: %s. Do not share it with anyone.", code)
}

// SendCode starts the combined registration/login flow: a code goes out
// by SMS and the optional password rides along in the pending entry
// until verification decides which branch applies.
func (s *AuthService) SendCode(ctx context.Context, phone, password, ip string) error {
	code, err := s.otp.Issue(ctx, otp.NamespaceSMS, phone, ip, password)
	if err != nil {
		return err
	}

	s.dispatcher.Enqueue(sms.Message{Phone: phone, Body: codeMessage(code)})

	s.publisher.Publish(ctx, models.AuthEvent{
		EventType: models.EventCodeIssued,
		PhoneHash: s.hasher.HashPhone(phone),
		IPAddress: ip,
	})
	return nil
}

// VerifyCode finishes whichever flow the code started. The code is
// single use: a match consumes it before any branching, so a failed
// branch means requesting a fresh code. An existing account logs in,
// checking the password captured at send time if one was given. An
// unknown phone registers, which needs both a name and a password;
// missing either, the caller gets ErrRegistrationDataRequired.
func (s *AuthService) VerifyCode(ctx context.Context, phone, code, name, ip string) (*AuthResult, error) {
	password, err := s.otp.Verify(ctx, otp.NamespaceSMS, phone, code)
	if err != nil {
		return nil, err
	}

	phoneHash := s.hasher.HashPhone(phone)
	s.publisher.Publish(ctx, models.AuthEvent{
		EventType: models.EventCodeVerified,
		PhoneHash: phoneHash,
		IPAddress: ip,
	})

	user, err := s.users.GetUserByPhoneHash(ctx, phoneHash)
	switch {
	case err == nil:
		return s.loginVerified(ctx, user, password, ip)
	case errors.Is(err, scylla.ErrUserNotFound):
		if password == "" || strings.TrimSpace(name) == "" {
			return nil, ErrRegistrationDataRequired
		}
		return s.register(ctx, phone, phoneHash, password, name, ip)
	default:
		return nil, err
	}
}

func (s *AuthService) loginVerified(ctx context.Context, user *models.User, password, ip string) (*AuthResult, error) {
	if password != "" {
		ok, err := s.hasher.VerifyPassword(password, user.PasswordHash)
		if err != nil || !ok {
			return nil, ErrInvalidCredentials
		}
	}

	pair, err := s.tokens.IssuePair(user.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.UserBucket, user.UserID, now); err != nil {
		util.Warn("failed to update last login",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
	}

	s.publisher.Publish(ctx, models.AuthEvent{
		EventType: models.EventUserLoggedIn,
		PhoneHash: user.PhoneHash,
		UserID:    user.UserID,
		IPAddress: ip,
	})

	return &AuthResult{
		UserID:    user.UserID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Tokens:    pair,
	}, nil
}

func (s *AuthService) register(ctx context.Context, phone, phoneHash, password, name, ip string) (*AuthResult, error) {
	firstName, lastName := splitName(name)

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	encrypted, keyID, err := s.encryptor.EncryptField(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}

	user := &models.User{
		UserBucket:      s.buckets.GetUserBucket(phoneHash),
		PhoneHash:       phoneHash,
		PhoneEncrypted:  encrypted,
		PhoneKeyID:      keyID,
		FirstName:       firstName,
		LastName:        lastName,
		PasswordHash:    passwordHash,
		IsPhoneVerified: true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(user.UserID)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, models.AuthEvent{
		EventType: models.EventUserRegistered,
		PhoneHash: phoneHash,
		UserID:    user.UserID,
		IPAddress: ip,
	})

	return &AuthResult{
		UserID:    user.UserID,
		FirstName: firstName,
		LastName:  lastName,
		IsNewUser: true,
		Tokens:    pair,
	}, nil
}

// Login authenticates an existing account by phone and password without
// an SMS round trip.
func (s *AuthService) Login(ctx context.Context, phone, password, ip string) (*AuthResult, error) {
	user, err := s.users.GetUserByPhoneHash(ctx, s.hasher.HashPhone(phone))
	if err != nil {
		// A missing account answers exactly like a wrong password so
		// login responses never reveal which phones are registered.
		if errors.Is(err, scylla.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	ok, err := s.hasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	return s.loginVerified(ctx, user, "", ip)
}

// Refresh rotates a refresh token into a fresh session pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout revokes a refresh token. Repeating a logout succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	s.publisher.Publish(ctx, models.AuthEvent{
		EventType: models.EventUserLoggedOut,
	})
	return nil
}

// ForgotPassword sends a reset code to an existing account.
func (s *AuthService) ForgotPassword(ctx context.Context, phone, ip string) error {
	if _, err := s.users.GetUserByPhoneHash(ctx, s.hasher.HashPhone(phone)); err != nil {
		return err
	}

	code, err := s.otp.Issue(ctx, otp.NamespaceReset, phone, ip, "")
	if err != nil {
		return err
	}

	s.dispatcher.Enqueue(sms.Message{Phone: phone, Body: codeMessage(code)})
	return nil
}

// ResetPassword consumes a reset code and replaces the account
// password.
func (s *AuthService) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	if _, err := s.otp.Verify(ctx, otp.NamespaceReset, phone, code); err != nil {
		return err
	}

	user, err := s.users.GetUserByPhoneHash(ctx, s.hasher.HashPhone(phone))
	if err != nil {
		return err
	}

	hashed, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.UserBucket, user.UserID, hashed); err != nil {
		return err
	}

	s.publisher.Publish(ctx, models.AuthEvent{
		EventType: models.EventPasswordReset,
		PhoneHash: user.PhoneHash,
		UserID:    user.UserID,
	})
	return nil
}

// splitName turns "Ali Valiyev" into ("Ali", "Valiyev"). A single word
// becomes the first name.
func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
