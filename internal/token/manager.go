// Package token issues and validates the signed session tokens handed
// out after a successful verification.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired token")

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Blacklist remembers revoked refresh token IDs until they would have
// expired anyway.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Pair is what a client receives after authenticating.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type sessionClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// ManagerConfig holds the signing material and lifetimes.
type ManagerConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

// Manager signs access/refresh pairs with HS256 and checks refresh
// tokens against the revocation blacklist.
type Manager struct {
	cfg       ManagerConfig
	blacklist Blacklist
	clock     func() time.Time
}

func NewManager(cfg ManagerConfig, blacklist Blacklist, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{cfg: cfg, blacklist: blacklist, clock: clock}
}

func (m *Manager) sign(userID, tokenType string, ttl time.Duration) (string, error) {
	now := m.clock()
	claims := sessionClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// IssuePair mints a fresh access/refresh pair for userID.
func (m *Manager) IssuePair(userID string) (*Pair, error) {
	access, err := m.sign(userID, typeAccess, m.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(userID, typeRefresh, m.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.cfg.AccessTTL.Seconds()),
	}, nil
}

func (m *Manager) parse(tokenString, wantType string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	}, jwt.WithTimeFunc(m.clock))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccess returns the user ID an access token was issued for.
func (m *Manager) ValidateAccess(tokenString string) (string, error) {
	claims, err := m.parse(tokenString, typeAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Refresh validates a refresh token and rotates it: the old token is
// revoked and a brand new pair returned.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	claims, err := m.parse(refreshToken, typeRefresh)
	if err != nil {
		return nil, err
	}

	revoked, err := m.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}

	if err := m.revokeClaims(ctx, claims); err != nil {
		return nil, err
	}
	return m.IssuePair(claims.Subject)
}

// Revoke invalidates a refresh token. Revoking a token that is already
// revoked succeeds, so logout is safe to repeat.
func (m *Manager) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := m.parse(refreshToken, typeRefresh)
	if err != nil {
		return err
	}
	return m.revokeClaims(ctx, claims)
}

func (m *Manager) revokeClaims(ctx context.Context, claims *sessionClaims) error {
	ttl := claims.ExpiresAt.Sub(m.clock())
	if err := m.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
