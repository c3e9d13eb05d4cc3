package scylla

import (
	"context"
	"errors"
	"time"

	"shop-auth/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the identity store behind the auth flows.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error)
	GetUserByID(ctx context.Context, userBucket int, userID string) (*models.User, error)
	UpdatePassword(ctx context.Context, userBucket int, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userBucket int, userID string, at time.Time) error
	HealthCheck(ctx context.Context) error
}
