package scylla

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shop-auth/internal/models"
)

// MemoryUserRepository is the in-process identity store used in
// development mode and in tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byPhone map[string]*models.User
	byID    map[string]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byPhone: make(map[string]*models.User),
		byID:    make(map[string]*models.User),
	}
}

func (r *MemoryUserRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	stored := *user
	r.byPhone[user.PhoneHash] = &stored
	r.byID[user.UserID] = &stored
	return nil
}

func (r *MemoryUserRepository) GetUserByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byPhone[phoneHash]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *MemoryUserRepository) GetUserByID(ctx context.Context, userBucket int, userID string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *MemoryUserRepository) UpdatePassword(ctx context.Context, userBucket int, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	now := time.Now().UTC()
	user.PasswordHash = passwordHash
	user.UpdatedAt = &now
	return nil
}

func (r *MemoryUserRepository) UpdateLastLogin(ctx context.Context, userBucket int, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.LastLogin = &at
	return nil
}

func (r *MemoryUserRepository) HealthCheck(ctx context.Context) error {
	return nil
}
