package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"shop-auth/internal/models"
	"shop-auth/internal/util"
)

// userRepository persists identities across two tables: users, keyed by
// (user_bucket, user_id), and the phone_to_user lookup table keyed by
// phone hash. Both writes go through one logged batch so a phone never
// points at a missing user.
type userRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient) UserRepository {
	return &userRepository{client: client}
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.UserID, user.PhoneHash, user.PhoneEncrypted, user.PhoneKeyID,
		user.FirstName, user.LastName, user.PasswordHash, user.IsPhoneVerified,
		user.CreatedAt, user.LastLogin, user.UpdatedAt)

	batch.Query(r.client.Prepared.CreatePhoneToUser.Statement(),
		user.PhoneHash, user.UserBucket, user.UserID, user.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("failed to create user",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("user created", util.String("user_id", user.UserID))
	return nil
}

func (r *userRepository) GetUserByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	var userBucket int
	var userID string

	query := r.client.Prepared.GetUserByPhoneHash.Bind(phoneHash).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &userBucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve phone hash: %w", err)
	}

	return r.GetUserByID(ctx, userBucket, userID)
}

func (r *userRepository) GetUserByID(ctx context.Context, userBucket int, userID string) (*models.User, error) {
	user := &models.User{}

	query := r.client.Prepared.GetUserByID.Bind(userBucket, userID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.PhoneHash, &user.PhoneEncrypted, &user.PhoneKeyID,
		&user.FirstName, &user.LastName, &user.PasswordHash, &user.IsPhoneVerified,
		&user.CreatedAt, &user.LastLogin, &user.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, userBucket int, userID, passwordHash string) error {
	now := time.Now().UTC()
	query := r.client.Prepared.UpdatePassword.Bind(passwordHash, now, userBucket, userID).WithContext(ctx)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, userBucket int, userID string, at time.Time) error {
	query := r.client.Prepared.UpdateLastLogin.Bind(at, userBucket, userID).WithContext(ctx)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *userRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
