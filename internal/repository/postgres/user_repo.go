package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when a user row does not exist
var ErrUserNotFound = errors.New("user not found")

// UserRepository reads identity data owned by the identity collaborator.
// This service never writes the users table.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetDisplayName returns the user's profile name. Empty string when no
// profile name is set; callers fall back to a truncated identifier.
func (r *UserRepository) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	query := `SELECT COALESCE(display_name, '') FROM users WHERE user_id = $1`

	var name string
	err := r.pool.QueryRow(ctx, query, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get display name: %w", err)
	}

	return name, nil
}

// Exists checks whether a user id is known to the identity collaborator
func (r *UserRepository) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}
