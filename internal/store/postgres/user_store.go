package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL-backed user store.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Get retrieves a user by sciper.
func (s *UserStore) Get(ctx context.Context, sciper string) (*models.User, error) {
	query := `
		SELECT sciper, name, email, role, is_admin, created_at, updated_at
		FROM users
		WHERE sciper = $1
	`

	var user models.User
	err := s.pool.QueryRow(ctx, query, sciper).Scan(
		&user.Sciper,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapPostgresError(err))
	}

	return &user, nil
}

// Create inserts a new user.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (sciper, name, email, role, is_admin)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, user.Sciper, user.Name, user.Email, string(user.Role), user.IsAdmin)
	if err != nil {
		if mapped := mapPostgresError(err); errors.Is(mapped, store.ErrUserAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("failed to create user: %w", mapPostgresError(err))
	}

	return nil
}

// SetRole changes the role of an existing user.
func (s *UserStore) SetRole(ctx context.Context, sciper string, role models.Role) error {
	return s.exec(ctx, `UPDATE users SET role = $2, updated_at = now() WHERE sciper = $1`, sciper, string(role))
}

// SetAdmin changes the admin flag of an existing user.
func (s *UserStore) SetAdmin(ctx context.Context, sciper string, isAdmin bool) error {
	return s.exec(ctx, `UPDATE users SET is_admin = $2, updated_at = now() WHERE sciper = $1`, sciper, isAdmin)
}

func (s *UserStore) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}

	return nil
}
