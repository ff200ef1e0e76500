package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/forumapi/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserStore manages forum user records.
type UserStore interface {
	// Get retrieves a user by sciper.
	Get(ctx context.Context, sciper string) (*models.User, error)

	// Create inserts a new user. Returns ErrUserAlreadyExists on a duplicate sciper.
	Create(ctx context.Context, user *models.User) error

	// SetRole changes the role of an existing user.
	SetRole(ctx context.Context, sciper string, role models.Role) error

	// SetAdmin changes the admin flag of an existing user.
	SetAdmin(ctx context.Context, sciper string, isAdmin bool) error
}
