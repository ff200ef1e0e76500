// Package directory resolves forum users, provisioning them on first login.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/auth"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
)

var ErrInvalidSciper = errors.New("invalid sciper")

var sciperPattern = regexp.MustCompile(`^[0-9]{1,12}$`)

// ValidateSciper checks that the id is numeric.
func ValidateSciper(sciper string) error {
	if !sciperPattern.MatchString(sciper) {
		return fmt.Errorf("%w: %q", ErrInvalidSciper, sciper)
	}
	return nil
}

// Directory is the source of truth for roles and admin flags.
type Directory struct {
	users store.UserStore
}

// New creates a directory over the user store.
func New(users store.UserStore) *Directory {
	return &Directory{users: users}
}

// GetUserDetails returns the stored user, creating a default student when
// absent and enforceInDatabase is set. Without enforceInDatabase an absent user
// is returned as a transient student and nothing is written.
// An existing record is never overwritten.
func (d *Directory) GetUserDetails(ctx context.Context, sciper, name, email string, enforceInDatabase bool) (*auth.User, error) {
	user, err := d.users.Get(ctx, sciper)
	if err == nil {
		return toAuthUser(user), nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	user = &models.User{
		Sciper: sciper,
		Name:   name,
		Email:  email,
		Role:   models.DefaultRole,
	}

	if !enforceInDatabase {
		return toAuthUser(user), nil
	}

	if err := d.users.Create(ctx, user); err != nil {
		if !errors.Is(err, store.ErrUserAlreadyExists) {
			return nil, fmt.Errorf("failed to provision user: %w", err)
		}

		// lost a race with a concurrent login
		existing, err := d.users.Get(ctx, sciper)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		return toAuthUser(existing), nil
	}

	log.Info().Str("sciper", sciper).Msg("Provisioned new user")

	return toAuthUser(user), nil
}

// Lookup returns the stored user or store.ErrUserNotFound.
func (d *Directory) Lookup(ctx context.Context, sciper string) (*models.User, error) {
	return d.users.Get(ctx, sciper)
}

// SetRole changes the role of an existing user.
func (d *Directory) SetRole(ctx context.Context, sciper string, role models.Role) error {
	if _, err := models.ParseRole(string(role)); err != nil {
		return err
	}
	if err := d.users.SetRole(ctx, sciper, role); err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}

	log.Info().Str("sciper", sciper).Str("role", string(role)).Msg("Changed user role")
	return nil
}

// SetAdmin grants or revokes admin rights of an existing user.
func (d *Directory) SetAdmin(ctx context.Context, sciper string, isAdmin bool) error {
	if err := d.users.SetAdmin(ctx, sciper, isAdmin); err != nil {
		return fmt.Errorf("failed to set admin flag: %w", err)
	}

	log.Info().Str("sciper", sciper).Bool("is_admin", isAdmin).Msg("Changed user admin flag")
	return nil
}

// IsAdmin reports the stored admin flag. Unknown users are not admins.
func (d *Directory) IsAdmin(ctx context.Context, sciper string) (bool, error) {
	user, err := d.users.Get(ctx, sciper)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	return user.IsAdmin, nil
}

func toAuthUser(u *models.User) *auth.User {
	return &auth.User{
		Sciper:  u.Sciper,
		Name:    u.Name,
		Email:   u.Email,
		Role:    u.Role,
		IsAdmin: u.IsAdmin,
	}
}
