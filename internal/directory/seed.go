package directory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/forumapi/internal/models"
	"github.com/wolfeidau/forumapi/internal/store"
	"gopkg.in/yaml.v3"
)

// SeedFile lists users whose role and admin flag are enforced at startup.
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one entry of a seed file.
type SeedUser struct {
	Sciper string `yaml:"sciper"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Role   string `yaml:"role"`
	Admin  bool   `yaml:"admin"`
}

// LoadSeedFile reads and validates a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, u := range seed.Users {
		if err := ValidateSciper(u.Sciper); err != nil {
			return nil, fmt.Errorf("seed user %d: %w", i, err)
		}
		if u.Role == "" {
			seed.Users[i].Role = string(models.DefaultRole)
		} else if _, err := models.ParseRole(u.Role); err != nil {
			return nil, fmt.Errorf("seed user %d: %w", i, err)
		}
	}

	return &seed, nil
}

// Seed creates or updates every user of the seed file and returns how many were applied.
func (d *Directory) Seed(ctx context.Context, seed *SeedFile) (int, error) {
	for _, u := range seed.Users {
		role := models.Role(u.Role)

		err := d.users.Create(ctx, &models.User{
			Sciper:  u.Sciper,
			Name:    u.Name,
			Email:   u.Email,
			Role:    role,
			IsAdmin: u.Admin,
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrUserAlreadyExists) {
			return 0, fmt.Errorf("failed to seed user %s: %w", u.Sciper, err)
		}

		if err := d.users.SetRole(ctx, u.Sciper, role); err != nil {
			return 0, fmt.Errorf("failed to seed user %s: %w", u.Sciper, err)
		}
		if err := d.users.SetAdmin(ctx, u.Sciper, u.Admin); err != nil {
			return 0, fmt.Errorf("failed to seed user %s: %w", u.Sciper, err)
		}
	}

	log.Info().Int("count", len(seed.Users)).Msg("Applied user seed")

	return len(seed.Users), nil
}
