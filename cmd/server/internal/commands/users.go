package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/forumapi/internal/directory"
	"github.com/wolfeidau/forumapi/internal/models"
)

type UsersCmd struct {
	SetRole UsersSetRoleCmd `cmd:"" help:"Set the role and admin flag of a user, creating the user when absent."`
	Seed    UsersSeedCmd    `cmd:"" help:"Apply a YAML seed file of users."`
}

type UsersSetRoleCmd struct {
	Sciper string `help:"sciper of the user" required:""`
	Name   string `help:"display name used when the user is created" default:""`
	Email  string `help:"email used when the user is created" default:""`
	Role   string `help:"forum role" required:"" enum:"student,assistant,teacher,llm"`
	Admin  string `help:"admin flag change (keep, grant or revoke)" default:"keep" enum:"keep,grant,revoke"`

	Storage StorageFlags `embed:""`
}

func (c *UsersSetRoleCmd) Validate() error {
	return directory.ValidateSciper(c.Sciper)
}

func (c *UsersSetRoleCmd) Run(ctx context.Context, globals *Globals) error {
	log := globals.setupLogger()

	stores, err := c.Storage.open(ctx, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	dir := directory.New(stores.users)

	if _, err := dir.GetUserDetails(ctx, c.Sciper, c.Name, c.Email, true); err != nil {
		return err
	}
	if err := dir.SetRole(ctx, c.Sciper, models.Role(c.Role)); err != nil {
		return err
	}

	switch c.Admin {
	case "grant":
		err = dir.SetAdmin(ctx, c.Sciper, true)
	case "revoke":
		err = dir.SetAdmin(ctx, c.Sciper, false)
	}
	if err != nil {
		return err
	}

	user, err := dir.Lookup(ctx, c.Sciper)
	if err != nil {
		return fmt.Errorf("failed to read back user: %w", err)
	}

	log.Info().
		Str("sciper", user.Sciper).
		Str("role", string(user.Role)).
		Bool("is_admin", user.IsAdmin).
		Msg("User updated")
	return nil
}

type UsersSeedCmd struct {
	File    string       `arg:"" help:"YAML seed file" type:"existingfile"`
	Storage StorageFlags `embed:""`
}

func (c *UsersSeedCmd) Run(ctx context.Context, globals *Globals) error {
	log := globals.setupLogger()

	seed, err := directory.LoadSeedFile(c.File)
	if err != nil {
		return err
	}

	stores, err := c.Storage.open(ctx, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	_, err = directory.New(stores.users).Seed(ctx, seed)
	return err
}
