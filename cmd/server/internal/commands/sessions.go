package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/forumapi/internal/directory"
)

type SessionsCmd struct {
	Sweep  SessionsSweepCmd  `cmd:"" help:"Delete every expired session once."`
	Revoke SessionsRevokeCmd `cmd:"" help:"Delete every session of a user."`
}

type SessionsSweepCmd struct {
	Storage StorageFlags `embed:""`
}

func (c *SessionsSweepCmd) Run(ctx context.Context, globals *Globals) error {
	log := globals.setupLogger()

	stores, err := c.Storage.open(ctx, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	deleted, err := stores.sessions.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	log.Info().Int("deleted", deleted).Msg("Swept expired sessions")
	return nil
}

type SessionsRevokeCmd struct {
	Sciper  string       `help:"sciper of the user" required:""`
	Storage StorageFlags `embed:""`
}

func (c *SessionsRevokeCmd) Validate() error {
	return directory.ValidateSciper(c.Sciper)
}

func (c *SessionsRevokeCmd) Run(ctx context.Context, globals *Globals) error {
	log := globals.setupLogger()

	stores, err := c.Storage.open(ctx, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	revoked, err := stores.sessions.DeleteByUser(ctx, c.Sciper)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	log.Info().Str("sciper", c.Sciper).Int("revoked", revoked).Msg("Revoked sessions")
	return nil
}
