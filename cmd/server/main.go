package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/forumapi/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"FORUM_DEBUG"`
		Version kong.VersionFlag

		Serve    commands.ServeCmd    `cmd:"" help:"Start the forum authentication API."`
		Sessions commands.SessionsCmd `cmd:"" help:"Manage login sessions."`
		Users    commands.UsersCmd    `cmd:"" help:"Manage forum users."`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("forum-server"),
		kong.Description("Authentication and session core of the forum Q&A API."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
