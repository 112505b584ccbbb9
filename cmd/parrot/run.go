package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/bdobrica/Parrot/common/version"
	"github.com/bdobrica/Parrot/internal/parrot/app"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Connect to the homeserver and start the bot",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.Info("starting Parrot", "version", version.Info())

			parrot, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer parrot.Stop()
			return parrot.Run(ctx)
		},
	}
}
