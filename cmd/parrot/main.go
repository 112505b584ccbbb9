// Parrot is a Matrix bot that learns how each room talks and answers with
// text generated from a per-room Markov chain.
//
// Configuration is read from config/parrot.yaml (or --config), an optional
// parrot.local.yaml overlay next to it, and PARROT_* environment variables:
//
//	PARROT_MATRIX_HOMESERVER    - Matrix homeserver URL
//	PARROT_MATRIX_USER_ID       - the bot's Matrix ID
//	PARROT_MATRIX_ACCESS_TOKEN  - the bot's access token
//	PARROT_STORE_BACKEND        - "sqlite" (default), "postgres" or "filesystem"
//	PARROT_CACHE_CYCLE          - SaveChain calls skipped between writes (default 10)
//	PARROT_LOG_LEVEL            - "debug", "info", "warn", "error" (default "info")
//
// The train, generate and inspect subcommands work on the configured store
// directly and do not need Matrix credentials.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/bdobrica/Parrot/internal/parrot/config"
	"github.com/bdobrica/Parrot/internal/parrot/observability"
)

var configPath string

func main() {
	app := &cli.Command{
		Name:  "parrot",
		Usage: "Markov chain chat bot for Matrix",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to the YAML config (default " + config.DefaultPath + ")",
				Destination: &configPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			trainCmd(),
			generateCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Matrix.AccessToken, cfg.Store.Postgres.DSN)
	return cfg, nil
}
