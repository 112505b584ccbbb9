package main

// Subcommands that operate on the configured chain store without Matrix.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/bdobrica/Parrot/common/version"
	"github.com/bdobrica/Parrot/internal/parrot/cache"
	"github.com/bdobrica/Parrot/internal/parrot/chain"
	"github.com/bdobrica/Parrot/internal/parrot/chainstore"
	"github.com/bdobrica/Parrot/internal/parrot/training"
)

// withChain loads sessionID's chain from the configured store and runs fn on
// it through a cache, so offline commands read and write chains exactly as
// the bot does.
func withChain(ctx context.Context, sessionID int64, fn func(c *cache.Cache, s *cache.Shared) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := chainstore.New(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	c := cache.New(store, cfg.Cache.Cycle, nil)
	shared, err := c.GetChain(ctx, sessionID)
	if err != nil {
		return err
	}
	return fn(c, shared)
}

func sessionFlag(dst *int64) cli.Flag {
	return &cli.Int64Flag{
		Name:        "session",
		Aliases:     []string{"s"},
		Usage:       "session id (a room's id is printed in the bot's logs)",
		Destination: dst,
		Required:    true,
	}
}

func trainCmd() *cli.Command {
	var (
		sessionID int64
		file      string
	)
	return &cli.Command{
		Name:  "train",
		Usage: "Feed a chat export into a session's chain",
		Flags: []cli.Flag{
			sessionFlag(&sessionID),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to the JSON chat export",
				Destination: &file,
				Required:    true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read export: %w", err)
			}
			texts, err := training.Parse(data)
			if err != nil {
				return err
			}
			return withChain(ctx, sessionID, func(c *cache.Cache, s *cache.Shared) error {
				err := s.Do(func(ch *chain.Chain) error {
					for _, t := range texts {
						ch.FeedString(t)
					}
					return nil
				})
				if err != nil {
					return err
				}
				if err := c.Flush(ctx, sessionID); err != nil {
					return err
				}
				fmt.Printf("Trained session %d on %d messages\n", sessionID, len(texts))
				return nil
			})
		},
	}
}

func generateCmd() *cli.Command {
	var (
		sessionID int64
		from      string
		count     int
	)
	return &cli.Command{
		Name:  "generate",
		Usage: "Print lines generated from a session's chain",
		Flags: []cli.Flag{
			sessionFlag(&sessionID),
			&cli.StringFlag{Name: "from", Usage: "start from this word instead of a sentence start", Destination: &from},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "number of lines", Value: 1, Destination: &count},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withChain(ctx, sessionID, func(_ *cache.Cache, s *cache.Shared) error {
				return s.Do(func(ch *chain.Chain) error {
					for range count {
						line, err := generateLine(ch, from)
						if errors.Is(err, chain.ErrEmptyDistribution) {
							return fmt.Errorf("session %d has not been trained", sessionID)
						}
						if err != nil {
							return err
						}
						if line == "" {
							return fmt.Errorf("session %d has never seen %q", sessionID, from)
						}
						fmt.Println(line)
					}
					return nil
				})
			})
		},
	}
}

func generateLine(ch *chain.Chain, from string) (string, error) {
	if from != "" {
		return ch.GenerateStringFrom(from)
	}
	words, err := ch.Generate()
	if err != nil {
		return "", err
	}
	return strings.Join(words, " "), nil
}

func inspectCmd() *cli.Command {
	var sessionID int64
	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the size of a session's chain",
		Flags: []cli.Flag{sessionFlag(&sessionID)},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withChain(ctx, sessionID, func(_ *cache.Cache, s *cache.Shared) error {
				return s.Do(func(ch *chain.Chain) error {
					fmt.Printf("session:     %d\n", sessionID)
					fmt.Printf("states:      %d\n", ch.States())
					fmt.Printf("transitions: %d\n", ch.Transitions())
					return nil
				})
			})
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println("parrot", version.Info())
			return nil
		},
	}
}
