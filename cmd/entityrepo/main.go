/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/suparena/entityrepo"
	"github.com/suparena/entityrepo/config"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "entityrepo",
		Usage: "Inspect and load entity collections in any supported store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Store provider (dynamodb, badger, sqlite, memory)",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection (table) name",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Database path for embedded stores",
			},
			&cli.StringFlag{
				Name:  "connection-string",
				Usage: "Connection string, e.g. Region=us-east-1;Table=items",
			},
			&cli.BoolFlag{
				Name:  "allow-create",
				Usage: "Create the collection when it does not exist",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "version",
				Usage:  "Show version information",
				Action: versionCommand,
			},
			{
				Name:   "count",
				Usage:  "Count entities, optionally filtered",
				Action: countCommand,
				Flags:  []cli.Flag{whereFlag()},
			},
			{
				Name:   "find",
				Usage:  "Print matching entities as JSON lines",
				Action: findCommand,
				Flags: []cli.Flag{
					whereFlag(),
					&cli.StringFlag{
						Name:  "partition",
						Usage: "Restrict the query to one partition key",
					},
					&cli.StringSliceFlag{
						Name:    "order",
						Aliases: []string{"o"},
						Usage:   "Order by field; append :desc for descending (repeatable)",
					},
					&cli.IntFlag{
						Name:  "skip",
						Usage: "Number of results to skip",
					},
					&cli.IntFlag{
						Name:    "take",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
					},
				},
			},
			{
				Name:      "import",
				Usage:     "Insert or update entities from a JSON lines file",
				ArgsUsage: "<file|->",
				Action:    importCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "insert-only",
						Usage: "Skip entities whose key already exists",
					},
				},
			},
			{
				Name:   "delete",
				Usage:  "Delete entities matching a filter",
				Action: deleteCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "where",
						Aliases:  []string{"w"},
						Usage:    `Filter as "field op value" (repeatable, combined with AND)`,
						Required: true,
					},
				},
			},
			{
				Name:   "delete-all",
				Usage:  "Delete every entity of the collection",
				Action: deleteAllCommand,
			},
		},
	}
}

func whereFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "where",
		Aliases: []string{"w"},
		Usage:   `Filter as "field op value" (repeatable, combined with AND)`,
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig reads the configuration file and environment, then applies
// command line overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet("provider") {
		cfg.Provider = c.String("provider")
	}
	if c.IsSet("collection") {
		cfg.Collection = c.String("collection")
	}
	if c.IsSet("path") {
		cfg.Path = c.String("path")
	}
	if c.IsSet("connection-string") {
		cfg.ConnectionString = c.String("connection-string")
	}
	if c.IsSet("allow-create") {
		cfg.AllowCreate = c.Bool("allow-create")
	}
	return cfg, nil
}

func openRepository(c *cli.Context) (*entityrepo.Repository[document], error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	repo := entityrepo.Open[document](cfg)
	if err := repo.Initialize(c.Context); err != nil {
		return nil, err
	}
	return repo, nil
}

func versionCommand(c *cli.Context) error {
	_, err := fmt.Fprintln(c.App.Writer, entityrepo.GetVersionInfo())
	return err
}
