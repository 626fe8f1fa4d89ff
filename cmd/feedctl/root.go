package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"audiobook-feed/internal/config"
	"audiobook-feed/internal/logging"
)

// commandContext lazily loads the configuration shared by all subcommands.
type commandContext struct {
	configFlag *string
	config     *config.Config
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to read .env", "error", err)
	}
	path := *c.configFlag
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.toml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// Output belongs to the command; only warnings go to stderr.
	level := cfg.Logging.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	slog.SetDefault(logging.New(os.Stderr, level, cfg.Logging.Format))
	c.config = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:           "feedctl",
		Short:         "Audiobook feed maintenance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))

	return rootCmd
}
