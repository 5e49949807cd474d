package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"admissions-workflow/backend/internal/api"
	"admissions-workflow/backend/internal/config"
	"admissions-workflow/backend/internal/logging"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errInvalid makes the process exit with status 1 without printing usage.
var errInvalid = errors.New("workflow is invalid")

type cli struct {
	configFile string
	cfg        *config.Config
	logger     *logging.Logger
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(c.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:               "server",
		Short:             "Admissions workflow engine",
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to config file")

	root.AddCommand(newServeCommand(c), newMigrateCommand(c), newValidateCommand(c))
	return root
}

func main() {
	api.Version = version
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
