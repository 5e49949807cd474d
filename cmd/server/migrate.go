package main

import (
	"errors"

	"admissions-workflow/backend/internal/app"
	"admissions-workflow/backend/internal/repository"

	"github.com/spf13/cobra"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Storage.Driver != "postgres" {
				return errors.New("migrate requires storage.driver=postgres")
			}
			pool, err := app.InitDatabase(cmd.Context(), c.cfg.DB, c.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			c.logger.Info("database schema up to date", "database", c.cfg.DB.Name)
			return nil
		},
	}
}
