package main

import (
	"context"
	"fmt"
	"log"

	"admissions-workflow/backend/internal/app"
	"admissions-workflow/backend/internal/config"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/internal/services"
	"admissions-workflow/backend/internal/templates"

	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	dir        string
	createdBy  string
	activate   bool
}

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import workflow templates, skipping names that already exist",
		Long: `Seed creates one workflow per YAML template. Without --dir the templates
compiled into the binary are used. Workflows whose name already exists are
left untouched, so the command is safe to run on every deploy.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "Path to config file")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Directory of .yaml templates (default: built-in templates)")
	cmd.Flags().StringVar(&opts.createdBy, "created-by", "seed-script", "Recorded as the creator of seeded workflows")
	cmd.Flags().BoolVar(&opts.activate, "activate", false, "Validate and activate each newly created workflow")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var ts []*templates.Template
	if opts.dir != "" {
		ts, err = templates.LoadDir(opts.dir)
	} else {
		ts, err = templates.Builtin()
	}
	if err != nil {
		return err
	}

	backend, err := app.Open(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer backend.Close()

	repo := repository.NewGraphRepository(backend.Store, logger)
	res, err := templates.Import(ctx, repo, ts, opts.createdBy, logger)
	if err != nil {
		return err
	}

	if opts.activate {
		svc := services.NewWorkflowService(repo, logger, nil)
		for _, g := range res.Created {
			if _, err := svc.ActivateWorkflow(ctx, g.ID); err != nil {
				return fmt.Errorf("failed to activate %q: %w", g.Name, err)
			}
			logger.Info("Activated workflow", "name", g.Name, "id", g.ID)
		}
	}

	logger.Info("Seeding complete!", "created", len(res.Created), "skipped", len(res.Skipped))
	return nil
}
