package main

import (
	"fmt"
	"io"

	"admissions-workflow/backend/internal/app"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/internal/services"
	"admissions-workflow/backend/pkg/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4D96FF"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D"))
	validStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6BCB77"))
)

func newValidateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow-id...]",
		Short: "Check workflows for structural problems",
		Long: `Validate runs the structural checks on the given workflows, or on every
workflow when no id is given, and prints the findings as a table.

The exit status is 1 when any workflow has errors. Warnings alone do not
fail the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := app.Open(ctx, c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer backend.Close()

			repo := repository.NewGraphRepository(backend.Store, c.logger)
			svc := services.NewWorkflowService(repo, c.logger, nil)

			ids := args
			if len(ids) == 0 {
				all, err := repo.GetAllWorkflows(ctx, models.WorkflowFilter{})
				if err != nil {
					return err
				}
				for _, g := range all {
					ids = append(ids, g.ID)
				}
			}

			invalid := 0
			for _, id := range ids {
				g, err := repo.GetWorkflowByID(ctx, id)
				if err != nil {
					return err
				}
				res, err := svc.ValidateWorkflow(ctx, id)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), g, res)
				if !res.IsValid {
					invalid++
				}
			}
			if invalid > 0 {
				return errInvalid
			}
			return nil
		},
	}
}

// printReport writes one workflow's findings, errors first.
func printReport(w io.Writer, g *models.WorkflowGraph, res *models.ValidationResult) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(g.Name), g.ID)

	if len(res.Errors) == 0 && len(res.Warnings) == 0 {
		fmt.Fprintf(w, "%s\n\n", validStyle.Render("valid"))
		return
	}

	tbl := table.New("Severity", "Code", "Entity", "Message").
		WithWriter(w).
		WithWidthFunc(lipgloss.Width).
		WithHeaderFormatter(func(format string, vals ...interface{}) string {
			return headerStyle.Render(fmt.Sprintf(format, vals...))
		})
	for _, issue := range res.Errors {
		tbl.AddRow(errorStyle.Render("error"), issue.Code, entityLabel(g, issue.Entity), issue.Message)
	}
	for _, issue := range res.Warnings {
		tbl.AddRow(warningStyle.Render("warning"), issue.Code, entityLabel(g, issue.Entity), issue.Message)
	}
	tbl.Print()

	summary := validStyle.Render("valid")
	if !res.IsValid {
		summary = errorStyle.Render("invalid")
	}
	fmt.Fprintf(w, "%s: %d error(s), %d warning(s)\n\n", summary, len(res.Errors), len(res.Warnings))
}

// entityLabel prefers a stage's name over its id.
func entityLabel(g *models.WorkflowGraph, ref models.EntityRef) string {
	if ref.Type == models.EntityStage {
		if s := g.StageByID(ref.ID); s != nil {
			return "stage " + s.Name
		}
	}
	return string(ref.Type) + " " + ref.ID
}
