package templates

import (
	"context"
	"fmt"

	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/pkg/models"
)

// Writer is the part of the workflow repository used by Import.
type Writer interface {
	GetAllWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowGraph, error)
	CreateWorkflow(ctx context.Context, spec models.WorkflowSpec) (*models.WorkflowGraph, error)
}

// ImportResult reports what Import did.
type ImportResult struct {
	Created []*models.WorkflowGraph
	Skipped []string
}

// Import creates a workflow for every template whose name is not already
// taken. Imported workflows start inactive and are attributed to createdBy.
func Import(ctx context.Context, w Writer, ts []*Template, createdBy string, logger *logging.Logger) (*ImportResult, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	existing, err := w.GetAllWorkflows(ctx, models.WorkflowFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list existing workflows: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, g := range existing {
		taken[g.Name] = true
	}

	res := &ImportResult{}
	for _, t := range ts {
		if taken[t.Name] {
			logger.Info("workflow already exists, skipping", "name", t.Name)
			res.Skipped = append(res.Skipped, t.Name)
			continue
		}
		spec, err := t.Spec()
		if err != nil {
			return res, fmt.Errorf("template %q: %w", t.Name, err)
		}
		spec.CreatedBy = createdBy
		g, err := w.CreateWorkflow(ctx, spec)
		if err != nil {
			return res, fmt.Errorf("template %q: %w", t.Name, err)
		}
		logger.Info("workflow imported", "name", g.Name, "id", g.ID, "stages", len(g.Stages))
		taken[t.Name] = true
		res.Created = append(res.Created, g)
	}
	return res, nil
}
