package services

import (
	"context"
	"fmt"

	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/internal/telemetry"
	"admissions-workflow/backend/internal/validator"
	"admissions-workflow/backend/pkg/models"
)

// WorkflowService owns validation and activation of workflows.
type WorkflowService struct {
	repo    repository.WorkflowRepository
	logger  *logging.Logger
	metrics *telemetry.Metrics
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(repo repository.WorkflowRepository, logger *logging.Logger, metrics *telemetry.Metrics) *WorkflowService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WorkflowService{repo: repo, logger: logger.Named("workflows"), metrics: metrics}
}

// ValidateWorkflow loads the workflow and runs the structural checks.
// Problems are returned as data; the error is only for load failures.
func (s *WorkflowService) ValidateWorkflow(ctx context.Context, id string) (*models.ValidationResult, error) {
	g, err := s.repo.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := validator.Validate(g)
	s.metrics.WorkflowValidated(ctx, res.IsValid)
	s.logger.Debug("workflow validated", "id", id, "valid", res.IsValid,
		"errors", len(res.Errors), "warnings", len(res.Warnings))
	return res, nil
}

// ActivateWorkflow makes the workflow the active one for its application
// type. It refuses while validation reports errors.
func (s *WorkflowService) ActivateWorkflow(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	res, err := s.ValidateWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.IsValid {
		return nil, &models.ValidationFailedError{Result: res}
	}
	return s.repo.SetActive(ctx, id, true)
}

// DeactivateWorkflow clears the active flag.
func (s *WorkflowService) DeactivateWorkflow(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	return s.repo.SetActive(ctx, id, false)
}

// GetActiveWorkflow returns the active workflow for an application type.
func (s *WorkflowService) GetActiveWorkflow(ctx context.Context, appType models.ApplicationType) (*models.WorkflowGraph, error) {
	active := true
	gs, err := s.repo.GetAllWorkflows(ctx, models.WorkflowFilter{ApplicationType: appType, Active: &active})
	if err != nil {
		return nil, err
	}
	if len(gs) == 0 {
		return nil, fmt.Errorf("no active %s workflow: %w", appType, models.ErrNotFound)
	}
	if len(gs) > 1 {
		s.logger.Warn("more than one active workflow", "type", appType, "count", len(gs))
	}
	return gs[0], nil
}

// GetEntryStage returns the stage new applications of the workflow start in.
func (s *WorkflowService) GetEntryStage(ctx context.Context, id string) (*models.Stage, error) {
	g, err := s.repo.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := g.EntryStage()
	if entry == nil {
		return nil, fmt.Errorf("workflow %s has no entry stage: %w", id, models.ErrNotFound)
	}
	return entry, nil
}
