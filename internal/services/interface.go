package services

import (
	"context"

	"admissions-workflow/backend/pkg/models"
)

// TransitionSource is the part of the graph repository the transition
// engine reads from.
type TransitionSource interface {
	// GetTransition returns a single transition.
	GetTransition(ctx context.Context, id string) (*models.Transition, error)
	// GetTransitionsForStage returns the transitions leaving stageID in
	// priority order.
	GetTransitionsForStage(ctx context.Context, stageID string) ([]*models.Transition, error)
}
