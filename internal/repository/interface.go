package repository

import (
	"context"

	"admissions-workflow/backend/pkg/models"
)

// Reader holds the point lookups and listings shared by a Store and its
// transactions. Lookups of unknown ids return a *models.NotFoundError.
type Reader interface {
	// GetWorkflow returns the workflow header row.
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// ListWorkflows returns workflow headers matching filter, ordered by name then id.
	ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error)
	// ListStages returns the stages of a workflow ordered by sequence.
	ListStages(ctx context.Context, workflowID string) ([]*models.Stage, error)
	// ListTransitions returns the transitions of a workflow ordered by priority then id.
	ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error)
	// GetStage returns a single stage.
	GetStage(ctx context.Context, id string) (*models.Stage, error)
	// GetTransition returns a single transition.
	GetTransition(ctx context.Context, id string) (*models.Transition, error)
	// ListTransitionsFromStage returns transitions whose source is stageID,
	// ordered by priority then id.
	ListTransitionsFromStage(ctx context.Context, stageID string) ([]*models.Transition, error)
}

// Tx is one atomic unit of work against the store.
type Tx interface {
	Reader

	InsertWorkflow(ctx context.Context, wf *models.Workflow) error
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	// DeactivateWorkflows clears the active flag on every workflow of the
	// given type except exceptID.
	DeactivateWorkflows(ctx context.Context, appType models.ApplicationType, exceptID string) error

	InsertStage(ctx context.Context, s *models.Stage) error
	UpdateStage(ctx context.Context, s *models.Stage) error
	DeleteStage(ctx context.Context, id string) error

	InsertTransition(ctx context.Context, t *models.Transition) error
	UpdateTransition(ctx context.Context, t *models.Transition) error
	DeleteTransition(ctx context.Context, id string) error
}

// Store is the persistence collaborator behind the graph repository.
type Store interface {
	Reader
	// WithinTx runs fn atomically. When fn returns an error, or the commit
	// fails, none of its writes are kept.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// HistoryStore persists application stage-change records.
type HistoryStore interface {
	AppendTransitionRecord(ctx context.Context, rec *models.TransitionRecord) error
	ListTransitionRecords(ctx context.Context, applicationID string) ([]*models.TransitionRecord, error)
}

// WorkflowRepository is the sole mutator of workflow graphs. Every mutation
// is all-or-nothing; reads return fully hydrated graphs.
type WorkflowRepository interface {
	CreateWorkflow(ctx context.Context, spec models.WorkflowSpec) (*models.WorkflowGraph, error)
	UpdateWorkflow(ctx context.Context, id string, spec models.WorkflowSpec) (*models.WorkflowGraph, error)
	DeleteWorkflow(ctx context.Context, id string) error
	DuplicateWorkflow(ctx context.Context, id, newName string) (*models.WorkflowGraph, error)
	SetActive(ctx context.Context, id string, active bool) (*models.WorkflowGraph, error)

	GetWorkflowByID(ctx context.Context, id string) (*models.WorkflowGraph, error)
	GetWorkflowsByType(ctx context.Context, appType models.ApplicationType) ([]*models.WorkflowGraph, error)
	GetAllWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowGraph, error)

	GetStage(ctx context.Context, id string) (*models.Stage, error)
	GetTransition(ctx context.Context, id string) (*models.Transition, error)
	GetTransitionsForStage(ctx context.Context, stageID string) ([]*models.Transition, error)
}
