package services

import (
	"context"
	"time"

	"admissions-workflow/backend/internal/condition"
	"admissions-workflow/backend/internal/history"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/telemetry"
	"admissions-workflow/backend/pkg/models"

	"github.com/google/uuid"
)

// TransitionEngine resolves which transitions apply to an application in a
// given stage and records the moves it makes. It never writes the
// application's current stage; that belongs to the caller, which must also
// serialize concurrent moves of the same application.
type TransitionEngine struct {
	graph    TransitionSource
	recorder history.Recorder
	logger   *logging.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	newID    func() string
}

// NewTransitionEngine creates a TransitionEngine. recorder and metrics may
// be nil.
func NewTransitionEngine(graph TransitionSource, recorder history.Recorder, logger *logging.Logger, metrics *telemetry.Metrics) *TransitionEngine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TransitionEngine{
		graph:    graph,
		recorder: recorder,
		logger:   logger.Named("engine"),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

// GetTransitionsForStage returns every transition leaving stageID, ordered
// by priority then id.
func (e *TransitionEngine) GetTransitionsForStage(ctx context.Context, stageID string) ([]*models.Transition, error) {
	return e.graph.GetTransitionsForStage(ctx, stageID)
}

// IsTransitionValid reports whether all conditions of the transition hold
// for data.
func (e *TransitionEngine) IsTransitionValid(ctx context.Context, transitionID string, data models.ApplicationData) (bool, error) {
	t, err := e.graph.GetTransition(ctx, transitionID)
	if err != nil {
		return false, err
	}
	return condition.EvaluateAll(t.Conditions, data), nil
}

// GetValidTransitionsForStage returns the transitions leaving stageID whose
// conditions hold for data, in retrieval order.
func (e *TransitionEngine) GetValidTransitionsForStage(ctx context.Context, stageID string, data models.ApplicationData) ([]*models.Transition, error) {
	ts, err := e.graph.GetTransitionsForStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	valid := make([]*models.Transition, 0, len(ts))
	for _, t := range ts {
		if condition.EvaluateAll(t.Conditions, data) {
			valid = append(valid, t)
		}
	}
	return valid, nil
}

// ExecuteAutomaticTransition takes the first automatic transition leaving
// currentStageID whose conditions hold. It returns nil when none qualifies,
// in which case the application stays where it is.
func (e *TransitionEngine) ExecuteAutomaticTransition(ctx context.Context, applicationID, currentStageID string, data models.ApplicationData) (*models.TransitionResult, error) {
	ts, err := e.graph.GetTransitionsForStage(ctx, currentStageID)
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		if !t.IsAutomatic || !condition.EvaluateAll(t.Conditions, data) {
			continue
		}
		e.record(ctx, applicationID, t, true, "")
		e.metrics.TransitionExecuted(ctx, "automatic")
		e.logger.Info("automatic transition executed",
			"application", applicationID, "transition", t.ID,
			"from", t.SourceStageID, "to", t.TargetStageID)
		return &models.TransitionResult{NewStageID: t.TargetStageID, TransitionID: t.ID}, nil
	}
	e.logger.Debug("no automatic transition applies", "application", applicationID, "stage", currentStageID)
	return nil, nil
}

// TransitionApplication performs a manual transition. The caller checks
// the transition's required permissions beforehand.
func (e *TransitionEngine) TransitionApplication(ctx context.Context, applicationID, currentStageID, transitionID string, data models.ApplicationData, actor string) (*models.TransitionResult, error) {
	t, err := e.graph.GetTransition(ctx, transitionID)
	if err != nil {
		return nil, err
	}
	if t.SourceStageID != currentStageID {
		return nil, &models.InvalidTransitionError{
			TransitionID:   t.ID,
			CurrentStageID: currentStageID,
			SourceStageID:  t.SourceStageID,
		}
	}
	if failed := condition.Failing(t.Conditions, data); len(failed) > 0 {
		e.metrics.ConditionNotMet(ctx)
		return nil, &models.ConditionNotMetError{TransitionID: t.ID, Failed: failed}
	}

	e.record(ctx, applicationID, t, false, actor)
	e.metrics.TransitionExecuted(ctx, "manual")
	e.logger.Info("manual transition executed",
		"application", applicationID, "transition", t.ID, "actor", actor,
		"from", t.SourceStageID, "to", t.TargetStageID)
	return &models.TransitionResult{NewStageID: t.TargetStageID, TransitionID: t.ID}, nil
}

// record appends a history entry. Failures are logged and counted only.
func (e *TransitionEngine) record(ctx context.Context, applicationID string, t *models.Transition, automatic bool, actor string) {
	if e.recorder == nil {
		return
	}
	rec := &models.TransitionRecord{
		ID:            e.newID(),
		ApplicationID: applicationID,
		WorkflowID:    t.WorkflowID,
		FromStageID:   t.SourceStageID,
		ToStageID:     t.TargetStageID,
		TransitionID:  t.ID,
		Automatic:     automatic,
		Actor:         actor,
		OccurredAt:    e.now(),
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.metrics.HistoryFailed(ctx)
		e.logger.Error("failed to record stage change",
			"application", applicationID, "transition", t.ID, "error", err)
	}
}
