package services

import (
	"context"
	"testing"

	"admissions-workflow/backend/internal/history"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T) (*repository.GraphRepository, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return repository.NewGraphRepository(store, logging.NewNop()), store
}

func twoStageSpec(withTransition bool) models.WorkflowSpec {
	spec := models.WorkflowSpec{
		Name:            "Undergraduate 2027",
		ApplicationType: models.ApplicationTypeUndergraduate,
		Stages: []models.StageSpec{
			{Ref: "s1", Name: "Submitted", Sequence: 1},
			{Ref: "s2", Name: "Review", Sequence: 2},
		},
	}
	if withTransition {
		spec.Transitions = []models.TransitionSpec{{Source: "s1", Target: "s2", Name: "Advance", IsAutomatic: true}}
	}
	return spec
}

func TestValidateWorkflow_MissingTransitions(t *testing.T) {
	repo, _ := newGraph(t)
	svc := NewWorkflowService(repo, logging.NewNop(), nil)
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, twoStageSpec(false))
	require.NoError(t, err)

	res, err := svc.ValidateWorkflow(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, models.CodeMissingTransitions, res.Errors[0].Code)

	_, err = svc.ValidateWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestActivateWorkflow(t *testing.T) {
	repo, _ := newGraph(t)
	svc := NewWorkflowService(repo, logging.NewNop(), nil)
	ctx := context.Background()

	broken, err := repo.CreateWorkflow(ctx, twoStageSpec(false))
	require.NoError(t, err)
	_, err = svc.ActivateWorkflow(ctx, broken.ID)
	var failed *models.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, models.ErrValidationFailed)
	assert.False(t, failed.Result.IsValid)

	good, err := repo.CreateWorkflow(ctx, twoStageSpec(true))
	require.NoError(t, err)
	activated, err := svc.ActivateWorkflow(ctx, good.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	active, err := svc.GetActiveWorkflow(ctx, models.ApplicationTypeUndergraduate)
	require.NoError(t, err)
	assert.Equal(t, good.ID, active.ID)

	_, err = svc.DeactivateWorkflow(ctx, good.ID)
	require.NoError(t, err)
	_, err = svc.GetActiveWorkflow(ctx, models.ApplicationTypeUndergraduate)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetEntryStage(t *testing.T) {
	repo, _ := newGraph(t)
	svc := NewWorkflowService(repo, nil, nil)
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, twoStageSpec(true))
	require.NoError(t, err)
	entry, err := svc.GetEntryStage(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Submitted", entry.Name)

	empty, err := repo.CreateWorkflow(ctx, models.WorkflowSpec{Name: "Empty", ApplicationType: models.ApplicationTypeGraduate})
	require.NoError(t, err)
	_, err = svc.GetEntryStage(ctx, empty.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// The engine over the real repository records history in the store.
func TestEngine_WithRepositoryAndStoreHistory(t *testing.T) {
	repo, store := newGraph(t)
	ctx := context.Background()
	g, err := repo.CreateWorkflow(ctx, twoStageSpec(true))
	require.NoError(t, err)
	s1, s2 := g.Stages[0].ID, g.Stages[1].ID

	recorder := history.NewStoreRecorder(store)
	engine := NewTransitionEngine(repo, recorder, logging.NewNop(), nil)

	ts, err := engine.GetTransitionsForStage(ctx, s1)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	for _, tr := range ts {
		assert.Equal(t, s1, tr.SourceStageID)
		assert.NotNil(t, g.StageByID(tr.TargetStageID))
	}

	res, err := engine.ExecuteAutomaticTransition(ctx, "app-7", s1, models.ApplicationData{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, s2, res.NewStageID)

	records, err := recorder.History(ctx, "app-7")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, g.ID, records[0].WorkflowID)
	assert.Equal(t, s1, records[0].FromStageID)
	assert.Equal(t, s2, records[0].ToStageID)

	_, err = engine.TransitionApplication(ctx, "app-7", s2, ts[0].ID, nil, "officer")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	records, err = recorder.History(ctx, "app-7")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
