package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo() (*GraphRepository, *MemoryStore) {
	store := NewMemoryStore()
	return NewGraphRepository(store, logging.NewNop()), store
}

func boolPtr(b bool) *bool { return &b }

func linearSpec(name string) models.WorkflowSpec {
	return models.WorkflowSpec{
		Name:            name,
		ApplicationType: models.ApplicationTypeUndergraduate,
		CreatedBy:       "registrar",
		Stages: []models.StageSpec{
			{Ref: "submitted", Name: "Submitted", Sequence: 1, RequiredDocuments: []string{"transcript"}},
			{Ref: "review", Name: "Review", Sequence: 2, AssignedRole: "reviewer"},
			{Ref: "decision", Name: "Decision", Sequence: 3},
		},
		Transitions: []models.TransitionSpec{
			{
				Source: "submitted", Target: "review", Name: "Start review",
				Conditions: []models.Condition{
					{Field: "documents_verified", Operator: models.OpEquals, Value: models.BoolValue(true)},
				},
				RequiredPermissions: []string{"workflow.review"},
			},
			{Source: "review", Target: "decision", Name: "Decide", IsAutomatic: true, Priority: 1},
		},
	}
}

func TestCreateWorkflow_Hydrated(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)

	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "Fall intake", g.Name)
	assert.False(t, g.IsActive)
	require.Len(t, g.Stages, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{g.Stages[0].Sequence, g.Stages[1].Sequence, g.Stages[2].Sequence})
	for _, s := range g.Stages {
		assert.Equal(t, g.ID, s.WorkflowID)
	}

	require.Len(t, g.Transitions, 2)
	for _, tr := range g.Transitions {
		require.NotNil(t, tr.SourceStage)
		require.NotNil(t, tr.TargetStage)
		assert.Equal(t, tr.SourceStageID, tr.SourceStage.ID)
		assert.Equal(t, g.ID, tr.WorkflowID)
	}
	start := g.StageByID(g.Transitions[0].SourceStageID)
	require.NotNil(t, start)
}

func TestCreateWorkflow_RejectsInvalidSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.WorkflowSpec)
	}{
		{"missing name", func(s *models.WorkflowSpec) { s.Name = " " }},
		{"bad type", func(s *models.WorkflowSpec) { s.ApplicationType = "doctoral" }},
		{"duplicate sequence", func(s *models.WorkflowSpec) { s.Stages[1].Sequence = 1 }},
		{"unknown source", func(s *models.WorkflowSpec) { s.Transitions[0].Source = "nowhere" }},
		{"stage id on create", func(s *models.WorkflowSpec) { s.Stages[0].ID = "stage-1" }},
		{"transition id on create", func(s *models.WorkflowSpec) { s.Transitions[0].ID = "tr-1" }},
		{"unknown operator", func(s *models.WorkflowSpec) { s.Transitions[0].Conditions[0].Operator = "matches" }},
		{"unknown entry stage", func(s *models.WorkflowSpec) { s.EntryStage = "nowhere" }},
		{"ambiguous ref", func(s *models.WorkflowSpec) { s.Stages[1].Ref = "submitted" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, store := newTestRepo()
			spec := linearSpec("Broken")
			tt.mutate(&spec)

			_, err := repo.CreateWorkflow(context.Background(), spec)
			assert.ErrorIs(t, err, models.ErrInvalidSpec)

			all, err := store.ListWorkflows(context.Background(), models.WorkflowFilter{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestCreateWorkflow_ExplicitEntryStage(t *testing.T) {
	repo, _ := newTestRepo()
	spec := linearSpec("Transfer")
	spec.EntryStage = "review"

	g, err := repo.CreateWorkflow(context.Background(), spec)
	require.NoError(t, err)
	entry := g.EntryStage()
	require.NotNil(t, entry)
	assert.Equal(t, "Review", entry.Name)
}

func TestCreateWorkflow_RollsBackOnStoreFailure(t *testing.T) {
	repo, store := newTestRepo()
	ctx := context.Background()
	boom := errors.New("disk full")
	store.FailOn("InsertTransition", boom)

	_, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.ErrorIs(t, err, boom)

	all, err := store.ListWorkflows(ctx, models.WorkflowFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

// Removing a stage from the spec deletes it and every transition touching it.
func TestUpdateWorkflow_RemovedStageCascades(t *testing.T) {
	repo, store := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)
	review := g.Stages[1]

	spec := models.SpecFromGraph(g)
	spec.Stages = []models.StageSpec{spec.Stages[0], spec.Stages[2]}

	updated, err := repo.UpdateWorkflow(ctx, g.ID, spec)
	require.NoError(t, err)

	require.Len(t, updated.Stages, 2)
	assert.Nil(t, updated.StageByID(review.ID))
	assert.Empty(t, updated.Transitions)

	_, err = store.GetStage(ctx, review.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	refetched, err := repo.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Stages, refetched.Stages)
}

func TestUpdateWorkflow_DiffUpsert(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)
	decision := g.Stages[2]
	firstTransition := g.Transitions[0]

	spec := models.SpecFromGraph(g)
	spec.Description = "revised"
	spec.Stages[0].Name = "Received"
	spec.Stages = append(spec.Stages, models.StageSpec{Ref: "waitlist", Name: "Waitlist", Sequence: 4})
	spec.Transitions = append(spec.Transitions, models.TransitionSpec{
		Source: decision.ID, Target: "waitlist", Name: "Waitlist", Priority: 5,
	})

	updated, err := repo.UpdateWorkflow(ctx, g.ID, spec)
	require.NoError(t, err)

	assert.Equal(t, "revised", updated.Description)
	assert.Equal(t, g.CreatedAt, updated.CreatedAt)
	require.Len(t, updated.Stages, 4)
	assert.Equal(t, "Received", updated.Stages[0].Name)
	assert.Equal(t, g.Stages[0].ID, updated.Stages[0].ID)
	assert.Equal(t, "Waitlist", updated.Stages[3].Name)

	require.Len(t, updated.Transitions, 3)
	assert.NotNil(t, updated.StageByID(updated.Transitions[2].TargetStageID))

	kept, err := repo.GetTransition(ctx, firstTransition.ID)
	require.NoError(t, err)
	assert.Equal(t, firstTransition.Conditions, kept.Conditions)
}

func TestUpdateWorkflow_RejectsForeignIDs(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	a, err := repo.CreateWorkflow(ctx, linearSpec("A"))
	require.NoError(t, err)
	b, err := repo.CreateWorkflow(ctx, linearSpec("B"))
	require.NoError(t, err)

	spec := models.SpecFromGraph(a)
	spec.Stages[0].ID = b.Stages[0].ID
	_, err = repo.UpdateWorkflow(ctx, a.ID, spec)
	assert.ErrorIs(t, err, models.ErrInvalidSpec)

	spec = models.SpecFromGraph(a)
	spec.Transitions[0].Target = b.Stages[1].ID
	_, err = repo.UpdateWorkflow(ctx, a.ID, spec)
	assert.ErrorIs(t, err, models.ErrInvalidSpec)

	_, err = repo.UpdateWorkflow(ctx, "missing", spec)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateWorkflow_RollsBackOnStoreFailure(t *testing.T) {
	repo, store := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)

	spec := models.SpecFromGraph(g)
	spec.Stages = spec.Stages[:1]
	spec.Name = "Renamed"
	store.FailOn("UpdateWorkflow", errors.New("connection reset"))

	_, err = repo.UpdateWorkflow(ctx, g.ID, spec)
	assert.ErrorIs(t, err, models.ErrPersistence)

	store.FailOn("UpdateWorkflow", nil)
	after, err := repo.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fall intake", after.Name)
	assert.Len(t, after.Stages, 3)
	assert.Len(t, after.Transitions, 2)
}

func TestDeleteWorkflow_Cascades(t *testing.T) {
	repo, store := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteWorkflow(ctx, g.ID))

	_, err = repo.GetWorkflowByID(ctx, g.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	for _, s := range g.Stages {
		_, err := store.GetStage(ctx, s.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
	for _, tr := range g.Transitions {
		_, err := store.GetTransition(ctx, tr.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}

	err = repo.DeleteWorkflow(ctx, g.ID)
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, models.EntityWorkflow, nf.Entity)
}

func TestDuplicateWorkflow_IndependentInactiveCopy(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	spec := linearSpec("Fall intake")
	spec.IsActive = boolPtr(true)
	spec.EntryStage = "submitted"
	src, err := repo.CreateWorkflow(ctx, spec)
	require.NoError(t, err)
	require.True(t, src.IsActive)

	dup, err := repo.DuplicateWorkflow(ctx, src.ID, "Spring intake")
	require.NoError(t, err)

	assert.Equal(t, "Spring intake", dup.Name)
	assert.False(t, dup.IsActive)
	assert.NotEqual(t, src.ID, dup.ID)
	require.Len(t, dup.Stages, len(src.Stages))
	require.Len(t, dup.Transitions, len(src.Transitions))

	srcIDs := map[string]bool{src.ID: true}
	for _, s := range src.Stages {
		srcIDs[s.ID] = true
	}
	for _, tr := range src.Transitions {
		srcIDs[tr.ID] = true
	}
	for i, s := range dup.Stages {
		assert.False(t, srcIDs[s.ID])
		assert.Equal(t, src.Stages[i].Name, s.Name)
		assert.Equal(t, src.Stages[i].RequiredDocuments, s.RequiredDocuments)
	}
	for i, tr := range dup.Transitions {
		assert.False(t, srcIDs[tr.ID])
		assert.Equal(t, src.Transitions[i].Conditions, tr.Conditions)
		assert.NotNil(t, dup.StageByID(tr.SourceStageID))
		assert.NotNil(t, dup.StageByID(tr.TargetStageID))
	}
	require.NotNil(t, dup.EntryStage())
	assert.Equal(t, "Submitted", dup.EntryStage().Name)

	// the source is untouched
	again, err := repo.GetWorkflowByID(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActive)
}

func TestDuplicateWorkflow_SkipsDanglingTransitions(t *testing.T) {
	repo, store := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Legacy"))
	require.NoError(t, err)

	// The memory store does not enforce foreign keys, which lets the test
	// plant an inconsistent edge.
	now := time.Now()
	require.NoError(t, store.WithinTx(ctx, func(tx Tx) error {
		return tx.InsertTransition(ctx, &models.Transition{
			ID: "dangling", WorkflowID: g.ID, SourceStageID: g.Stages[0].ID, TargetStageID: "gone",
			CreatedAt: now, UpdatedAt: now,
		})
	}))

	dup, err := repo.DuplicateWorkflow(ctx, g.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Legacy (copy)", dup.Name)
	assert.Len(t, dup.Transitions, 2)
}

func TestSetActive_OneActivePerType(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	a, err := repo.CreateWorkflow(ctx, linearSpec("A"))
	require.NoError(t, err)
	b, err := repo.CreateWorkflow(ctx, linearSpec("B"))
	require.NoError(t, err)
	gradSpec := linearSpec("Grad")
	gradSpec.ApplicationType = models.ApplicationTypeGraduate
	gradSpec.IsActive = boolPtr(true)
	grad, err := repo.CreateWorkflow(ctx, gradSpec)
	require.NoError(t, err)

	_, err = repo.SetActive(ctx, a.ID, true)
	require.NoError(t, err)
	_, err = repo.SetActive(ctx, b.ID, true)
	require.NoError(t, err)

	active := true
	undergrad, err := repo.GetAllWorkflows(ctx, models.WorkflowFilter{
		ApplicationType: models.ApplicationTypeUndergraduate, Active: &active,
	})
	require.NoError(t, err)
	require.Len(t, undergrad, 1)
	assert.Equal(t, b.ID, undergrad[0].ID)

	graduate, err := repo.GetWorkflowByID(ctx, grad.ID)
	require.NoError(t, err)
	assert.True(t, graduate.IsActive)

	off, err := repo.SetActive(ctx, b.ID, false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	_, err = repo.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateWorkflow_ActiveRequiresValidGraph(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	live := linearSpec("Live")
	live.IsActive = boolPtr(true)
	current, err := repo.CreateWorkflow(ctx, live)
	require.NoError(t, err)
	require.True(t, current.IsActive)

	broken := models.WorkflowSpec{
		Name:            "Broken",
		ApplicationType: models.ApplicationTypeUndergraduate,
		IsActive:        boolPtr(true),
		Stages: []models.StageSpec{
			{Ref: "submitted", Name: "Submitted", Sequence: 1},
			{Ref: "decision", Name: "Decision", Sequence: 2},
		},
	}
	_, err = repo.CreateWorkflow(ctx, broken)
	var failed *models.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	assert.False(t, failed.Result.IsValid)

	// nothing was written and the live workflow kept its flag
	all, err := repo.GetAllWorkflows(ctx, models.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, current.ID, all[0].ID)
	assert.True(t, all[0].IsActive)
}

func TestUpdateWorkflow_ActiveFlag(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)
	g, err = repo.SetActive(ctx, g.ID, true)
	require.NoError(t, err)

	// omitting is_active keeps the stored flag
	spec := models.SpecFromGraph(g)
	spec.IsActive = nil
	spec.Name = "Fall intake 2027"
	renamed, err := repo.UpdateWorkflow(ctx, g.ID, spec)
	require.NoError(t, err)
	assert.True(t, renamed.IsActive)
	assert.Equal(t, "Fall intake 2027", renamed.Name)

	// an active workflow cannot be edited into an invalid shape
	spec = models.SpecFromGraph(renamed)
	spec.Name = "Stripped"
	spec.Transitions = nil
	_, err = repo.UpdateWorkflow(ctx, g.ID, spec)
	assert.ErrorIs(t, err, models.ErrValidationFailed)
	again, err := repo.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fall intake 2027", again.Name)
	assert.Len(t, again.Transitions, 2)

	// the same edit goes through once the workflow is deactivated
	spec.IsActive = boolPtr(false)
	off, err := repo.UpdateWorkflow(ctx, g.ID, spec)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.Empty(t, off.Transitions)
}

func TestGetWorkflowsByType(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	_, err := repo.CreateWorkflow(ctx, linearSpec("Undergrad"))
	require.NoError(t, err)
	transfer := linearSpec("Transfer")
	transfer.ApplicationType = models.ApplicationTypeTransfer
	_, err = repo.CreateWorkflow(ctx, transfer)
	require.NoError(t, err)

	got, err := repo.GetWorkflowsByType(ctx, models.ApplicationTypeTransfer)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Transfer", got[0].Name)
	assert.Len(t, got[0].Stages, 3)

	_, err = repo.GetWorkflowsByType(ctx, "doctoral")
	assert.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestGetTransitionsForStage_Ordering(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	spec := linearSpec("Branches")
	spec.Transitions = []models.TransitionSpec{
		{Source: "submitted", Target: "decision", Name: "fast track", Priority: 10},
		{Source: "submitted", Target: "review", Name: "review", Priority: 1},
		{Source: "review", Target: "decision", Name: "decide"},
	}
	g, err := repo.CreateWorkflow(ctx, spec)
	require.NoError(t, err)

	ts, err := repo.GetTransitionsForStage(ctx, g.Stages[0].ID)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "review", ts[0].Name)
	assert.Equal(t, "fast track", ts[1].Name)
	for _, tr := range ts {
		assert.Equal(t, g.Stages[0].ID, tr.SourceStageID)
		require.NotNil(t, tr.TargetStage)
		assert.NotNil(t, g.StageByID(tr.TargetStage.ID))
	}

	_, err = repo.GetTransitionsForStage(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedGraphRepository(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	assert.Same(t, repo, NewCachedGraphRepository(repo, 0))

	cached := NewCachedGraphRepository(repo, time.Minute)
	g, err := cached.CreateWorkflow(ctx, linearSpec("Fall intake"))
	require.NoError(t, err)

	first, err := cached.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)

	// A write that bypasses the cache is not seen until the next mutation
	// through the cache.
	spec := models.SpecFromGraph(g)
	spec.Name = "Renamed"
	_, err = repo.UpdateWorkflow(ctx, g.ID, spec)
	require.NoError(t, err)

	stale, err := cached.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Same(t, first, stale)

	_, err = cached.SetActive(ctx, g.ID, true)
	require.NoError(t, err)
	fresh, err := cached.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", fresh.Name)
	assert.True(t, fresh.IsActive)
}

// pausingRepo holds the first GetWorkflowByID after it has loaded, so a
// mutation can land while the read is in flight.
type pausingRepo struct {
	WorkflowRepository
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingRepo) GetWorkflowByID(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	g, err := p.WorkflowRepository.GetWorkflowByID(ctx, id)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return g, err
}

func TestCachedGraphRepository_ReadOverlappingWriteIsNotCached(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	g, err := repo.CreateWorkflow(ctx, linearSpec("A"))
	require.NoError(t, err)

	slow := &pausingRepo{WorkflowRepository: repo, loaded: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedGraphRepository(slow, time.Minute)

	done := make(chan *models.WorkflowGraph)
	go func() {
		old, err := cached.GetWorkflowByID(ctx, g.ID)
		assert.NoError(t, err)
		done <- old
	}()

	<-slow.loaded
	spec := models.SpecFromGraph(g)
	spec.Name = "B"
	_, err = cached.UpdateWorkflow(ctx, g.ID, spec)
	require.NoError(t, err)
	close(slow.release)

	old := <-done
	assert.Equal(t, "A", old.Name)

	fresh, err := cached.GetWorkflowByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", fresh.Name)
}
