package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/validator"
	"admissions-workflow/backend/pkg/models"

	"github.com/google/uuid"
)

var _ WorkflowRepository = (*GraphRepository)(nil)

// GraphRepository implements WorkflowRepository over any Store. Each
// mutation runs in a single Store transaction.
type GraphRepository struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewGraphRepository creates a GraphRepository.
func NewGraphRepository(store Store, logger *logging.Logger) *GraphRepository {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GraphRepository{
		store:  store,
		logger: logger.Named("repository"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// stagePlan and transitionPlan are spec entries with resolved ids.
type stagePlan struct {
	models.StageSpec
	id       string
	existing bool
}

type transitionPlan struct {
	models.TransitionSpec
	id             string
	source, target string
	existing       bool
}

type graphPlan struct {
	stages      []stagePlan
	transitions []transitionPlan
	entryStage  string
	// ids of existing rows absent from the spec
	deleteStages      []string
	deleteTransitions []string
}

// plan checks spec and resolves every stage and transition to an id. cur is
// the stored graph for an update and nil for a create.
func (r *GraphRepository) plan(spec models.WorkflowSpec, cur *models.WorkflowGraph) (*graphPlan, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, models.InvalidSpecf("name is required")
	}
	if !spec.ApplicationType.Valid() {
		return nil, models.InvalidSpecf("unknown application type %q", spec.ApplicationType)
	}

	existingStages := map[string]bool{}
	existingTransitions := map[string]bool{}
	if cur != nil {
		for _, s := range cur.Stages {
			existingStages[s.ID] = true
		}
		for _, t := range cur.Transitions {
			existingTransitions[t.ID] = true
		}
	}

	p := &graphPlan{}
	keys := map[string]string{}
	sequences := map[int]string{}
	kept := map[string]bool{}

	for i, s := range spec.Stages {
		if strings.TrimSpace(s.Name) == "" {
			return nil, models.InvalidSpecf("stage %d: name is required", i)
		}
		sp := stagePlan{StageSpec: s}
		if s.ID != "" {
			if !existingStages[s.ID] {
				return nil, models.InvalidSpecf("stage %q does not belong to this workflow", s.ID)
			}
			if kept[s.ID] {
				return nil, models.InvalidSpecf("stage %q appears more than once", s.ID)
			}
			sp.id, sp.existing = s.ID, true
			kept[s.ID] = true
		} else {
			sp.id = r.newID()
		}
		if other, dup := sequences[s.Sequence]; dup {
			return nil, models.InvalidSpecf("stages %q and %q share sequence %d", other, s.Name, s.Sequence)
		}
		sequences[s.Sequence] = s.Name

		for _, key := range []string{s.ID, s.Ref} {
			if key == "" {
				continue
			}
			if prev, taken := keys[key]; taken && prev != sp.id {
				return nil, models.InvalidSpecf("stage key %q is ambiguous", key)
			}
			keys[key] = sp.id
		}
		p.stages = append(p.stages, sp)
	}

	for id := range existingStages {
		if !kept[id] {
			p.deleteStages = append(p.deleteStages, id)
		}
	}
	removed := func(key string) bool { return existingStages[key] && !kept[key] }

	keptTransitions := map[string]bool{}
	for i, t := range spec.Transitions {
		tp := transitionPlan{TransitionSpec: t}
		if t.ID != "" {
			if !existingTransitions[t.ID] {
				return nil, models.InvalidSpecf("transition %q does not belong to this workflow", t.ID)
			}
			if keptTransitions[t.ID] {
				return nil, models.InvalidSpecf("transition %q appears more than once", t.ID)
			}
			tp.id, tp.existing = t.ID, true
		} else {
			tp.id = r.newID()
		}

		// A transition pointing at a stage removed by this update goes with it.
		if removed(t.Source) || removed(t.Target) {
			r.logger.Debug("dropping transition attached to removed stage",
				"transition", t.ID, "source", t.Source, "target", t.Target)
			continue
		}
		var ok bool
		if tp.source, ok = keys[t.Source]; !ok {
			return nil, models.InvalidSpecf("transition %d: unknown source stage %q", i, t.Source)
		}
		if tp.target, ok = keys[t.Target]; !ok {
			return nil, models.InvalidSpecf("transition %d: unknown target stage %q", i, t.Target)
		}
		for _, c := range t.Conditions {
			if !c.Operator.Valid() {
				return nil, models.InvalidSpecf("transition %d: unknown operator %q", i, c.Operator)
			}
			if strings.TrimSpace(c.Field) == "" {
				return nil, models.InvalidSpecf("transition %d: condition field is required", i)
			}
		}
		if tp.existing {
			keptTransitions[tp.id] = true
		}
		p.transitions = append(p.transitions, tp)
	}

	for id := range existingTransitions {
		if !keptTransitions[id] {
			p.deleteTransitions = append(p.deleteTransitions, id)
		}
	}

	if spec.EntryStage != "" {
		id, ok := keys[spec.EntryStage]
		if !ok {
			return nil, models.InvalidSpecf("entry stage %q is not a stage of this workflow", spec.EntryStage)
		}
		p.entryStage = id
	}
	return p, nil
}

func (p stagePlan) stage(workflowID string, now time.Time) *models.Stage {
	return &models.Stage{
		ID:                   p.id,
		WorkflowID:           workflowID,
		Name:                 p.Name,
		Description:          p.Description,
		Sequence:             p.Sequence,
		RequiredDocuments:    nonNil(p.RequiredDocuments),
		RequiredActions:      nonNil(p.RequiredActions),
		NotificationTriggers: nonNil(p.NotificationTriggers),
		AssignedRole:         p.AssignedRole,
		Position:             p.Position,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (p transitionPlan) transition(workflowID string, now time.Time) *models.Transition {
	return &models.Transition{
		ID:                  p.id,
		WorkflowID:          workflowID,
		SourceStageID:       p.source,
		TargetStageID:       p.target,
		Name:                p.Name,
		Description:         p.Description,
		Conditions:          nonNil(p.Conditions),
		RequiredPermissions: nonNil(p.RequiredPermissions),
		IsAutomatic:         p.IsAutomatic,
		Priority:            p.Priority,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// CreateWorkflow inserts the workflow, then its stages, then its
// transitions. Stage and transition ids in spec are rejected.
func (r *GraphRepository) CreateWorkflow(ctx context.Context, spec models.WorkflowSpec) (*models.WorkflowGraph, error) {
	p, err := r.plan(spec, nil)
	if err != nil {
		return nil, err
	}

	now := r.now()
	wf := &models.Workflow{
		ID:              r.newID(),
		Name:            spec.Name,
		Description:     spec.Description,
		ApplicationType: spec.ApplicationType,
		IsActive:        spec.IsActive != nil && *spec.IsActive,
		EntryStageID:    p.entryStage,
		CreatedBy:       spec.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = r.store.WithinTx(ctx, func(tx Tx) error {
		if wf.IsActive {
			if err := tx.DeactivateWorkflows(ctx, wf.ApplicationType, wf.ID); err != nil {
				return fmt.Errorf("deactivate workflows: %w", err)
			}
		}
		if err := tx.InsertWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for _, s := range p.stages {
			if err := tx.InsertStage(ctx, s.stage(wf.ID, now)); err != nil {
				return fmt.Errorf("insert stage %q: %w", s.Name, err)
			}
		}
		for _, t := range p.transitions {
			if err := tx.InsertTransition(ctx, t.transition(wf.ID, now)); err != nil {
				return fmt.Errorf("insert transition %q: %w", t.Name, err)
			}
		}
		if wf.IsActive {
			return checkActivatable(ctx, tx, wf.ID)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewPersistenceError("create workflow", err)
	}

	r.logger.Info("workflow created", "id", wf.ID, "name", wf.Name,
		"stages", len(p.stages), "transitions", len(p.transitions))
	return r.GetWorkflowByID(ctx, wf.ID)
}

// UpdateWorkflow applies spec as a diff against the stored graph.
func (r *GraphRepository) UpdateWorkflow(ctx context.Context, id string, spec models.WorkflowSpec) (*models.WorkflowGraph, error) {
	var p *graphPlan
	err := r.store.WithinTx(ctx, func(tx Tx) error {
		cur, err := loadGraph(ctx, tx, id)
		if err != nil {
			return err
		}
		if p, err = r.plan(spec, cur); err != nil {
			return err
		}

		now := r.now()
		// Transitions first so no edge ever points at a deleted stage.
		for _, tid := range p.deleteTransitions {
			if err := tx.DeleteTransition(ctx, tid); err != nil {
				return fmt.Errorf("delete transition %s: %w", tid, err)
			}
		}
		for _, sid := range p.deleteStages {
			if err := tx.DeleteStage(ctx, sid); err != nil {
				return fmt.Errorf("delete stage %s: %w", sid, err)
			}
		}
		for _, s := range p.stages {
			st := s.stage(id, now)
			if s.existing {
				err = tx.UpdateStage(ctx, st)
			} else {
				err = tx.InsertStage(ctx, st)
			}
			if err != nil {
				return fmt.Errorf("write stage %q: %w", s.Name, err)
			}
		}
		for _, t := range p.transitions {
			tr := t.transition(id, now)
			if t.existing {
				err = tx.UpdateTransition(ctx, tr)
			} else {
				err = tx.InsertTransition(ctx, tr)
			}
			if err != nil {
				return fmt.Errorf("write transition %q: %w", t.Name, err)
			}
		}

		wf := cur.Workflow
		wf.Name = spec.Name
		wf.Description = spec.Description
		wf.ApplicationType = spec.ApplicationType
		if spec.IsActive != nil {
			wf.IsActive = *spec.IsActive
		}
		wf.EntryStageID = p.entryStage
		wf.UpdatedAt = now
		if wf.IsActive {
			if err := tx.DeactivateWorkflows(ctx, wf.ApplicationType, id); err != nil {
				return fmt.Errorf("deactivate workflows: %w", err)
			}
		}
		if err := tx.UpdateWorkflow(ctx, &wf); err != nil {
			return fmt.Errorf("update workflow: %w", err)
		}
		if wf.IsActive {
			return checkActivatable(ctx, tx, id)
		}
		return nil
	})
	if err != nil {
		return nil, models.NewPersistenceError("update workflow", err)
	}

	r.logger.Info("workflow updated", "id", id,
		"stages_deleted", len(p.deleteStages), "transitions_deleted", len(p.deleteTransitions))
	return r.GetWorkflowByID(ctx, id)
}

// DeleteWorkflow removes the workflow's transitions, then its stages, then
// the workflow itself.
func (r *GraphRepository) DeleteWorkflow(ctx context.Context, id string) error {
	err := r.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetWorkflow(ctx, id); err != nil {
			return err
		}
		transitions, err := tx.ListTransitions(ctx, id)
		if err != nil {
			return fmt.Errorf("list transitions: %w", err)
		}
		for _, t := range transitions {
			if err := tx.DeleteTransition(ctx, t.ID); err != nil {
				return fmt.Errorf("delete transition %s: %w", t.ID, err)
			}
		}
		stages, err := tx.ListStages(ctx, id)
		if err != nil {
			return fmt.Errorf("list stages: %w", err)
		}
		for _, s := range stages {
			if err := tx.DeleteStage(ctx, s.ID); err != nil {
				return fmt.Errorf("delete stage %s: %w", s.ID, err)
			}
		}
		return tx.DeleteWorkflow(ctx, id)
	})
	if err != nil {
		return models.NewPersistenceError("delete workflow", err)
	}
	r.logger.Info("workflow deleted", "id", id)
	return nil
}

// DuplicateWorkflow deep-copies a workflow under new ids. The copy is
// always inactive. Transitions whose endpoints are not stages of the
// source workflow are skipped.
func (r *GraphRepository) DuplicateWorkflow(ctx context.Context, id, newName string) (*models.WorkflowGraph, error) {
	newID := r.newID()
	err := r.store.WithinTx(ctx, func(tx Tx) error {
		src, err := loadGraph(ctx, tx, id)
		if err != nil {
			return err
		}

		now := r.now()
		name := strings.TrimSpace(newName)
		if name == "" {
			name = src.Name + " (copy)"
		}
		wf := src.Workflow
		wf.ID = newID
		wf.Name = name
		wf.IsActive = false
		wf.EntryStageID = ""
		wf.CreatedAt = now
		wf.UpdatedAt = now

		remap := make(map[string]string, len(src.Stages))
		stages := make([]*models.Stage, 0, len(src.Stages))
		for _, s := range src.Stages {
			cp := copyStage(*s)
			cp.ID = r.newID()
			cp.WorkflowID = newID
			cp.CreatedAt = now
			cp.UpdatedAt = now
			remap[s.ID] = cp.ID
			stages = append(stages, cp)
		}
		if src.EntryStageID != "" {
			wf.EntryStageID = remap[src.EntryStageID]
		}

		if err := tx.InsertWorkflow(ctx, &wf); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for _, s := range stages {
			if err := tx.InsertStage(ctx, s); err != nil {
				return fmt.Errorf("insert stage %q: %w", s.Name, err)
			}
		}
		for _, t := range src.Transitions {
			source, okSource := remap[t.SourceStageID]
			target, okTarget := remap[t.TargetStageID]
			if !okSource || !okTarget {
				r.logger.Warn("skipping dangling transition while duplicating",
					"workflow", id, "transition", t.ID,
					"source", t.SourceStageID, "target", t.TargetStageID)
				continue
			}
			cp := copyTransition(*t)
			cp.ID = r.newID()
			cp.WorkflowID = newID
			cp.SourceStageID = source
			cp.TargetStageID = target
			cp.CreatedAt = now
			cp.UpdatedAt = now
			if err := tx.InsertTransition(ctx, cp); err != nil {
				return fmt.Errorf("insert transition %q: %w", cp.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, models.NewPersistenceError("duplicate workflow", err)
	}

	r.logger.Info("workflow duplicated", "source", id, "id", newID)
	return r.GetWorkflowByID(ctx, newID)
}

// SetActive flips the active flag. Activating a workflow deactivates every
// other workflow of the same application type in the same transaction.
func (r *GraphRepository) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowGraph, error) {
	err := r.store.WithinTx(ctx, func(tx Tx) error {
		wf, err := tx.GetWorkflow(ctx, id)
		if err != nil {
			return err
		}
		if active {
			if err := tx.DeactivateWorkflows(ctx, wf.ApplicationType, id); err != nil {
				return fmt.Errorf("deactivate workflows: %w", err)
			}
		}
		wf.IsActive = active
		wf.UpdatedAt = r.now()
		return tx.UpdateWorkflow(ctx, wf)
	})
	if err != nil {
		return nil, models.NewPersistenceError("set workflow active", err)
	}
	r.logger.Info("workflow activation changed", "id", id, "active", active)
	return r.GetWorkflowByID(ctx, id)
}

// GetWorkflowByID returns the hydrated graph.
func (r *GraphRepository) GetWorkflowByID(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	g, err := loadGraph(ctx, r.store, id)
	if err != nil {
		return nil, models.NewPersistenceError("get workflow", err)
	}
	return g, nil
}

// GetWorkflowsByType returns every workflow of the given type.
func (r *GraphRepository) GetWorkflowsByType(ctx context.Context, appType models.ApplicationType) ([]*models.WorkflowGraph, error) {
	if !appType.Valid() {
		return nil, models.InvalidSpecf("unknown application type %q", appType)
	}
	return r.GetAllWorkflows(ctx, models.WorkflowFilter{ApplicationType: appType})
}

// GetAllWorkflows returns the hydrated graphs matching filter.
func (r *GraphRepository) GetAllWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.WorkflowGraph, error) {
	headers, err := r.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, models.NewPersistenceError("list workflows", err)
	}
	graphs := make([]*models.WorkflowGraph, 0, len(headers))
	for _, wf := range headers {
		g, err := hydrate(ctx, r.store, wf)
		if err != nil {
			return nil, models.NewPersistenceError("list workflows", err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// GetStage returns a single stage.
func (r *GraphRepository) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	s, err := r.store.GetStage(ctx, id)
	if err != nil {
		return nil, models.NewPersistenceError("get stage", err)
	}
	return s, nil
}

// GetTransition returns a transition with its endpoint summaries attached.
func (r *GraphRepository) GetTransition(ctx context.Context, id string) (*models.Transition, error) {
	t, err := r.store.GetTransition(ctx, id)
	if err != nil {
		return nil, models.NewPersistenceError("get transition", err)
	}
	if err := r.attachRefs(ctx, []*models.Transition{t}); err != nil {
		return nil, models.NewPersistenceError("get transition", err)
	}
	return t, nil
}

// GetTransitionsForStage returns the transitions leaving stageID ordered by
// priority then id. An unknown stage is a NotFoundError.
func (r *GraphRepository) GetTransitionsForStage(ctx context.Context, stageID string) ([]*models.Transition, error) {
	if _, err := r.store.GetStage(ctx, stageID); err != nil {
		return nil, models.NewPersistenceError("get stage transitions", err)
	}
	ts, err := r.store.ListTransitionsFromStage(ctx, stageID)
	if err != nil {
		return nil, models.NewPersistenceError("get stage transitions", err)
	}
	if err := r.attachRefs(ctx, ts); err != nil {
		return nil, models.NewPersistenceError("get stage transitions", err)
	}
	return ts, nil
}

func (r *GraphRepository) attachRefs(ctx context.Context, ts []*models.Transition) error {
	seen := map[string]*models.StageRef{}
	ref := func(id string) (*models.StageRef, error) {
		if sr, ok := seen[id]; ok {
			return sr, nil
		}
		s, err := r.store.GetStage(ctx, id)
		if err != nil {
			return nil, err
		}
		sr := &models.StageRef{ID: s.ID, Name: s.Name, Sequence: s.Sequence}
		seen[id] = sr
		return sr, nil
	}
	for _, t := range ts {
		var err error
		if t.SourceStage, err = ref(t.SourceStageID); err != nil {
			return err
		}
		if t.TargetStage, err = ref(t.TargetStageID); err != nil {
			return err
		}
	}
	return nil
}

// checkActivatable validates the graph as written so far in tx.
func checkActivatable(ctx context.Context, tx Reader, id string) error {
	g, err := loadGraph(ctx, tx, id)
	if err != nil {
		return err
	}
	if res := validator.Validate(g); !res.IsValid {
		return &models.ValidationFailedError{Result: res}
	}
	return nil
}

func loadGraph(ctx context.Context, r Reader, id string) (*models.WorkflowGraph, error) {
	wf, err := r.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return hydrate(ctx, r, wf)
}

// hydrate loads the stages and transitions of wf. Transitions get summaries
// of the stages they connect when those stages are in the workflow.
func hydrate(ctx context.Context, r Reader, wf *models.Workflow) (*models.WorkflowGraph, error) {
	stages, err := r.ListStages(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	transitions, err := r.ListTransitions(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}

	refs := make(map[string]*models.StageRef, len(stages))
	for _, s := range stages {
		refs[s.ID] = &models.StageRef{ID: s.ID, Name: s.Name, Sequence: s.Sequence}
	}
	for _, t := range transitions {
		t.SourceStage = refs[t.SourceStageID]
		t.TargetStage = refs[t.TargetStageID]
	}

	if stages == nil {
		stages = []*models.Stage{}
	}
	if transitions == nil {
		transitions = []*models.Transition{}
	}
	return &models.WorkflowGraph{Workflow: *wf, Stages: stages, Transitions: transitions}, nil
}
