package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"admissions-workflow/backend/pkg/models"
)

var (
	_ Store        = (*MemoryStore)(nil)
	_ HistoryStore = (*MemoryStore)(nil)
)

// MemoryStore keeps the graph in process. Transactions run on a private
// copy of the state that replaces the live state only when fn succeeds.
// It backs the "memory" storage driver and the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	state   *memState
	history []*models.TransitionRecord
	// failures maps an operation name ("InsertStage", ...) to the error
	// that operation returns, for exercising rollback.
	failures map[string]error
}

type memState struct {
	workflows   map[string]models.Workflow
	stages      map[string]models.Stage
	transitions map[string]models.Transition
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			workflows:   map[string]models.Workflow{},
			stages:      map[string]models.Stage{},
			transitions: map[string]models.Transition{},
		},
		failures: map[string]error{},
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// WithinTx runs fn against a copy of the state and commits it on success.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: m.state.clone(), failures: m.failures}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) reader() (*memTx, func()) {
	m.mu.RLock()
	return &memTx{state: m.state, failures: m.failures}, m.mu.RUnlock
}

func (m *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	r, done := m.reader()
	defer done()
	return r.GetWorkflow(ctx, id)
}

func (m *MemoryStore) ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error) {
	r, done := m.reader()
	defer done()
	return r.ListWorkflows(ctx, filter)
}

func (m *MemoryStore) ListStages(ctx context.Context, workflowID string) ([]*models.Stage, error) {
	r, done := m.reader()
	defer done()
	return r.ListStages(ctx, workflowID)
}

func (m *MemoryStore) ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error) {
	r, done := m.reader()
	defer done()
	return r.ListTransitions(ctx, workflowID)
}

func (m *MemoryStore) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	r, done := m.reader()
	defer done()
	return r.GetStage(ctx, id)
}

func (m *MemoryStore) GetTransition(ctx context.Context, id string) (*models.Transition, error) {
	r, done := m.reader()
	defer done()
	return r.GetTransition(ctx, id)
}

func (m *MemoryStore) ListTransitionsFromStage(ctx context.Context, stageID string) ([]*models.Transition, error) {
	r, done := m.reader()
	defer done()
	return r.ListTransitionsFromStage(ctx, stageID)
}

// AppendTransitionRecord stores one history record.
func (m *MemoryStore) AppendTransitionRecord(ctx context.Context, rec *models.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["AppendTransitionRecord"]; err != nil {
		return err
	}
	cp := *rec
	m.history = append(m.history, &cp)
	return nil
}

// ListTransitionRecords returns an application's history, oldest first.
func (m *MemoryStore) ListTransitionRecords(ctx context.Context, applicationID string) ([]*models.TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TransitionRecord
	for _, r := range m.history {
		if r.ApplicationID == applicationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memState) clone() *memState {
	c := &memState{
		workflows:   make(map[string]models.Workflow, len(s.workflows)),
		stages:      make(map[string]models.Stage, len(s.stages)),
		transitions: make(map[string]models.Transition, len(s.transitions)),
	}
	for k, v := range s.workflows {
		c.workflows[k] = v
	}
	for k, v := range s.stages {
		c.stages[k] = v
	}
	for k, v := range s.transitions {
		c.transitions[k] = v
	}
	return c
}

// memTx implements Tx over a memState. Values are copied on the way in and
// out so callers never alias stored slices.
type memTx struct {
	state    *memState
	failures map[string]error
}

func (t *memTx) fail(op string) error {
	return t.failures[op]
}

func (t *memTx) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, ok := t.state.workflows[id]
	if !ok {
		return nil, models.NewNotFound(models.EntityWorkflow, id)
	}
	return &wf, nil
}

func (t *memTx) ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error) {
	if err := t.fail("ListWorkflows"); err != nil {
		return nil, err
	}
	var out []*models.Workflow
	for _, wf := range t.state.workflows {
		if filter.ApplicationType != "" && wf.ApplicationType != filter.ApplicationType {
			continue
		}
		if filter.Active != nil && wf.IsActive != *filter.Active {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(wf.Name), strings.ToLower(filter.Name)) {
			continue
		}
		wf := wf
		out = append(out, &wf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) ListStages(ctx context.Context, workflowID string) ([]*models.Stage, error) {
	var out []*models.Stage
	for _, s := range t.state.stages {
		if s.WorkflowID == workflowID {
			out = append(out, copyStage(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error) {
	return t.transitionsWhere(func(tr models.Transition) bool { return tr.WorkflowID == workflowID }), nil
}

func (t *memTx) ListTransitionsFromStage(ctx context.Context, stageID string) ([]*models.Transition, error) {
	if err := t.fail("ListTransitionsFromStage"); err != nil {
		return nil, err
	}
	return t.transitionsWhere(func(tr models.Transition) bool { return tr.SourceStageID == stageID }), nil
}

func (t *memTx) transitionsWhere(keep func(models.Transition) bool) []*models.Transition {
	var out []*models.Transition
	for _, tr := range t.state.transitions {
		if keep(tr) {
			out = append(out, copyTransition(tr))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *memTx) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	s, ok := t.state.stages[id]
	if !ok {
		return nil, models.NewNotFound(models.EntityStage, id)
	}
	return copyStage(s), nil
}

func (t *memTx) GetTransition(ctx context.Context, id string) (*models.Transition, error) {
	tr, ok := t.state.transitions[id]
	if !ok {
		return nil, models.NewNotFound(models.EntityTransition, id)
	}
	return copyTransition(tr), nil
}

func (t *memTx) InsertWorkflow(ctx context.Context, wf *models.Workflow) error {
	if err := t.fail("InsertWorkflow"); err != nil {
		return err
	}
	t.state.workflows[wf.ID] = *wf
	return nil
}

func (t *memTx) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	if err := t.fail("UpdateWorkflow"); err != nil {
		return err
	}
	cur, ok := t.state.workflows[wf.ID]
	if !ok {
		return models.NewNotFound(models.EntityWorkflow, wf.ID)
	}
	next := *wf
	next.CreatedAt = cur.CreatedAt
	next.CreatedBy = cur.CreatedBy
	t.state.workflows[wf.ID] = next
	return nil
}

func (t *memTx) DeleteWorkflow(ctx context.Context, id string) error {
	if err := t.fail("DeleteWorkflow"); err != nil {
		return err
	}
	if _, ok := t.state.workflows[id]; !ok {
		return models.NewNotFound(models.EntityWorkflow, id)
	}
	delete(t.state.workflows, id)
	return nil
}

func (t *memTx) DeactivateWorkflows(ctx context.Context, appType models.ApplicationType, exceptID string) error {
	for id, wf := range t.state.workflows {
		if wf.ApplicationType == appType && id != exceptID && wf.IsActive {
			wf.IsActive = false
			t.state.workflows[id] = wf
		}
	}
	return nil
}

func (t *memTx) InsertStage(ctx context.Context, s *models.Stage) error {
	if err := t.fail("InsertStage"); err != nil {
		return err
	}
	t.state.stages[s.ID] = *copyStage(*s)
	return nil
}

func (t *memTx) UpdateStage(ctx context.Context, s *models.Stage) error {
	if err := t.fail("UpdateStage"); err != nil {
		return err
	}
	cur, ok := t.state.stages[s.ID]
	if !ok {
		return models.NewNotFound(models.EntityStage, s.ID)
	}
	next := *copyStage(*s)
	next.WorkflowID = cur.WorkflowID
	next.CreatedAt = cur.CreatedAt
	t.state.stages[s.ID] = next
	return nil
}

func (t *memTx) DeleteStage(ctx context.Context, id string) error {
	if err := t.fail("DeleteStage"); err != nil {
		return err
	}
	if _, ok := t.state.stages[id]; !ok {
		return models.NewNotFound(models.EntityStage, id)
	}
	delete(t.state.stages, id)
	return nil
}

func (t *memTx) InsertTransition(ctx context.Context, tr *models.Transition) error {
	if err := t.fail("InsertTransition"); err != nil {
		return err
	}
	t.state.transitions[tr.ID] = *copyTransition(*tr)
	return nil
}

func (t *memTx) UpdateTransition(ctx context.Context, tr *models.Transition) error {
	if err := t.fail("UpdateTransition"); err != nil {
		return err
	}
	cur, ok := t.state.transitions[tr.ID]
	if !ok {
		return models.NewNotFound(models.EntityTransition, tr.ID)
	}
	next := *copyTransition(*tr)
	next.WorkflowID = cur.WorkflowID
	next.CreatedAt = cur.CreatedAt
	t.state.transitions[tr.ID] = next
	return nil
}

func (t *memTx) DeleteTransition(ctx context.Context, id string) error {
	if err := t.fail("DeleteTransition"); err != nil {
		return err
	}
	if _, ok := t.state.transitions[id]; !ok {
		return models.NewNotFound(models.EntityTransition, id)
	}
	delete(t.state.transitions, id)
	return nil
}

func copyStage(s models.Stage) *models.Stage {
	s.RequiredDocuments = append([]string(nil), s.RequiredDocuments...)
	s.RequiredActions = append([]string(nil), s.RequiredActions...)
	triggers := make([]models.NotificationTrigger, 0, len(s.NotificationTriggers))
	for _, tr := range s.NotificationTriggers {
		tr.Channels = append([]string(nil), tr.Channels...)
		triggers = append(triggers, tr)
	}
	s.NotificationTriggers = triggers
	return &s
}

func copyTransition(t models.Transition) *models.Transition {
	t.Conditions = append([]models.Condition(nil), t.Conditions...)
	t.RequiredPermissions = append([]string(nil), t.RequiredPermissions...)
	t.SourceStage = nil
	t.TargetStage = nil
	return &t
}
