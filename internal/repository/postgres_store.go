package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"admissions-workflow/backend/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ Store        = (*PostgresStore)(nil)
	_ HistoryStore = (*PostgresStore)(nil)
	_ Tx           = (*pgQueries)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore is a PostgreSQL implementation of Store and HistoryStore.
type PostgresStore struct {
	pgQueries
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: db}, db: db}
}

// WithinTx runs fn inside a database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&pgQueries{q: tx})
	})
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// AppendTransitionRecord stores one history record.
func (s *PostgresStore) AppendTransitionRecord(ctx context.Context, rec *models.TransitionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO application_stage_history
			(id, application_id, workflow_id, from_stage_id, to_stage_id, transition_id, automatic, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ApplicationID, rec.WorkflowID, rec.FromStageID, rec.ToStageID, rec.TransitionID,
		rec.Automatic, rec.Actor, rec.OccurredAt)
	return err
}

// ListTransitionRecords returns an application's history, oldest first.
func (s *PostgresStore) ListTransitionRecords(ctx context.Context, applicationID string) ([]*models.TransitionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, application_id, workflow_id, from_stage_id, to_stage_id, transition_id, automatic, actor, occurred_at
		FROM application_stage_history WHERE application_id = $1 ORDER BY occurred_at, id`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TransitionRecord
	for rows.Next() {
		var r models.TransitionRecord
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.WorkflowID, &r.FromStageID, &r.ToStageID,
			&r.TransitionID, &r.Automatic, &r.Actor, &r.OccurredAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// pgQueries implements Reader and Tx over either the pool or a transaction.
type pgQueries struct {
	q querier
}

const workflowColumns = `id, name, description, application_type, is_active, COALESCE(entry_stage_id, ''), created_by, created_at, updated_at`

const stageColumns = `id, workflow_id, name, description, sequence, required_documents, required_actions,
	notification_triggers, assigned_role, position_x, position_y, created_at, updated_at`

const transitionColumns = `id, workflow_id, source_stage_id, target_stage_id, name, description, conditions,
	required_permissions, is_automatic, priority, created_at, updated_at`

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var wf models.Workflow
	err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.ApplicationType, &wf.IsActive,
		&wf.EntryStageID, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanStage(row scanner) (*models.Stage, error) {
	var (
		s                       models.Stage
		docs, actions, triggers []byte
	)
	err := row.Scan(&s.ID, &s.WorkflowID, &s.Name, &s.Description, &s.Sequence, &docs, &actions,
		&triggers, &s.AssignedRole, &s.Position.X, &s.Position.Y, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(docs, &s.RequiredDocuments); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(actions, &s.RequiredActions); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(triggers, &s.NotificationTriggers); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanTransition(row scanner) (*models.Transition, error) {
	var (
		t                 models.Transition
		conditions, perms []byte
	)
	err := row.Scan(&t.ID, &t.WorkflowID, &t.SourceStageID, &t.TargetStageID, &t.Name, &t.Description,
		&conditions, &perms, &t.IsAutomatic, &t.Priority, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(conditions, &t.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(perms, &t.RequiredPermissions); err != nil {
		return nil, err
	}
	return &t, nil
}

func unmarshalJSONB(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode jsonb column: %w", err)
	}
	return nil
}

// jsonb marshals v for a JSONB parameter, writing "[]" for nil slices.
func jsonb[T any](v []T) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

func notFoundOr(err error, entity models.EntityType, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewNotFound(entity, id)
	}
	return err
}

func collect[T any](rows pgx.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetWorkflow retrieves a workflow by its ID.
func (p *pgQueries) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	row := p.q.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id)
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, notFoundOr(err, models.EntityWorkflow, id)
	}
	return wf, nil
}

// ListWorkflows lists workflows matching filter.
func (p *pgQueries) ListWorkflows(ctx context.Context, filter models.WorkflowFilter) ([]*models.Workflow, error) {
	var (
		where []string
		args  []any
	)
	if filter.ApplicationType != "" {
		args = append(args, filter.ApplicationType)
		where = append(where, fmt.Sprintf("application_type = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}

	sql := "SELECT " + workflowColumns + " FROM workflows"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY name, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWorkflow)
}

// ListStages lists a workflow's stages ordered by sequence.
func (p *pgQueries) ListStages(ctx context.Context, workflowID string) ([]*models.Stage, error) {
	rows, err := p.q.Query(ctx,
		"SELECT "+stageColumns+" FROM workflow_stages WHERE workflow_id = $1 ORDER BY sequence, id", workflowID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanStage)
}

// ListTransitions lists a workflow's transitions ordered by priority then id.
func (p *pgQueries) ListTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error) {
	rows, err := p.q.Query(ctx,
		"SELECT "+transitionColumns+" FROM workflow_transitions WHERE workflow_id = $1 ORDER BY priority, id", workflowID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransition)
}

// GetStage retrieves a stage by its ID.
func (p *pgQueries) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	s, err := scanStage(p.q.QueryRow(ctx, "SELECT "+stageColumns+" FROM workflow_stages WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, models.EntityStage, id)
	}
	return s, nil
}

// GetTransition retrieves a transition by its ID.
func (p *pgQueries) GetTransition(ctx context.Context, id string) (*models.Transition, error) {
	t, err := scanTransition(p.q.QueryRow(ctx, "SELECT "+transitionColumns+" FROM workflow_transitions WHERE id = $1", id))
	if err != nil {
		return nil, notFoundOr(err, models.EntityTransition, id)
	}
	return t, nil
}

// ListTransitionsFromStage lists the transitions leaving a stage.
func (p *pgQueries) ListTransitionsFromStage(ctx context.Context, stageID string) ([]*models.Transition, error) {
	rows, err := p.q.Query(ctx,
		"SELECT "+transitionColumns+" FROM workflow_transitions WHERE source_stage_id = $1 ORDER BY priority, id", stageID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransition)
}

// InsertWorkflow inserts a workflow header row.
func (p *pgQueries) InsertWorkflow(ctx context.Context, wf *models.Workflow) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO workflows (id, name, description, application_type, is_active, entry_stage_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		wf.ID, wf.Name, wf.Description, wf.ApplicationType, wf.IsActive, wf.EntryStageID, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt)
	return err
}

// UpdateWorkflow updates a workflow header row.
func (p *pgQueries) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE workflows SET name = $2, description = $3, application_type = $4, is_active = $5,
			entry_stage_id = NULLIF($6, ''), updated_at = $7
		WHERE id = $1`,
		wf.ID, wf.Name, wf.Description, wf.ApplicationType, wf.IsActive, wf.EntryStageID, wf.UpdatedAt)
	return affected(tag, err, models.EntityWorkflow, wf.ID)
}

// DeleteWorkflow deletes a workflow header row. Children must already be gone.
func (p *pgQueries) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, "DELETE FROM workflows WHERE id = $1", id)
	return affected(tag, err, models.EntityWorkflow, id)
}

// DeactivateWorkflows clears is_active for other workflows of a type.
func (p *pgQueries) DeactivateWorkflows(ctx context.Context, appType models.ApplicationType, exceptID string) error {
	_, err := p.q.Exec(ctx,
		"UPDATE workflows SET is_active = FALSE WHERE application_type = $1 AND id <> $2 AND is_active",
		appType, exceptID)
	return err
}

// InsertStage inserts a stage.
func (p *pgQueries) InsertStage(ctx context.Context, s *models.Stage) error {
	docs, actions, triggers, err := stageJSON(s)
	if err != nil {
		return err
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO workflow_stages (id, workflow_id, name, description, sequence, required_documents, required_actions,
			notification_triggers, assigned_role, position_x, position_y, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.WorkflowID, s.Name, s.Description, s.Sequence, docs, actions, triggers,
		s.AssignedRole, s.Position.X, s.Position.Y, s.CreatedAt, s.UpdatedAt)
	return err
}

// UpdateStage updates a stage in place.
func (p *pgQueries) UpdateStage(ctx context.Context, s *models.Stage) error {
	docs, actions, triggers, err := stageJSON(s)
	if err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE workflow_stages SET name = $2, description = $3, sequence = $4, required_documents = $5,
			required_actions = $6, notification_triggers = $7, assigned_role = $8, position_x = $9,
			position_y = $10, updated_at = $11
		WHERE id = $1`,
		s.ID, s.Name, s.Description, s.Sequence, docs, actions, triggers,
		s.AssignedRole, s.Position.X, s.Position.Y, s.UpdatedAt)
	return affected(tag, err, models.EntityStage, s.ID)
}

// DeleteStage deletes a stage. Transitions touching it must already be gone.
func (p *pgQueries) DeleteStage(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, "DELETE FROM workflow_stages WHERE id = $1", id)
	return affected(tag, err, models.EntityStage, id)
}

// InsertTransition inserts a transition.
func (p *pgQueries) InsertTransition(ctx context.Context, t *models.Transition) error {
	conditions, perms, err := transitionJSON(t)
	if err != nil {
		return err
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO workflow_transitions (id, workflow_id, source_stage_id, target_stage_id, name, description,
			conditions, required_permissions, is_automatic, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.WorkflowID, t.SourceStageID, t.TargetStageID, t.Name, t.Description,
		conditions, perms, t.IsAutomatic, t.Priority, t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTransition updates a transition in place.
func (p *pgQueries) UpdateTransition(ctx context.Context, t *models.Transition) error {
	conditions, perms, err := transitionJSON(t)
	if err != nil {
		return err
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE workflow_transitions SET source_stage_id = $2, target_stage_id = $3, name = $4, description = $5,
			conditions = $6, required_permissions = $7, is_automatic = $8, priority = $9, updated_at = $10
		WHERE id = $1`,
		t.ID, t.SourceStageID, t.TargetStageID, t.Name, t.Description,
		conditions, perms, t.IsAutomatic, t.Priority, t.UpdatedAt)
	return affected(tag, err, models.EntityTransition, t.ID)
}

// DeleteTransition deletes a transition.
func (p *pgQueries) DeleteTransition(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, "DELETE FROM workflow_transitions WHERE id = $1", id)
	return affected(tag, err, models.EntityTransition, id)
}

func affected(tag pgconn.CommandTag, err error, entity models.EntityType, id string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.NewNotFound(entity, id)
	}
	return nil
}

func stageJSON(s *models.Stage) (docs, actions, triggers []byte, err error) {
	if docs, err = jsonb(s.RequiredDocuments); err != nil {
		return
	}
	if actions, err = jsonb(s.RequiredActions); err != nil {
		return
	}
	triggers, err = jsonb(s.NotificationTriggers)
	return
}

func transitionJSON(t *models.Transition) (conditions, perms []byte, err error) {
	if conditions, err = jsonb(t.Conditions); err != nil {
		return
	}
	perms, err = jsonb(t.RequiredPermissions)
	return
}
