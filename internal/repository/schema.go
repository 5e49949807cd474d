package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the workflow graph tables. Cascades are not
// declared here; the graph repository deletes children explicitly.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		application_type TEXT NOT NULL CHECK (application_type IN ('undergraduate', 'graduate', 'transfer')),
		is_active        BOOLEAN NOT NULL DEFAULT FALSE,
		entry_stage_id   TEXT,
		created_by       TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflows_type_idx ON workflows (application_type, is_active)`,
	`CREATE TABLE IF NOT EXISTS workflow_stages (
		id                    TEXT PRIMARY KEY,
		workflow_id           TEXT NOT NULL REFERENCES workflows (id),
		name                  TEXT NOT NULL,
		description           TEXT NOT NULL DEFAULT '',
		sequence              INTEGER NOT NULL,
		required_documents    JSONB NOT NULL DEFAULT '[]',
		required_actions      JSONB NOT NULL DEFAULT '[]',
		notification_triggers JSONB NOT NULL DEFAULT '[]',
		assigned_role         TEXT NOT NULL DEFAULT '',
		position_x            DOUBLE PRECISION NOT NULL DEFAULT 0,
		position_y            DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL,
		CONSTRAINT workflow_stages_workflow_id_id_key UNIQUE (workflow_id, id),
		CONSTRAINT workflow_stages_sequence_key UNIQUE (workflow_id, sequence) DEFERRABLE INITIALLY DEFERRED
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_transitions (
		id                   TEXT PRIMARY KEY,
		workflow_id          TEXT NOT NULL REFERENCES workflows (id),
		source_stage_id      TEXT NOT NULL,
		target_stage_id      TEXT NOT NULL,
		name                 TEXT NOT NULL DEFAULT '',
		description          TEXT NOT NULL DEFAULT '',
		conditions           JSONB NOT NULL DEFAULT '[]',
		required_permissions JSONB NOT NULL DEFAULT '[]',
		is_automatic         BOOLEAN NOT NULL DEFAULT FALSE,
		priority             INTEGER NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL,
		FOREIGN KEY (workflow_id, source_stage_id) REFERENCES workflow_stages (workflow_id, id),
		FOREIGN KEY (workflow_id, target_stage_id) REFERENCES workflow_stages (workflow_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_transitions_source_idx ON workflow_transitions (source_stage_id, priority, id)`,
	`CREATE TABLE IF NOT EXISTS application_stage_history (
		id             TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		workflow_id    TEXT NOT NULL DEFAULT '',
		from_stage_id  TEXT NOT NULL,
		to_stage_id    TEXT NOT NULL,
		transition_id  TEXT NOT NULL,
		automatic      BOOLEAN NOT NULL DEFAULT FALSE,
		actor          TEXT NOT NULL DEFAULT '',
		occurred_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS application_stage_history_app_idx ON application_stage_history (application_id, occurred_at)`,
}

// Migrate creates the tables used by PostgresStore if they do not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
