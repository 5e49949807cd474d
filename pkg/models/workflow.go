package models

import (
	"time"
)

// ApplicationType is the kind of admissions application a workflow serves.
type ApplicationType string

const (
	ApplicationTypeUndergraduate ApplicationType = "undergraduate"
	ApplicationTypeGraduate      ApplicationType = "graduate"
	ApplicationTypeTransfer      ApplicationType = "transfer"
)

// Valid reports whether t is one of the known application types.
func (t ApplicationType) Valid() bool {
	switch t {
	case ApplicationTypeUndergraduate, ApplicationTypeGraduate, ApplicationTypeTransfer:
		return true
	}
	return false
}

// Workflow is the header row of an admissions pipeline.
type Workflow struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ApplicationType ApplicationType `json:"application_type"`
	IsActive        bool            `json:"is_active"`
	// EntryStageID, when set, names the stage new applications start in.
	// When empty, callers fall back to the lowest sequence.
	EntryStageID string    `json:"entry_stage_id,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NotificationTrigger is opaque to the engine and forwarded to the
// notification dispatcher when an application enters or completes a stage.
type NotificationTrigger struct {
	Event         string   `json:"event"`
	RecipientRole string   `json:"recipient_role"`
	TemplateID    string   `json:"template_id"`
	Channels      []string `json:"channels"`
}

// Position is the editor canvas location of a stage.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stage is a node of a workflow graph.
type Stage struct {
	ID                   string                `json:"id"`
	WorkflowID           string                `json:"workflow_id"`
	Name                 string                `json:"name"`
	Description          string                `json:"description"`
	Sequence             int                   `json:"sequence"`
	RequiredDocuments    []string              `json:"required_documents"`
	RequiredActions      []string              `json:"required_actions"`
	NotificationTriggers []NotificationTrigger `json:"notification_triggers"`
	AssignedRole         string                `json:"assigned_role,omitempty"`
	Position             Position              `json:"position"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// StageRef is the summary of a stage attached to a hydrated transition.
type StageRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
}

// Transition is a directed, condition-gated edge between two stages of the
// same workflow.
type Transition struct {
	ID                  string      `json:"id"`
	WorkflowID          string      `json:"workflow_id"`
	SourceStageID       string      `json:"source_stage_id"`
	TargetStageID       string      `json:"target_stage_id"`
	Name                string      `json:"name"`
	Description         string      `json:"description"`
	Conditions          []Condition `json:"conditions"`
	RequiredPermissions []string    `json:"required_permissions"`
	IsAutomatic         bool        `json:"is_automatic"`
	// Priority orders the transitions leaving a stage; lower runs first.
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SourceStage *StageRef `json:"source_stage,omitempty"`
	TargetStage *StageRef `json:"target_stage,omitempty"`
}

// WorkflowGraph is a workflow with its stages ordered by sequence and its
// transitions ordered by priority then id.
type WorkflowGraph struct {
	Workflow
	Stages      []*Stage      `json:"stages"`
	Transitions []*Transition `json:"transitions"`
}

// StageByID returns the stage with the given id, or nil.
func (g *WorkflowGraph) StageByID(id string) *Stage {
	for _, s := range g.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// EntryStage returns the explicit entry stage if one is set, otherwise the
// stage with the lowest sequence. It returns nil for an empty workflow.
func (g *WorkflowGraph) EntryStage() *Stage {
	if g.EntryStageID != "" {
		return g.StageByID(g.EntryStageID)
	}
	var entry *Stage
	for _, s := range g.Stages {
		if entry == nil || s.Sequence < entry.Sequence {
			entry = s
		}
	}
	return entry
}

// ApplicationData is the read-only snapshot of one application's fields.
type ApplicationData map[string]any

// TransitionRecord is one history entry for an application moving between
// stages.
type TransitionRecord struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	WorkflowID    string    `json:"workflow_id"`
	FromStageID   string    `json:"from_stage_id"`
	ToStageID     string    `json:"to_stage_id"`
	TransitionID  string    `json:"transition_id"`
	Automatic     bool      `json:"automatic"`
	Actor         string    `json:"actor,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TransitionResult is returned when the engine moves an application.
type TransitionResult struct {
	NewStageID   string `json:"new_stage_id"`
	TransitionID string `json:"transition_id"`
}

// WorkflowFilter narrows GetAllWorkflows.
type WorkflowFilter struct {
	ApplicationType ApplicationType
	Active          *bool
	Name            string
	Limit           int
	Offset          int
}
