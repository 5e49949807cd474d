package models

// WorkflowSpec is the input to create and update. On update, stages and
// transitions carrying an existing ID are updated in place, those without
// an ID are created, and existing ones missing from the spec are deleted.
type WorkflowSpec struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ApplicationType ApplicationType `json:"application_type"`
	// IsActive nil leaves the flag as stored, or false on create. A
	// workflow left active by a write must pass validation.
	IsActive *bool `json:"is_active,omitempty"`
	// EntryStage is a stage ID or Ref from Stages. Empty means none.
	EntryStage  string           `json:"entry_stage,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	Stages      []StageSpec      `json:"stages"`
	Transitions []TransitionSpec `json:"transitions"`
}

// StageSpec describes one stage. Ref is a client-side key that transitions
// in the same spec can point at before the stage has an ID.
type StageSpec struct {
	ID                   string                `json:"id,omitempty"`
	Ref                  string                `json:"ref,omitempty"`
	Name                 string                `json:"name"`
	Description          string                `json:"description"`
	Sequence             int                   `json:"sequence"`
	RequiredDocuments    []string              `json:"required_documents"`
	RequiredActions      []string              `json:"required_actions"`
	NotificationTriggers []NotificationTrigger `json:"notification_triggers"`
	AssignedRole         string                `json:"assigned_role,omitempty"`
	Position             Position              `json:"position"`
}

// TransitionSpec describes one transition. Source and Target each resolve
// against a StageSpec ID or Ref in the same WorkflowSpec.
type TransitionSpec struct {
	ID                  string      `json:"id,omitempty"`
	Source              string      `json:"source"`
	Target              string      `json:"target"`
	Name                string      `json:"name"`
	Description         string      `json:"description"`
	Conditions          []Condition `json:"conditions"`
	RequiredPermissions []string    `json:"required_permissions"`
	IsAutomatic         bool        `json:"is_automatic"`
	Priority            int         `json:"priority"`
}

// SpecFromGraph turns a loaded graph back into a spec that would recreate
// it. Existing IDs are kept so the result can be fed to an update.
func SpecFromGraph(g *WorkflowGraph) WorkflowSpec {
	active := g.IsActive
	spec := WorkflowSpec{
		Name:            g.Name,
		Description:     g.Description,
		ApplicationType: g.ApplicationType,
		IsActive:        &active,
		EntryStage:      g.EntryStageID,
		CreatedBy:       g.CreatedBy,
	}
	for _, s := range g.Stages {
		spec.Stages = append(spec.Stages, StageSpec{
			ID:                   s.ID,
			Name:                 s.Name,
			Description:          s.Description,
			Sequence:             s.Sequence,
			RequiredDocuments:    s.RequiredDocuments,
			RequiredActions:      s.RequiredActions,
			NotificationTriggers: s.NotificationTriggers,
			AssignedRole:         s.AssignedRole,
			Position:             s.Position,
		})
	}
	for _, t := range g.Transitions {
		spec.Transitions = append(spec.Transitions, TransitionSpec{
			ID:                  t.ID,
			Source:              t.SourceStageID,
			Target:              t.TargetStageID,
			Name:                t.Name,
			Description:         t.Description,
			Conditions:          t.Conditions,
			RequiredPermissions: t.RequiredPermissions,
			IsAutomatic:         t.IsAutomatic,
			Priority:            t.Priority,
		})
	}
	return spec
}
