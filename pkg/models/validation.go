package models

// EntityType names the kind of graph element an issue or error refers to.
type EntityType string

const (
	EntityWorkflow   EntityType = "workflow"
	EntityStage      EntityType = "stage"
	EntityTransition EntityType = "transition"
)

// Issue codes reported by the graph validator.
const (
	CodeDisconnectedStage     = "disconnected_stage"
	CodeMissingTransitions    = "missing_transitions"
	CodeUnreachableStage      = "unreachable_stage"
	CodeForeignStageReference = "foreign_stage_reference"
	CodeEmptyWorkflow         = "empty_workflow"
	CodeInvalidEntryStage     = "invalid_entry_stage"
	CodeDuplicateSequence     = "duplicate_sequence"
	CodeSelfLoop              = "self_loop"
	CodeInvalidConditionOp    = "invalid_condition_operator"
	CodeNoTerminalStage       = "no_terminal_stage"
)

// EntityRef points the editor at the offending element.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// ValidationIssue is a single validator finding.
type ValidationIssue struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Entity  EntityRef `json:"entity"`
}

// ValidationResult is returned as data; structural problems never surface as
// Go errors.
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}
