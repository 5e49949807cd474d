package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConditionNotMet   = errors.New("condition not met")
	ErrPersistence       = errors.New("persistence failure")
	ErrInvalidSpec       = errors.New("invalid workflow spec")
	ErrValidationFailed  = errors.New("workflow validation failed")
)

// NotFoundError reports an unresolved workflow, stage or transition id.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity EntityType, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidTransitionError is returned when a manual transition does not leave
// the application's current stage.
type InvalidTransitionError struct {
	TransitionID   string
	CurrentStageID string
	SourceStageID  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %q starts at stage %q, application is in stage %q",
		e.TransitionID, e.SourceStageID, e.CurrentStageID)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ConditionNotMetError is returned when a manual transition is attempted
// while its conditions do not hold.
type ConditionNotMetError struct {
	TransitionID string
	Failed       []Condition
}

func (e *ConditionNotMetError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("conditions of transition %q are not met", e.TransitionID)
	}
	fields := make([]string, 0, len(e.Failed))
	for _, c := range e.Failed {
		fields = append(fields, c.Field+" "+string(c.Operator))
	}
	return fmt.Sprintf("conditions of transition %q are not met: %s", e.TransitionID, strings.Join(fields, ", "))
}

func (e *ConditionNotMetError) Is(target error) bool { return target == ErrConditionNotMet }

// PersistenceError wraps a failure of the underlying store. The operation
// that raised it has been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewPersistenceError wraps err unless it is nil or already classified.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidSpec) || errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrValidationFailed) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// InvalidSpecError rejects a create or update request before anything is
// written.
type InvalidSpecError struct {
	Reason string
}

func (e *InvalidSpecError) Error() string { return "invalid workflow spec: " + e.Reason }

func (e *InvalidSpecError) Is(target error) bool { return target == ErrInvalidSpec }

// InvalidSpecf builds an InvalidSpecError with a formatted reason.
func InvalidSpecf(format string, args ...any) *InvalidSpecError {
	return &InvalidSpecError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationFailedError is returned when a workflow cannot be activated
// because validation reported errors.
type ValidationFailedError struct {
	Result *ValidationResult
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("workflow has %d validation error(s)", len(e.Result.Errors))
}

func (e *ValidationFailedError) Is(target error) bool { return target == ErrValidationFailed }
