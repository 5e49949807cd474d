// Package history records application stage changes made by the
// transition engine.
package history

import (
	"context"
	"errors"

	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/pkg/models"
)

// Recorder receives one record per stage change. Callers treat Record as
// fire-and-forget: an error is reported but never undoes the transition.
type Recorder interface {
	Record(ctx context.Context, rec *models.TransitionRecord) error
}

// Reader lists the recorded history of one application.
type Reader interface {
	History(ctx context.Context, applicationID string) ([]*models.TransitionRecord, error)
}

// StoreRecorder writes records to a repository.HistoryStore.
type StoreRecorder struct {
	store repository.HistoryStore
}

// NewStoreRecorder creates a StoreRecorder.
func NewStoreRecorder(store repository.HistoryStore) *StoreRecorder {
	return &StoreRecorder{store: store}
}

func (r *StoreRecorder) Record(ctx context.Context, rec *models.TransitionRecord) error {
	return r.store.AppendTransitionRecord(ctx, rec)
}

func (r *StoreRecorder) History(ctx context.Context, applicationID string) ([]*models.TransitionRecord, error) {
	return r.store.ListTransitionRecords(ctx, applicationID)
}

// Fanout sends every record to each of its recorders. All recorders are
// attempted; the failures are joined.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, rec *models.TransitionRecord) error {
	var errs []error
	for _, r := range f {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
