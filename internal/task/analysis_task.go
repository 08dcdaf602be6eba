package task

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/store"
)

// AnalysisTask analyzes one entry on a worker.
type AnalysisTask struct {
	entryID    uuid.UUID
	dispatcher *Dispatcher
}

// NewAnalysisTask creates the task for entryID.
func NewAnalysisTask(entryID uuid.UUID, dispatcher *Dispatcher) (*AnalysisTask, error) {
	if entryID == uuid.Nil {
		return nil, ErrEmptyEntryID
	}
	return &AnalysisTask{entryID: entryID, dispatcher: dispatcher}, nil
}

// ID returns the entry the task analyzes.
func (t *AnalysisTask) ID() uuid.UUID {
	return t.entryID
}

// Type returns the task type identifier
func (t *AnalysisTask) Type() string {
	return TaskTypeEntryAnalysis
}

// Execute dispatches the entry. An entry another worker already claimed, or
// one that was deleted or reset in the meantime, is skipped. So is an
// outcome whose claim was superseded while the analysis ran.
func (t *AnalysisTask) Execute(ctx context.Context) error {
	_, err := t.dispatcher.Dispatch(ctx, t.entryID)
	if errors.Is(err, domain.ErrNotReadyForAnalysis) || errors.Is(err, store.ErrEntryNotFound) {
		t.dispatcher.logger.Debug("entry not ready for analysis, skipping", "entry_id", t.entryID)
		return nil
	}
	if errors.Is(err, domain.ErrClaimSuperseded) {
		return nil
	}
	return err
}
