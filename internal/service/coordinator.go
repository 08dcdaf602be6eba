package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/events"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/redact"
	"github.com/phrazzld/medstock-api/internal/store"
)

// Outcome statuses of a saved entry.
const (
	OutcomeSaved    = "saved"
	OutcomeRejected = "rejected"
)

// SaveRecorder receives save measurements.
type SaveRecorder interface {
	RecordSave(succeeded, failed int)
}

type nopSaveRecorder struct{}

func (nopSaveRecorder) RecordSave(int, int) {}

// Outcome is the result of saving one approved entry.
type Outcome struct {
	EntryID     uuid.UUID         `json:"entry_id"`
	Status      string            `json:"status"`
	RecordID    *uuid.UUID        `json:"record_id,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// SaveSummary aggregates the outcomes of one save request.
type SaveSummary struct {
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Outcomes     []Outcome `json:"outcomes"`
}

// ApprovalCoordinator persists approved entries as inventory records.
type ApprovalCoordinator struct {
	entries     store.EntryStore
	medications store.MedicationStore
	images      imagestore.Store
	publisher   events.Publisher
	recorder    SaveRecorder
	logger      *slog.Logger
}

// NewApprovalCoordinator creates an ApprovalCoordinator.
// images, publisher and recorder may be nil.
func NewApprovalCoordinator(
	entries store.EntryStore,
	medications store.MedicationStore,
	images imagestore.Store,
	publisher events.Publisher,
	recorder SaveRecorder,
	logger *slog.Logger,
) (*ApprovalCoordinator, error) {
	if entries == nil {
		return nil, NewEntryServiceError("create_coordinator", "entries cannot be nil", nil)
	}
	if medications == nil {
		return nil, NewEntryServiceError("create_coordinator", "medications cannot be nil", nil)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if recorder == nil {
		recorder = nopSaveRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ApprovalCoordinator{
		entries:     entries,
		medications: medications,
		images:      images,
		publisher:   publisher,
		recorder:    recorder,
		logger:      logger.With(slog.String("component", "approval_coordinator")),
	}, nil
}

// SaveApproved persists every approved entry independently. Each entry is
// re-read first, so a review changed after the caller listed the batch wins
// and the stored results are the ones saved. A saved entry is deleted from
// the working set; an entry whose record was rejected stays in place with its
// field errors in the outcome. The call is not transactional across entries,
// and an entry that already produced a record counts as saved without
// creating a second one.
func (c *ApprovalCoordinator) SaveApproved(ctx context.Context, entries []*domain.Entry) (*SaveSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := logger.FromContextOrDefault(ctx, c.logger)
	summary := &SaveSummary{Outcomes: []Outcome{}}

	for _, entry := range entries {
		if entry == nil || entry.ApprovalStatus != domain.ApprovalStatusApproved {
			continue
		}

		outcome, ok := c.saveOne(ctx, log, entry.ID)
		if !ok {
			continue
		}
		if outcome.Status == OutcomeSaved {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	c.recorder.RecordSave(summary.SuccessCount, summary.FailureCount)

	if summary.SuccessCount > 0 {
		c.publisher.Publish(ctx, events.TopicBatchSaved, events.BatchSaved{
			BatchID:      commonBatchID(entries),
			SuccessCount: summary.SuccessCount,
			FailureCount: summary.FailureCount,
		})
	}

	log.Info("approved entries saved",
		slog.Int("success_count", summary.SuccessCount),
		slog.Int("failure_count", summary.FailureCount))

	return summary, nil
}

// saveOne saves the current state of one entry. It reports false when the
// entry is gone or no longer approved, which leaves it out of the summary.
func (c *ApprovalCoordinator) saveOne(ctx context.Context, log *slog.Logger, id uuid.UUID) (Outcome, bool) {
	outcome := Outcome{EntryID: id}
	log = log.With(slog.String("entry_id", id.String()))

	entry, err := c.entries.GetByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		log.Debug("entry removed before save, skipping")
		return outcome, false
	case err != nil:
		outcome.Status = OutcomeRejected
		outcome.Error = redact.Error(err)
		log.Error("failed to load entry for save", slog.String("error", redact.Error(err)))
		return outcome, true
	case entry.ApprovalStatus != domain.ApprovalStatusApproved:
		log.Info("entry no longer approved, skipping", slog.String("approval_status", string(entry.ApprovalStatus)))
		return outcome, false
	}

	if entry.Results == nil {
		outcome.Status = OutcomeRejected
		outcome.Error = domain.ErrEmptyAnalysisResult.Error()
		return outcome, true
	}

	record, err := c.medications.CreateRecord(ctx, entry.ID, *entry.Results)
	var fieldErrs *domain.FieldErrors
	switch {
	case err == nil:
		outcome.RecordID = &record.ID
	case errors.Is(err, store.ErrMedicationExists):
		log.Info("record already exists for entry, completing removal")
		if existing, err := c.medications.GetBySourceEntry(ctx, entry.ID); err == nil {
			outcome.RecordID = &existing.ID
		}
	case errors.As(err, &fieldErrs):
		outcome.Status = OutcomeRejected
		outcome.FieldErrors = fieldErrs.Fields
		log.Info("approved entry rejected by validation", slog.Int("field_error_count", len(fieldErrs.Fields)))
		return outcome, true
	default:
		outcome.Status = OutcomeRejected
		outcome.Error = redact.Error(err)
		log.Error("failed to create record", slog.String("error", redact.Error(err)))
		return outcome, true
	}

	outcome.Status = OutcomeSaved
	c.removeEntry(ctx, log, entry)
	return outcome, true
}

// removeEntry deletes a saved entry and, best-effort, its stored images.
// A failed delete leaves the entry behind; saving it again only repeats the removal.
func (c *ApprovalCoordinator) removeEntry(ctx context.Context, log *slog.Logger, entry *domain.Entry) {
	if err := c.entries.Delete(ctx, entry.ID); err != nil && !errors.Is(err, store.ErrEntryNotFound) {
		log.Error("failed to delete saved entry", slog.String("error", err.Error()))
		return
	}
	deleteImages(ctx, log, c.images, entry.Images)
}

func deleteImages(ctx context.Context, log *slog.Logger, images imagestore.Store, list []domain.EntryImage) {
	if images == nil {
		return
	}
	for _, img := range list {
		if err := images.Delete(ctx, img.StorageKey); err != nil {
			log.Warn("failed to delete stored image",
				slog.String("storage_key", img.StorageKey),
				slog.String("error", redact.Error(err)))
		}
	}
}

// commonBatchID returns the batch shared by all entries, or uuid.Nil.
func commonBatchID(entries []*domain.Entry) uuid.UUID {
	var batchID uuid.UUID
	for _, e := range entries {
		if e == nil {
			continue
		}
		if batchID == uuid.Nil {
			batchID = e.BatchID
			continue
		}
		if e.BatchID != batchID {
			return uuid.Nil
		}
	}
	return batchID
}
