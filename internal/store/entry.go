package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
)

// EntryStore defines the interface for entry and entry image persistence.
// Every state transition is atomic with respect to concurrent writers of the
// same entry and returns the entry as it is after the transition.
type EntryStore interface {
	// Create saves a new entry.
	// Returns ErrEntryNumberExists if (batch_id, entry_number) is taken; no
	// partial state is created in that case.
	Create(ctx context.Context, entry *domain.Entry) error

	// GetByID retrieves an entry with its images in upload order.
	// Returns ErrEntryNotFound if the entry does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Entry, error)

	// ListByBatch returns every entry of a batch ordered by entry number.
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Entry, error)

	// FindByAnalysisStatus returns entries in the given analysis status whose
	// last update is before olderThan. A zero olderThan disables the age filter.
	FindByAnalysisStatus(
		ctx context.Context,
		status domain.AnalysisStatus,
		olderThan time.Time,
		limit int,
	) ([]*domain.Entry, error)

	// ListDispatchable returns IDs of pending entries that own at least one
	// image, least recently updated first.
	ListDispatchable(ctx context.Context, limit int) ([]uuid.UUID, error)

	// AttachImage appends an image to its entry without touching analysis state.
	// Returns ErrEntryNotFound if the owning entry does not exist.
	AttachImage(ctx context.Context, image *domain.EntryImage) error

	// ListImages returns the entry's images in ascending upload order.
	ListImages(ctx context.Context, entryID uuid.UUID) ([]domain.EntryImage, error)

	// GetImage retrieves a single image by ID.
	// Returns ErrEntryImageNotFound if the image does not exist.
	GetImage(ctx context.Context, imageID uuid.UUID) (*domain.EntryImage, error)

	// DeleteImage removes a single image from its entry.
	DeleteImage(ctx context.Context, imageID uuid.UUID) error

	// NextUploadOrder returns the upload order the next image of the entry should use.
	NextUploadOrder(ctx context.Context, entryID uuid.UUID) (int, error)

	// MarkProcessing atomically claims a pending entry that has at least one
	// image. Of any number of concurrent callers for the same entry, exactly one
	// succeeds; the rest get domain.ErrNotReadyForAnalysis. The returned entry
	// carries the new ClaimID.
	MarkProcessing(ctx context.Context, id uuid.UUID) (*domain.Entry, error)

	// ApplyAnalysisSuccess moves a processing entry to complete with results.
	// Returns domain.ErrClaimSuperseded if claim is not the entry's current claim.
	ApplyAnalysisSuccess(
		ctx context.Context,
		id, claim uuid.UUID,
		results domain.MedicineAttributes,
	) (*domain.Entry, error)

	// ApplyAnalysisFailure moves a processing entry to failed with a message.
	// Returns domain.ErrClaimSuperseded if claim is not the entry's current claim.
	ApplyAnalysisFailure(ctx context.Context, id, claim uuid.UUID, message string) (*domain.Entry, error)

	// RetryAnalysis moves a failed entry back to pending.
	RetryAnalysis(ctx context.Context, id uuid.UUID) (*domain.Entry, error)

	// SetApproval records a review decision on a complete entry.
	// Returns domain.ErrNotReviewable otherwise.
	SetApproval(
		ctx context.Context,
		id uuid.UUID,
		decision domain.ApprovalStatus,
		reviewer, notes string,
	) (*domain.Entry, error)

	// UpdateResults replaces the results of a complete entry with human edits.
	UpdateResults(ctx context.Context, id uuid.UUID, results domain.MedicineAttributes) (*domain.Entry, error)

	// Delete removes an entry and cascades to its images.
	// Returns ErrEntryNotFound if the entry does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}
