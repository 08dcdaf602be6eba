package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/store"
)

// maxOrderConflicts bounds retries when concurrent uploads race for the same
// upload order.
const maxOrderConflicts = 3

// AnalysisQueue schedules background analysis of an entry.
type AnalysisQueue interface {
	// Enqueue adds the entry to the analysis queue without blocking
	Enqueue(entryID uuid.UUID) error
}

// ImageUpload is one photograph received from a client.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReviewRequest is a human decision on an analyzed entry.
type ReviewRequest struct {
	Decision string
	Reviewer string
	Notes    string
}

// EntryService provides entry-related operations
type EntryService interface {
	// CreateEntry starts a new entry in a batch
	CreateEntry(ctx context.Context, batchID uuid.UUID, entryNumber int) (*domain.Entry, error)

	// GetEntry retrieves an entry with its images
	GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error)

	// ListBatch returns the entries of a batch ordered by entry number
	ListBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Entry, error)

	// UploadImage stores a photograph, attaches it to the entry and schedules analysis
	UploadImage(ctx context.Context, entryID uuid.UUID, upload ImageUpload) (*domain.EntryImage, error)

	// RetryAnalysis resets a failed entry and schedules analysis again
	RetryAnalysis(ctx context.Context, id uuid.UUID) (*domain.Entry, error)

	// Review records an approval decision on a complete entry
	Review(ctx context.Context, id uuid.UUID, req ReviewRequest) (*domain.Entry, error)

	// UpdateResults replaces the extracted attributes with human edits
	UpdateResults(ctx context.Context, id uuid.UUID, results domain.MedicineAttributes) (*domain.Entry, error)

	// DeleteEntry removes an entry and its stored images
	DeleteEntry(ctx context.Context, id uuid.UUID) error

	// SaveBatch persists the approved entries of a batch
	SaveBatch(ctx context.Context, batchID uuid.UUID) (*SaveSummary, error)
}

// EntryServiceDeps holds the collaborators of the entry service.
type EntryServiceDeps struct {
	Entries        store.EntryStore
	Images         imagestore.Store
	Queue          AnalysisQueue
	Coordinator    *ApprovalCoordinator
	MaxUploadBytes int64
}

// entryServiceImpl implements the EntryService interface
type entryServiceImpl struct {
	entries        store.EntryStore
	images         imagestore.Store
	queue          AnalysisQueue
	coordinator    *ApprovalCoordinator
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewEntryService creates a new EntryService
// It returns an error if any of the required dependencies are nil.
func NewEntryService(deps EntryServiceDeps, logger *slog.Logger) (EntryService, error) {
	if deps.Entries == nil {
		return nil, NewEntryServiceError("create_service", "entries cannot be nil", nil)
	}
	if deps.Images == nil {
		return nil, NewEntryServiceError("create_service", "images cannot be nil", nil)
	}
	if deps.Queue == nil {
		return nil, NewEntryServiceError("create_service", "queue cannot be nil", nil)
	}
	if deps.Coordinator == nil {
		return nil, NewEntryServiceError("create_service", "coordinator cannot be nil", nil)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &entryServiceImpl{
		entries:        deps.Entries,
		images:         deps.Images,
		queue:          deps.Queue,
		coordinator:    deps.Coordinator,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         logger.With(slog.String("component", "entry_service")),
	}, nil
}

// CreateEntry implements EntryService.CreateEntry
func (s *entryServiceImpl) CreateEntry(ctx context.Context, batchID uuid.UUID, entryNumber int) (*domain.Entry, error) {
	entry, err := domain.NewEntry(batchID, entryNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, NewEntryServiceError("create_entry", "failed to create entry", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("entry created",
		slog.String("entry_id", entry.ID.String()),
		slog.String("batch_id", batchID.String()),
		slog.Int("entry_number", entryNumber))
	return entry, nil
}

// GetEntry implements EntryService.GetEntry
func (s *entryServiceImpl) GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	entry, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, NewEntryServiceError("get_entry", "failed to retrieve entry", err)
	}
	return entry, nil
}

// ListBatch implements EntryService.ListBatch
func (s *entryServiceImpl) ListBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Entry, error) {
	entries, err := s.entries.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, NewEntryServiceError("list_batch", "failed to list entries", err)
	}
	return entries, nil
}

// UploadImage implements EntryService.UploadImage
func (s *entryServiceImpl) UploadImage(
	ctx context.Context,
	entryID uuid.UUID,
	upload ImageUpload,
) (*domain.EntryImage, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("entry_id", entryID.String()))

	filename := strings.TrimSpace(upload.Filename)
	if filename == "" || len(upload.Data) == 0 {
		return nil, ErrInvalidUpload
	}
	if s.maxUploadBytes > 0 && int64(len(upload.Data)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrUploadTooLarge, len(upload.Data), s.maxUploadBytes)
	}

	entry, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, NewEntryServiceError("upload_image", "failed to retrieve entry", err)
	}

	key := imagestore.NewStorageKey(entry.BatchID, entryID, filename)
	image, err := domain.NewEntryImage(entryID, key, filename, int64(len(upload.Data)), upload.ContentType, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.images.Put(ctx, key, upload.Data, image.ContentType); err != nil {
		return nil, NewEntryServiceError("upload_image", "failed to store image", err)
	}

	if err := s.attach(ctx, image); err != nil {
		if delErr := s.images.Delete(ctx, key); delErr != nil {
			log.Warn("failed to remove orphaned image", slog.String("storage_key", key), slog.String("error", delErr.Error()))
		}
		return nil, NewEntryServiceError("upload_image", "failed to attach image", err)
	}

	log.Info("image attached",
		slog.String("image_id", image.ID.String()),
		slog.Int("upload_order", image.UploadOrder),
		slog.Int64("file_size", image.FileSize))

	if entry.AnalysisStatus == domain.AnalysisStatusPending {
		s.enqueue(ctx, entryID)
	}
	return image, nil
}

// attach assigns the next upload order and attaches the image, retrying when
// a concurrent upload took the same order.
func (s *entryServiceImpl) attach(ctx context.Context, image *domain.EntryImage) error {
	var err error
	for i := 0; i < maxOrderConflicts; i++ {
		image.UploadOrder, err = s.entries.NextUploadOrder(ctx, image.EntryID)
		if err != nil {
			return err
		}
		err = s.entries.AttachImage(ctx, image)
		if !errors.Is(err, store.ErrDuplicate) {
			return err
		}
	}
	return err
}

// enqueue schedules analysis. A rejected enqueue is not an error for the
// caller: the entry stays pending and the runner sweep picks it up.
func (s *entryServiceImpl) enqueue(ctx context.Context, entryID uuid.UUID) {
	if err := s.queue.Enqueue(entryID); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("analysis deferred to sweep",
			slog.String("entry_id", entryID.String()),
			slog.String("error", err.Error()))
	}
}

// RetryAnalysis implements EntryService.RetryAnalysis
func (s *entryServiceImpl) RetryAnalysis(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	entry, err := s.entries.RetryAnalysis(ctx, id)
	if err != nil {
		return nil, NewEntryServiceError("retry_analysis", "failed to reset entry", err)
	}
	s.enqueue(ctx, id)
	return entry, nil
}

// Review implements EntryService.Review
func (s *entryServiceImpl) Review(ctx context.Context, id uuid.UUID, req ReviewRequest) (*domain.Entry, error) {
	decision, err := domain.ParseApprovalDecision(req.Decision)
	if err != nil {
		return nil, err
	}

	entry, err := s.entries.SetApproval(ctx, id, decision, strings.TrimSpace(req.Reviewer), strings.TrimSpace(req.Notes))
	if err != nil {
		return nil, NewEntryServiceError("review", "failed to record decision", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("entry reviewed",
		slog.String("entry_id", id.String()),
		slog.String("decision", string(decision)))
	return entry, nil
}

// UpdateResults implements EntryService.UpdateResults
func (s *entryServiceImpl) UpdateResults(
	ctx context.Context,
	id uuid.UUID,
	results domain.MedicineAttributes,
) (*domain.Entry, error) {
	entry, err := s.entries.UpdateResults(ctx, id, results)
	if err != nil {
		return nil, NewEntryServiceError("update_results", "failed to update results", err)
	}
	return entry, nil
}

// DeleteEntry implements EntryService.DeleteEntry
// Stored images are removed after the entry, best-effort.
func (s *entryServiceImpl) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("entry_id", id.String()))

	entry, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return NewEntryServiceError("delete_entry", "failed to retrieve entry", err)
	}

	if err := s.entries.Delete(ctx, id); err != nil {
		return NewEntryServiceError("delete_entry", "failed to delete entry", err)
	}

	deleteImages(ctx, log, s.images, entry.Images)
	log.Info("entry deleted", slog.Int("image_count", len(entry.Images)))
	return nil
}

// SaveBatch implements EntryService.SaveBatch
func (s *entryServiceImpl) SaveBatch(ctx context.Context, batchID uuid.UUID) (*SaveSummary, error) {
	entries, err := s.entries.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, NewEntryServiceError("save_batch", "failed to list entries", err)
	}

	summary, err := s.coordinator.SaveApproved(ctx, entries)
	if err != nil {
		return nil, NewEntryServiceError("save_batch", "failed to save approved entries", err)
	}
	return summary, nil
}
