package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/store"
)

const entryColumns = `id, batch_id, entry_number, status, ai_analysis_status, ai_results, error_message,
	approval_status, reviewed_by, reviewed_at, review_notes, analysis_claim_id, created_at, updated_at`

const imageColumns = `id, entry_id, storage_key, original_filename, file_size, content_type, upload_order, created_at`

// PostgresEntryStore implements the store.EntryStore interface
// using a PostgreSQL database as the storage backend.
type PostgresEntryStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresEntryStore creates a new PostgreSQL implementation of the EntryStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresEntryStore(db *sql.DB, logger *slog.Logger) *PostgresEntryStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresEntryStore{
		db:     db,
		logger: logger.With(slog.String("component", "entry_store")),
	}
}

// Ensure PostgresEntryStore implements store.EntryStore interface
var _ store.EntryStore = (*PostgresEntryStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.Entry, error) {
	var (
		e            domain.Entry
		results      []byte
		errorMessage sql.NullString
		reviewedBy   sql.NullString
		reviewedAt   sql.NullTime
		reviewNotes  sql.NullString
		claimID      uuid.NullUUID
	)

	err := row.Scan(
		&e.ID, &e.BatchID, &e.EntryNumber, &e.Status, &e.AnalysisStatus, &results, &errorMessage,
		&e.ApprovalStatus, &reviewedBy, &reviewedAt, &reviewNotes, &claimID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		var attrs domain.MedicineAttributes
		if err := json.Unmarshal(results, &attrs); err != nil {
			return nil, fmt.Errorf("failed to decode ai_results for entry %s: %w", e.ID, err)
		}
		e.Results = &attrs
	}
	e.ErrorMessage = nullStringPtr(errorMessage)
	e.ReviewedBy = nullStringPtr(reviewedBy)
	e.ReviewNotes = nullStringPtr(reviewNotes)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		e.ReviewedAt = &t
	}
	if claimID.Valid {
		claim := claimID.UUID
		e.ClaimID = &claim
	}
	return &e, nil
}

func scanImage(row rowScanner) (domain.EntryImage, error) {
	var img domain.EntryImage
	err := row.Scan(
		&img.ID, &img.EntryID, &img.StorageKey, &img.OriginalFilename,
		&img.FileSize, &img.ContentType, &img.UploadOrder, &img.CreatedAt,
	)
	return img, err
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func marshalResults(results *domain.MedicineAttributes) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	return json.Marshal(results)
}

// Create implements store.EntryStore.Create
func (s *PostgresEntryStore) Create(ctx context.Context, entry *domain.Entry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		log.Warn("entry validation failed during create",
			slog.String("error", err.Error()),
			slog.String("entry_id", entry.ID.String()))
		return err
	}

	results, err := marshalResults(entry.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	query := `
		INSERT INTO entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.BatchID, entry.EntryNumber, entry.Status, entry.AnalysisStatus,
		results, entry.ErrorMessage, entry.ApprovalStatus, entry.ReviewedBy, entry.ReviewedAt,
		entry.ReviewNotes, entry.ClaimID, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert entry",
			slog.String("error", err.Error()),
			slog.String("batch_id", entry.BatchID.String()),
			slog.Int("entry_number", entry.EntryNumber))
		return MapError(err)
	}

	log.Debug("entry created",
		slog.String("entry_id", entry.ID.String()),
		slog.String("batch_id", entry.BatchID.String()))
	return nil
}

// GetByID implements store.EntryStore.GetByID
func (s *PostgresEntryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id = $1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEntryNotFound
		}
		return nil, MapError(err)
	}

	images, err := s.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.Images = images
	return entry, nil
}

// ListByBatch implements store.EntryStore.ListByBatch
func (s *PostgresEntryStore) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Entry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + entryColumns + ` FROM entries WHERE batch_id = $1 ORDER BY entry_number ASC`
	entries, err := s.queryEntries(ctx, query, batchID)
	if err != nil {
		log.Error("failed to list batch entries",
			slog.String("batch_id", batchID.String()),
			slog.String("error", err.Error()))
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	imageQuery := `
		SELECT i.id, i.entry_id, i.storage_key, i.original_filename, i.file_size,
			i.content_type, i.upload_order, i.created_at
		FROM entry_images i
		JOIN entries e ON e.id = i.entry_id
		WHERE e.batch_id = $1
		ORDER BY i.entry_id, i.upload_order ASC
	`
	images, err := s.queryImages(ctx, imageQuery, batchID)
	if err != nil {
		return nil, err
	}

	byEntry := make(map[uuid.UUID][]domain.EntryImage, len(entries))
	for _, img := range images {
		byEntry[img.EntryID] = append(byEntry[img.EntryID], img)
	}
	for _, e := range entries {
		e.Images = byEntry[e.ID]
	}
	return entries, nil
}

// FindByAnalysisStatus implements store.EntryStore.FindByAnalysisStatus
func (s *PostgresEntryStore) FindByAnalysisStatus(
	ctx context.Context,
	status domain.AnalysisStatus,
	olderThan time.Time,
	limit int,
) ([]*domain.Entry, error) {
	if olderThan.IsZero() {
		query := `SELECT ` + entryColumns + ` FROM entries
			WHERE ai_analysis_status = $1
			ORDER BY updated_at ASC
			LIMIT $2`
		return s.queryEntries(ctx, query, status, limit)
	}

	query := `SELECT ` + entryColumns + ` FROM entries
		WHERE ai_analysis_status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	return s.queryEntries(ctx, query, status, olderThan, limit)
}

// ListDispatchable implements store.EntryStore.ListDispatchable
func (s *PostgresEntryStore) ListDispatchable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT e.id FROM entries e
		WHERE e.ai_analysis_status = 'pending'
			AND EXISTS (SELECT 1 FROM entry_images i WHERE i.entry_id = e.id)
		ORDER BY e.updated_at ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresEntryStore) queryEntries(ctx context.Context, query string, args ...any) ([]*domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*domain.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresEntryStore) queryImages(ctx context.Context, query string, args ...any) ([]domain.EntryImage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	images := []domain.EntryImage{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating image rows: %w", err)
	}
	return images, nil
}

// AttachImage implements store.EntryStore.AttachImage
func (s *PostgresEntryStore) AttachImage(ctx context.Context, image *domain.EntryImage) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := image.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO entry_images (` + imageColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		image.ID, image.EntryID, image.StorageKey, image.OriginalFilename,
		image.FileSize, image.ContentType, image.UploadOrder, image.CreatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return store.ErrEntryNotFound
		}
		log.Error("failed to insert entry image",
			slog.String("entry_id", image.EntryID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// ListImages implements store.EntryStore.ListImages
func (s *PostgresEntryStore) ListImages(ctx context.Context, entryID uuid.UUID) ([]domain.EntryImage, error) {
	query := `SELECT ` + imageColumns + ` FROM entry_images WHERE entry_id = $1 ORDER BY upload_order ASC`
	return s.queryImages(ctx, query, entryID)
}

// GetImage implements store.EntryStore.GetImage
func (s *PostgresEntryStore) GetImage(ctx context.Context, imageID uuid.UUID) (*domain.EntryImage, error) {
	query := `SELECT ` + imageColumns + ` FROM entry_images WHERE id = $1`
	img, err := scanImage(s.db.QueryRowContext(ctx, query, imageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEntryImageNotFound
		}
		return nil, MapError(err)
	}
	return &img, nil
}

// DeleteImage implements store.EntryStore.DeleteImage
func (s *PostgresEntryStore) DeleteImage(ctx context.Context, imageID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entry_images WHERE id = $1`, imageID)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrEntryImageNotFound)
}

// NextUploadOrder implements store.EntryStore.NextUploadOrder
func (s *PostgresEntryStore) NextUploadOrder(ctx context.Context, entryID uuid.UUID) (int, error) {
	var next int
	query := `SELECT COALESCE(MAX(upload_order) + 1, 0) FROM entry_images WHERE entry_id = $1`
	if err := s.db.QueryRowContext(ctx, query, entryID).Scan(&next); err != nil {
		return 0, MapError(err)
	}
	return next, nil
}

// MarkProcessing implements store.EntryStore.MarkProcessing.
// The claim is one conditional UPDATE that also stamps a fresh claim ID;
// when it matches nothing a second query tells a missing entry apart from
// one that is not ready.
func (s *PostgresEntryStore) MarkProcessing(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE entries
		SET ai_analysis_status = 'processing', status = 'processing', updated_at = $2,
			analysis_claim_id = $3
		WHERE id = $1
			AND ai_analysis_status = 'pending'
			AND EXISTS (SELECT 1 FROM entry_images WHERE entry_id = $1)
		RETURNING ` + entryColumns

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id, time.Now().UTC(), uuid.New()))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Error("failed to claim entry for analysis",
				slog.String("entry_id", id.String()),
				slog.String("error", err.Error()))
			return nil, MapError(err)
		}

		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM entries WHERE id = $1)`, id).
			Scan(&exists); err != nil {
			return nil, MapError(err)
		}
		if !exists {
			return nil, store.ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: entry %s is not pending or has no images", domain.ErrNotReadyForAnalysis, id)
	}

	images, err := s.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.Images = images
	return entry, nil
}

// ApplyAnalysisSuccess implements store.EntryStore.ApplyAnalysisSuccess
func (s *PostgresEntryStore) ApplyAnalysisSuccess(
	ctx context.Context,
	id, claim uuid.UUID,
	results domain.MedicineAttributes,
) (*domain.Entry, error) {
	return s.transition(ctx, id, "apply_success", func(e *domain.Entry) error {
		return e.ApplySuccess(claim, results)
	})
}

// ApplyAnalysisFailure implements store.EntryStore.ApplyAnalysisFailure
func (s *PostgresEntryStore) ApplyAnalysisFailure(
	ctx context.Context,
	id, claim uuid.UUID,
	message string,
) (*domain.Entry, error) {
	return s.transition(ctx, id, "apply_failure", func(e *domain.Entry) error {
		return e.ApplyFailure(claim, message)
	})
}

// RetryAnalysis implements store.EntryStore.RetryAnalysis
func (s *PostgresEntryStore) RetryAnalysis(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	return s.transition(ctx, id, "retry", func(e *domain.Entry) error {
		return e.ResetForRetry()
	})
}

// SetApproval implements store.EntryStore.SetApproval
func (s *PostgresEntryStore) SetApproval(
	ctx context.Context,
	id uuid.UUID,
	decision domain.ApprovalStatus,
	reviewer, notes string,
) (*domain.Entry, error) {
	return s.transition(ctx, id, "set_approval", func(e *domain.Entry) error {
		return e.SetApproval(decision, reviewer, notes)
	})
}

// UpdateResults implements store.EntryStore.UpdateResults
func (s *PostgresEntryStore) UpdateResults(
	ctx context.Context,
	id uuid.UUID,
	results domain.MedicineAttributes,
) (*domain.Entry, error) {
	return s.transition(ctx, id, "update_results", func(e *domain.Entry) error {
		return e.UpdateResults(results)
	})
}

// transition locks the entry row, applies fn and writes the result back in
// one transaction.
func (s *PostgresEntryStore) transition(
	ctx context.Context,
	id uuid.UUID,
	op string,
	fn func(e *domain.Entry) error,
) (*domain.Entry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("entry_id", id.String()),
		slog.String("operation", op))

	var updated *domain.Entry
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `SELECT ` + entryColumns + ` FROM entries WHERE id = $1 FOR UPDATE`
		entry, err := scanEntry(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrEntryNotFound
			}
			return MapError(err)
		}

		if err := fn(entry); err != nil {
			return err
		}
		if err := entry.CheckInvariants(); err != nil {
			return err
		}

		results, err := marshalResults(entry.Results)
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}

		update := `
			UPDATE entries
			SET status = $2, ai_analysis_status = $3, ai_results = $4, error_message = $5,
				approval_status = $6, reviewed_by = $7, reviewed_at = $8, review_notes = $9,
				analysis_claim_id = $10, updated_at = $11
			WHERE id = $1
		`
		result, err := tx.ExecContext(ctx, update,
			entry.ID, entry.Status, entry.AnalysisStatus, results, entry.ErrorMessage,
			entry.ApprovalStatus, entry.ReviewedBy, entry.ReviewedAt, entry.ReviewNotes,
			entry.ClaimID, entry.UpdatedAt,
		)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(result, store.ErrEntryNotFound); err != nil {
			return err
		}

		updated = entry
		return nil
	})
	if err != nil {
		log.Debug("entry transition rejected", slog.String("error", err.Error()))
		return nil, err
	}

	images, err := s.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	updated.Images = images
	return updated, nil
}

// Delete implements store.EntryStore.Delete
func (s *PostgresEntryStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete entry",
			slog.String("entry_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrEntryNotFound)
}
