package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
)

// MedicationStore persists inventory records created from approved entries.
type MedicationStore interface {
	// CreateRecord validates and stores a record built from attrs.
	// Returns *domain.FieldErrors when validation fails and
	// ErrMedicationExists when a record already exists for sourceEntryID.
	CreateRecord(
		ctx context.Context,
		sourceEntryID uuid.UUID,
		attrs domain.MedicineAttributes,
	) (*domain.Medication, error)

	// GetByID retrieves a record.
	// Returns ErrMedicationNotFound if the record does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Medication, error)

	// GetBySourceEntry retrieves the record created from an entry.
	// Returns ErrMedicationNotFound if the entry produced no record.
	GetBySourceEntry(ctx context.Context, sourceEntryID uuid.UUID) (*domain.Medication, error)
}
