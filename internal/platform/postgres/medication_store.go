package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/store"
)

const medicationColumns = `id, source_entry_id, name, brand_name, generic_name, dosage_form, active_ingredient,
	strength_value, strength_unit, container_type, total_quantity, quantity_unit, manufacturer,
	lot_number, expiration_date, created_at`

// PostgresMedicationStore implements the store.MedicationStore interface.
type PostgresMedicationStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresMedicationStore creates a new PostgreSQL implementation of the MedicationStore interface.
func NewPostgresMedicationStore(db store.DBTX, logger *slog.Logger) *PostgresMedicationStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresMedicationStore{
		db:     db,
		logger: logger.With(slog.String("component", "medication_store")),
	}
}

var _ store.MedicationStore = (*PostgresMedicationStore)(nil)

// CreateRecord implements store.MedicationStore.CreateRecord
func (s *PostgresMedicationStore) CreateRecord(
	ctx context.Context,
	sourceEntryID uuid.UUID,
	attrs domain.MedicineAttributes,
) (*domain.Medication, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	med := domain.NewMedication(sourceEntryID, attrs)
	if err := med.Validate(); err != nil {
		log.Debug("medication validation failed",
			slog.String("source_entry_id", sourceEntryID.String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	query := `INSERT INTO medications (` + medicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := s.db.ExecContext(ctx, query,
		med.ID, med.SourceEntryID, med.Name, nullable(med.BrandName), nullable(med.GenericName),
		nullable(med.DosageForm), nullable(med.ActiveIngredient), med.StrengthValue,
		nullable(med.StrengthUnit), nullable(med.ContainerType), med.TotalQuantity,
		nullable(med.QuantityUnit), nullable(med.Manufacturer), nullable(med.LotNumber),
		nullable(med.ExpirationDate), med.CreatedAt,
	)
	if err != nil {
		log.Warn("failed to insert medication",
			slog.String("source_entry_id", sourceEntryID.String()),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return med, nil
}

// GetByID implements store.MedicationStore.GetByID
func (s *PostgresMedicationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Medication, error) {
	return s.getOne(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id = $1`, id)
}

// GetBySourceEntry implements store.MedicationStore.GetBySourceEntry
func (s *PostgresMedicationStore) GetBySourceEntry(
	ctx context.Context,
	sourceEntryID uuid.UUID,
) (*domain.Medication, error) {
	return s.getOne(ctx, `SELECT `+medicationColumns+` FROM medications WHERE source_entry_id = $1`, sourceEntryID)
}

func (s *PostgresMedicationStore) getOne(ctx context.Context, query string, arg any) (*domain.Medication, error) {
	var (
		med                                                  domain.Medication
		brand, generic, form, ingredient, strengthUnit       sql.NullString
		container, quantityUnit, manufacturer, lot, expireAt sql.NullString
		strength, quantity                                   sql.NullFloat64
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&med.ID, &med.SourceEntryID, &med.Name, &brand, &generic, &form, &ingredient,
		&strength, &strengthUnit, &container, &quantity, &quantityUnit, &manufacturer,
		&lot, &expireAt, &med.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMedicationNotFound
		}
		return nil, MapError(err)
	}

	med.BrandName = brand.String
	med.GenericName = generic.String
	med.DosageForm = form.String
	med.ActiveIngredient = ingredient.String
	med.StrengthUnit = strengthUnit.String
	med.ContainerType = container.String
	med.QuantityUnit = quantityUnit.String
	med.Manufacturer = manufacturer.String
	med.LotNumber = lot.String
	med.ExpirationDate = expireAt.String
	if strength.Valid {
		med.StrengthValue = &strength.Float64
	}
	if quantity.Valid {
		med.TotalQuantity = &quantity.Float64
	}
	return &med, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
