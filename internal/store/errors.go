package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/medstock-api/internal/domain"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails.
	ErrUpdateFailed = errors.New("update failed")

	// ErrDeleteFailed is returned when a delete operation fails.
	ErrDeleteFailed = errors.New("delete failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrEntryNotFound indicates that the requested entry does not exist.
	ErrEntryNotFound = fmt.Errorf("%w: entry", ErrNotFound)

	// ErrEntryImageNotFound indicates that the requested entry image does not exist.
	ErrEntryImageNotFound = fmt.Errorf("%w: entry image", ErrNotFound)

	// ErrMedicationNotFound indicates that the requested medication record does not exist.
	ErrMedicationNotFound = fmt.Errorf("%w: medication", ErrNotFound)

	// ErrEntryNumberExists is returned when (batch_id, entry_number) is already taken.
	ErrEntryNumberExists = fmt.Errorf("%w: %w", ErrDuplicate, domain.ErrDuplicateEntryNumber)

	// ErrMedicationExists is returned when a record was already created from
	// the same source entry.
	ErrMedicationExists = fmt.Errorf("%w: medication for entry", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "entry", "medication")
	Operation string // The operation that failed (e.g., "create", "mark_processing")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
