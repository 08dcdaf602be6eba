package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrDuplicateEntryNumber is returned when an entry number is already
	// used within the same batch.
	ErrDuplicateEntryNumber = errors.New("duplicate entry number in batch")

	// ErrNotReadyForAnalysis is returned when an entry cannot be claimed for
	// analysis: it is not pending, or it has no images yet.
	ErrNotReadyForAnalysis = errors.New("entry not ready for analysis")

	// ErrNotReviewable is returned when an approval decision or result edit
	// is attempted on an entry whose analysis is not complete.
	ErrNotReviewable = errors.New("entry not reviewable")

	// ErrInvalidTransition is returned when a state transition's precondition
	// on the current analysis status does not hold.
	ErrInvalidTransition = errors.New("invalid entry state transition")

	// ErrClaimSuperseded is returned when an analysis outcome is recorded
	// under a claim that is no longer the entry's current one.
	ErrClaimSuperseded = errors.New("analysis claim superseded")

	// ErrInvariantViolation is returned by CheckInvariants.
	ErrInvariantViolation = errors.New("entry invariant violated")
)
