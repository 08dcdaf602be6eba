package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus represents the state of the AI analysis of an entry.
type AnalysisStatus string

// Possible analysis status values
const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusComplete   AnalysisStatus = "complete"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// EntryStatus represents the overall lifecycle state of an entry.
// It is derived from AnalysisStatus on every transition.
type EntryStatus string

// Possible entry status values
const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusComplete   EntryStatus = "complete"
	EntryStatusFailed     EntryStatus = "failed"
)

// ApprovalStatus represents the human review decision on an entry.
type ApprovalStatus string

// Possible approval status values
const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Entry validation errors
var (
	ErrEntryIDEmpty        = errors.New("entry ID cannot be empty")
	ErrEntryBatchIDEmpty   = errors.New("entry batch ID cannot be empty")
	ErrInvalidEntryNumber  = errors.New("entry number must be positive")
	ErrInvalidEntryStatus  = errors.New("invalid entry status")
	ErrInvalidDecision     = errors.New("approval decision must be approved or rejected")
	ErrEmptyAnalysisResult = errors.New("analysis result cannot be empty")
)

// Entry represents one physical medicine item moving through
// upload, analysis, review and save within a batch.
type Entry struct {
	ID             uuid.UUID           `json:"id"`
	BatchID        uuid.UUID           `json:"batch_id"`
	EntryNumber    int                 `json:"entry_number"`
	Status         EntryStatus         `json:"status"`
	AnalysisStatus AnalysisStatus      `json:"ai_analysis_status"`
	Results        *MedicineAttributes `json:"ai_results,omitempty"`
	ErrorMessage   *string             `json:"error_message,omitempty"`
	ApprovalStatus ApprovalStatus      `json:"approval_status"`
	ReviewedBy     *string             `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time          `json:"reviewed_at,omitempty"`
	ReviewNotes    *string             `json:"review_notes,omitempty"`
	ClaimID        *uuid.UUID          `json:"-"`
	Images         []EntryImage        `json:"images,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewEntry creates a new Entry in the initial (pending, pending, pending) state.
// Returns an error if validation fails.
func NewEntry(batchID uuid.UUID, entryNumber int) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:             uuid.New(),
		BatchID:        batchID,
		EntryNumber:    entryNumber,
		Status:         EntryStatusPending,
		AnalysisStatus: AnalysisStatusPending,
		ApprovalStatus: ApprovalStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the Entry has valid identity and status fields.
func (e *Entry) Validate() error {
	if e.ID == uuid.Nil {
		return ErrEntryIDEmpty
	}

	if e.BatchID == uuid.Nil {
		return ErrEntryBatchIDEmpty
	}

	if e.EntryNumber < 1 {
		return ErrInvalidEntryNumber
	}

	if !isValidAnalysisStatus(e.AnalysisStatus) || !isValidApprovalStatus(e.ApprovalStatus) {
		return ErrInvalidEntryStatus
	}

	return nil
}

// CheckInvariants verifies the cross-field invariants that every entry at
// rest must satisfy.
func (e *Entry) CheckInvariants() error {
	if e.ApprovalStatus == ApprovalStatusApproved && e.AnalysisStatus != AnalysisStatusComplete {
		return fmt.Errorf("%w: approved entry with analysis status %s", ErrInvariantViolation, e.AnalysisStatus)
	}

	if (e.Results != nil) != (e.AnalysisStatus == AnalysisStatusComplete) {
		return fmt.Errorf("%w: results presence does not match analysis status %s",
			ErrInvariantViolation, e.AnalysisStatus)
	}

	if (e.ErrorMessage != nil) != (e.AnalysisStatus == AnalysisStatusFailed) {
		return fmt.Errorf("%w: error message presence does not match analysis status %s",
			ErrInvariantViolation, e.AnalysisStatus)
	}

	if (e.ClaimID != nil) != (e.AnalysisStatus == AnalysisStatusProcessing) {
		return fmt.Errorf("%w: claim presence does not match analysis status %s",
			ErrInvariantViolation, e.AnalysisStatus)
	}

	return nil
}

// MarkProcessing claims the entry for analysis. The entry must be pending
// and own at least one image. Each claim gets a fresh ClaimID that the
// outcome must present.
func (e *Entry) MarkProcessing(imageCount int) error {
	if e.AnalysisStatus != AnalysisStatusPending || imageCount == 0 {
		return fmt.Errorf("%w: status %s, %d images", ErrNotReadyForAnalysis, e.AnalysisStatus, imageCount)
	}

	claim := uuid.New()
	e.ClaimID = &claim
	e.setAnalysisStatus(AnalysisStatusProcessing)
	return nil
}

// checkClaim verifies the entry is processing under the given claim.
func (e *Entry) checkClaim(claim uuid.UUID, action string) error {
	if e.AnalysisStatus != AnalysisStatusProcessing {
		return fmt.Errorf("%w: cannot %s analysis from %s", ErrInvalidTransition, action, e.AnalysisStatus)
	}
	if e.ClaimID == nil || *e.ClaimID != claim {
		return fmt.Errorf("%w: claim %s is no longer current", ErrClaimSuperseded, claim)
	}
	return nil
}

// ApplySuccess records a completed analysis with its canonical attributes.
func (e *Entry) ApplySuccess(claim uuid.UUID, results MedicineAttributes) error {
	if err := e.checkClaim(claim, "complete"); err != nil {
		return err
	}

	if results.IsEmpty() {
		return ErrEmptyAnalysisResult
	}

	e.Results = &results
	e.ErrorMessage = nil
	e.ClaimID = nil
	e.setAnalysisStatus(AnalysisStatusComplete)
	return nil
}

// ApplyFailure records a failed analysis with a user-facing message.
func (e *Entry) ApplyFailure(claim uuid.UUID, message string) error {
	if err := e.checkClaim(claim, "fail"); err != nil {
		return err
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = "analysis failed"
	}

	e.Results = nil
	e.ErrorMessage = &message
	e.ClaimID = nil
	e.setAnalysisStatus(AnalysisStatusFailed)
	return nil
}

// ResetForRetry returns a failed entry to the dispatch pool.
func (e *Entry) ResetForRetry() error {
	if e.AnalysisStatus != AnalysisStatusFailed {
		return fmt.Errorf("%w: can only retry failed analysis, status is %s",
			ErrInvalidTransition, e.AnalysisStatus)
	}

	e.ErrorMessage = nil
	e.setAnalysisStatus(AnalysisStatusPending)
	return nil
}

// SetApproval records a human review decision. Only entries with a complete
// analysis can be reviewed.
func (e *Entry) SetApproval(decision ApprovalStatus, reviewer, notes string) error {
	if decision != ApprovalStatusApproved && decision != ApprovalStatusRejected {
		return ErrInvalidDecision
	}

	if e.AnalysisStatus != AnalysisStatusComplete {
		return fmt.Errorf("%w: analysis status is %s", ErrNotReviewable, e.AnalysisStatus)
	}

	now := time.Now().UTC()
	e.ApprovalStatus = decision
	e.ReviewedAt = &now
	e.ReviewedBy = optionalString(reviewer)
	e.ReviewNotes = optionalString(notes)
	e.UpdatedAt = now
	return nil
}

// UpdateResults replaces the extracted attributes with a human-edited set.
func (e *Entry) UpdateResults(results MedicineAttributes) error {
	if e.AnalysisStatus != AnalysisStatusComplete {
		return fmt.Errorf("%w: analysis status is %s", ErrNotReviewable, e.AnalysisStatus)
	}

	if results.IsEmpty() {
		return ErrEmptyAnalysisResult
	}

	e.Results = &results
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (e *Entry) setAnalysisStatus(status AnalysisStatus) {
	e.AnalysisStatus = status
	e.Status = EntryStatus(status)
	e.UpdatedAt = time.Now().UTC()
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func isValidAnalysisStatus(status AnalysisStatus) bool {
	switch status {
	case AnalysisStatusPending, AnalysisStatusProcessing, AnalysisStatusComplete, AnalysisStatusFailed:
		return true
	default:
		return false
	}
}

func isValidApprovalStatus(status ApprovalStatus) bool {
	switch status {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	default:
		return false
	}
}

// ParseApprovalDecision converts user input into an approval decision.
func ParseApprovalDecision(s string) (ApprovalStatus, error) {
	switch ApprovalStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ApprovalStatusApproved:
		return ApprovalStatusApproved, nil
	case ApprovalStatusRejected:
		return ApprovalStatusRejected, nil
	default:
		return "", ErrInvalidDecision
	}
}
