package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/events"
	"github.com/phrazzld/medstock-api/internal/platform/memstore"
	"github.com/phrazzld/medstock-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// approvedEntry creates an entry in the store and drives it to approved.
func approvedEntry(t *testing.T, entries *memstore.Store, batchID uuid.UUID, number int, name string) *domain.Entry {
	t.Helper()
	ctx := context.Background()

	entry, err := domain.NewEntry(batchID, number)
	require.NoError(t, err)
	require.NoError(t, entries.Create(ctx, entry))

	img, err := domain.NewEntryImage(entry.ID, "k/"+entry.ID.String(), "front.jpg", 10, "image/jpeg", 0)
	require.NoError(t, err)
	require.NoError(t, entries.AttachImage(ctx, img))

	claimed, err := entries.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	_, err = entries.ApplyAnalysisSuccess(ctx, entry.ID, *claimed.ClaimID, domain.MedicineAttributes{Name: strPtr(name)})
	require.NoError(t, err)
	approved, err := entries.SetApproval(ctx, entry.ID, domain.ApprovalStatusApproved, "pharmacist", "")
	require.NoError(t, err)
	return approved
}

func TestNewApprovalCoordinator_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewApprovalCoordinator(nil, memstore.NewMedications(), nil, nil, nil, testLogger())
	assert.Error(t, err)

	_, err = NewApprovalCoordinator(memstore.New(), nil, nil, nil, nil, testLogger())
	assert.Error(t, err)

	c, err := NewApprovalCoordinator(memstore.New(), memstore.NewMedications(), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSaveApproved_HappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	entries := memstore.New()
	medications := memstore.NewMedications()
	images := new(MockImageStore)
	images.On("Delete", mock.Anything, mock.Anything).Return(nil)
	publisher := &capturePublisher{}
	recorder := &saveRecorder{}

	coordinator, err := NewApprovalCoordinator(entries, medications, images, publisher, recorder, testLogger())
	require.NoError(t, err)

	batchID := uuid.New()
	first := approvedEntry(t, entries, batchID, 1, "Tylenol 500mg")
	second := approvedEntry(t, entries, batchID, 2, "Advil 200mg")

	pending, err := domain.NewEntry(batchID, 3)
	require.NoError(t, err)
	require.NoError(t, entries.Create(ctx, pending))

	summary, err := coordinator.SaveApproved(ctx, []*domain.Entry{first, second, pending})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 0, summary.FailureCount)
	require.Len(t, summary.Outcomes, 2)
	for _, o := range summary.Outcomes {
		assert.Equal(t, OutcomeSaved, o.Status)
		require.NotNil(t, o.RecordID)
		assert.NotEqual(t, uuid.Nil, *o.RecordID)
	}
	assert.Equal(t, 2, medications.Count())

	// Saved entries leave the working set; the unapproved one stays.
	_, err = entries.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
	_, err = entries.GetByID(ctx, pending.ID)
	assert.NoError(t, err)

	images.AssertNumberOfCalls(t, "Delete", 2)

	require.Len(t, publisher.payloads, 1)
	assert.Equal(t, events.TopicBatchSaved, publisher.topics[0])
	assert.Equal(t, events.BatchSaved{BatchID: batchID, SuccessCount: 2}, publisher.payloads[0])
	assert.Equal(t, 2, recorder.succeeded)
}

func TestSaveApproved_PartialFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	entries := memstore.New()
	medications := new(MockMedicationStore)
	publisher := &capturePublisher{}
	recorder := &saveRecorder{}

	coordinator, err := NewApprovalCoordinator(entries, medications, nil, publisher, recorder, testLogger())
	require.NoError(t, err)

	batchID := uuid.New()
	ok1 := approvedEntry(t, entries, batchID, 1, "Tylenol 500mg")
	bad := approvedEntry(t, entries, batchID, 2, "Mystery")
	ok2 := approvedEntry(t, entries, batchID, 3, "Advil 200mg")

	medications.On("CreateRecord", mock.Anything, ok1.ID, mock.Anything).
		Return(&domain.Medication{ID: uuid.New(), SourceEntryID: ok1.ID}, nil)
	medications.On("CreateRecord", mock.Anything, bad.ID, mock.Anything).
		Return(nil, &domain.FieldErrors{Fields: map[string]string{"strength_unit": "is required"}})
	medications.On("CreateRecord", mock.Anything, ok2.ID, mock.Anything).
		Return(&domain.Medication{ID: uuid.New(), SourceEntryID: ok2.ID}, nil)

	summary, err := coordinator.SaveApproved(ctx, []*domain.Entry{ok1, bad, ok2})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	require.Len(t, summary.Outcomes, 3)
	assert.Equal(t, OutcomeRejected, summary.Outcomes[1].Status)
	assert.Equal(t, map[string]string{"strength_unit": "is required"}, summary.Outcomes[1].FieldErrors)

	// The rejected entry is kept for correction.
	kept, err := entries.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, kept.ApprovalStatus)

	_, err = entries.GetByID(ctx, ok1.ID)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
	_, err = entries.GetByID(ctx, ok2.ID)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)

	require.Len(t, publisher.payloads, 1)
	assert.Equal(t, events.BatchSaved{BatchID: batchID, SuccessCount: 2, FailureCount: 1}, publisher.payloads[0])
	assert.Equal(t, 2, recorder.succeeded)
	assert.Equal(t, 1, recorder.failed)
	medications.AssertExpectations(t)
}

func TestSaveApproved_AtMostOncePerEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	entries := memstore.New()
	medications := memstore.NewMedications()

	coordinator, err := NewApprovalCoordinator(entries, medications, nil, nil, nil, testLogger())
	require.NoError(t, err)

	entry := approvedEntry(t, entries, uuid.New(), 1, "Tylenol 500mg")

	// A record exists from an earlier save whose entry removal did not happen.
	existing, err := medications.CreateRecord(ctx, entry.ID, *entry.Results)
	require.NoError(t, err)

	summary, err := coordinator.SaveApproved(ctx, []*domain.Entry{entry})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, medications.Count())
	require.NotNil(t, summary.Outcomes[0].RecordID)
	assert.Equal(t, existing.ID, *summary.Outcomes[0].RecordID)
	_, err = entries.GetByID(ctx, entry.ID)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestSaveApproved_UsesCurrentReview(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	entries := memstore.New()
	medications := memstore.NewMedications()
	publisher := &capturePublisher{}

	coordinator, err := NewApprovalCoordinator(entries, medications, nil, publisher, nil, testLogger())
	require.NoError(t, err)

	batchID := uuid.New()
	flipped := approvedEntry(t, entries, batchID, 1, "Tylenol 500mg")
	edited := approvedEntry(t, entries, batchID, 2, "Advil")

	// Both snapshots say approved; the stored state has moved on.
	_, err = entries.SetApproval(ctx, flipped.ID, domain.ApprovalStatusRejected, "pharmacist", "wrong strength")
	require.NoError(t, err)
	_, err = entries.UpdateResults(ctx, edited.ID, domain.MedicineAttributes{Name: strPtr("Advil 200mg")})
	require.NoError(t, err)

	summary, err := coordinator.SaveApproved(ctx, []*domain.Entry{flipped, edited})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 0, summary.FailureCount)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, edited.ID, summary.Outcomes[0].EntryID)

	record, err := medications.GetBySourceEntry(ctx, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, "Advil 200mg", record.Name)

	_, err = medications.GetBySourceEntry(ctx, flipped.ID)
	assert.ErrorIs(t, err, store.ErrMedicationNotFound)
	kept, err := entries.GetByID(ctx, flipped.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusRejected, kept.ApprovalStatus)
}

func TestSaveApproved_StoreErrorKeepsEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	entries := memstore.New()
	medications := new(MockMedicationStore)
	publisher := &capturePublisher{}

	coordinator, err := NewApprovalCoordinator(entries, medications, nil, publisher, nil, testLogger())
	require.NoError(t, err)

	entry := approvedEntry(t, entries, uuid.New(), 1, "Tylenol 500mg")
	medications.On("CreateRecord", mock.Anything, entry.ID, mock.Anything).
		Return(nil, errors.New("connection refused"))

	summary, err := coordinator.SaveApproved(ctx, []*domain.Entry{entry})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	assert.Equal(t, "connection refused", summary.Outcomes[0].Error)
	assert.Empty(t, publisher.payloads, "no aggregate event without a saved entry")

	_, err = entries.GetByID(ctx, entry.ID)
	assert.NoError(t, err)
}

func TestSaveApproved_CancelledContext(t *testing.T) {
	t.Parallel()

	coordinator, err := NewApprovalCoordinator(memstore.New(), memstore.NewMedications(), nil, nil, nil, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = coordinator.SaveApproved(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommonBatchID(t *testing.T) {
	t.Parallel()

	a, b := uuid.New(), uuid.New()
	assert.Equal(t, a, commonBatchID([]*domain.Entry{{BatchID: a}, nil, {BatchID: a}}))
	assert.Equal(t, uuid.Nil, commonBatchID([]*domain.Entry{{BatchID: a}, {BatchID: b}}))
	assert.Equal(t, uuid.Nil, commonBatchID(nil))
}
