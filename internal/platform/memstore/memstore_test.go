package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createEntry(t *testing.T, s *Store, batchID uuid.UUID, number int) *domain.Entry {
	t.Helper()
	entry, err := domain.NewEntry(batchID, number)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), entry))
	return entry
}

func attach(t *testing.T, s *Store, entryID uuid.UUID, key string, order int) {
	t.Helper()
	img, err := domain.NewEntryImage(entryID, key, key, 10, "image/jpeg", order)
	require.NoError(t, err)
	require.NoError(t, s.AttachImage(context.Background(), img))
}

func TestCreateRejectsDuplicateEntryNumber(t *testing.T) {
	t.Parallel()

	s := New()
	batchID := uuid.New()
	createEntry(t, s, batchID, 1)

	dup, err := domain.NewEntry(batchID, 1)
	require.NoError(t, err)
	err = s.Create(context.Background(), dup)
	assert.ErrorIs(t, err, store.ErrEntryNumberExists)
	assert.ErrorIs(t, err, domain.ErrDuplicateEntryNumber)

	_, err = s.GetByID(context.Background(), dup.ID)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)

	other := createEntry(t, s, uuid.New(), 1)
	assert.NotEqual(t, uuid.Nil, other.ID)
}

func TestImagesAreReturnedInUploadOrder(t *testing.T) {
	t.Parallel()

	s := New()
	entry := createEntry(t, s, uuid.New(), 1)
	attach(t, s, entry.ID, "imgB", 1)
	attach(t, s, entry.ID, "imgA", 0)

	got, err := s.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Len(t, got.Images, 2)
	assert.Equal(t, "imgA", got.Images[0].StorageKey)
	assert.Equal(t, "imgB", got.Images[1].StorageKey)

	next, err := s.NextUploadOrder(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	img, err := domain.NewEntryImage(uuid.New(), "k", "k", 10, "image/png", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AttachImage(context.Background(), img), store.ErrEntryNotFound)
}

func TestConcurrentMarkProcessingHasOneWinner(t *testing.T) {
	t.Parallel()

	s := New()
	entry := createEntry(t, s, uuid.New(), 1)
	attach(t, s, entry.ID, "front", 0)

	var wins, notReady atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.MarkProcessing(context.Background(), entry.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrNotReadyForAnalysis):
				notReady.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), notReady.Load())
}

func TestMarkProcessingRequiresImages(t *testing.T) {
	t.Parallel()

	s := New()
	entry := createEntry(t, s, uuid.New(), 1)

	_, err := s.MarkProcessing(context.Background(), entry.ID)
	assert.ErrorIs(t, err, domain.ErrNotReadyForAnalysis)

	_, err = s.MarkProcessing(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestTransitionsAndCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	entry := createEntry(t, s, uuid.New(), 1)
	attach(t, s, entry.ID, "front", 0)

	claimed, err := s.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimID)

	name := "Tylenol"
	done, err := s.ApplyAnalysisSuccess(ctx, entry.ID, *claimed.ClaimID, domain.MedicineAttributes{Name: &name})
	require.NoError(t, err)

	other := "Mutated"
	done.Results.Name = &other
	done.Images[0].StorageKey = "changed"

	fresh, err := s.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tylenol", *fresh.Results.Name)
	assert.Equal(t, "front", fresh.Images[0].StorageKey)

	_, err = s.ApplyAnalysisFailure(ctx, entry.ID, *claimed.ClaimID, "late failure")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	reviewed, err := s.SetApproval(ctx, entry.ID, domain.ApprovalStatusApproved, "pharmacist", "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, reviewed.ApprovalStatus)
}

func TestFailureRetryCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	entry := createEntry(t, s, uuid.New(), 1)
	attach(t, s, entry.ID, "front", 0)

	claimed, err := s.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	failed, err := s.ApplyAnalysisFailure(ctx, entry.ID, *claimed.ClaimID, "could not parse AI response")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusFailed, failed.AnalysisStatus)

	_, err = s.SetApproval(ctx, entry.ID, domain.ApprovalStatusApproved, "", "")
	assert.ErrorIs(t, err, domain.ErrNotReviewable)

	retried, err := s.RetryAnalysis(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusPending, retried.AnalysisStatus)
	assert.Nil(t, retried.ErrorMessage)

	ids, err := s.ListDispatchable(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{entry.ID}, ids)
}

func TestSupersededClaimCannotWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	entry := createEntry(t, s, uuid.New(), 1)
	attach(t, s, entry.ID, "front", 0)

	first, err := s.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)
	_, err = s.ApplyAnalysisFailure(ctx, entry.ID, *first.ClaimID, "analysis interrupted")
	require.NoError(t, err)
	_, err = s.RetryAnalysis(ctx, entry.ID)
	require.NoError(t, err)
	second, err := s.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)

	name := "Stale"
	_, err = s.ApplyAnalysisSuccess(ctx, entry.ID, *first.ClaimID, domain.MedicineAttributes{Name: &name})
	assert.ErrorIs(t, err, domain.ErrClaimSuperseded)

	current, err := s.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusProcessing, current.AnalysisStatus)
	assert.Equal(t, *second.ClaimID, *current.ClaimID)
}

func TestFindByAnalysisStatusAgeFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	entry := createEntry(t, s, uuid.New(), 1)
	attach(t, s, entry.ID, "front", 0)
	_, err := s.MarkProcessing(ctx, entry.ID)
	require.NoError(t, err)

	stuck, err := s.FindByAnalysisStatus(ctx, domain.AnalysisStatusProcessing, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stuck, 1)

	stuck, err = s.FindByAnalysisStatus(ctx, domain.AnalysisStatusProcessing, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	all, err := s.FindByAnalysisStatus(ctx, domain.AnalysisStatusProcessing, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteCascadesImages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	batchID := uuid.New()
	entry := createEntry(t, s, batchID, 1)
	attach(t, s, entry.ID, "front", 0)

	require.NoError(t, s.Delete(ctx, entry.ID))
	images, err := s.ListImages(ctx, entry.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.ErrorIs(t, s.Delete(ctx, entry.ID), store.ErrEntryNotFound)

	createEntry(t, s, batchID, 1)
}

func TestMedications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMedications()
	entryID := uuid.New()
	name := "Advil"

	med, err := m.CreateRecord(ctx, entryID, domain.MedicineAttributes{Name: &name})
	require.NoError(t, err)
	_, err = m.CreateRecord(ctx, entryID, domain.MedicineAttributes{Name: &name})
	assert.ErrorIs(t, err, store.ErrMedicationExists)

	got, err := m.GetByID(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, "Advil", got.Name)
	assert.Equal(t, 1, m.Count())

	bySource, err := m.GetBySourceEntry(ctx, entryID)
	require.NoError(t, err)
	assert.Equal(t, med.ID, bySource.ID)
	_, err = m.GetBySourceEntry(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrMedicationNotFound)

	_, err = m.CreateRecord(ctx, uuid.New(), domain.MedicineAttributes{})
	var fe *domain.FieldErrors
	assert.True(t, errors.As(err, &fe))
}
