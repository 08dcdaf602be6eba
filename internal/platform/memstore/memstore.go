// Package memstore is an in-memory implementation of the entry and
// medication stores. It backs local runs without a database URL and the
// service and task tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/store"
)

type batchNumber struct {
	batchID uuid.UUID
	number  int
}

// Store holds entries and their images behind one mutex.
// Everything it returns is a copy.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.Entry
	numbers map[batchNumber]uuid.UUID
	images  map[uuid.UUID][]domain.EntryImage
}

var _ store.EntryStore = (*Store)(nil)

// New returns an empty entry store.
func New() *Store {
	return &Store{
		entries: make(map[uuid.UUID]*domain.Entry),
		numbers: make(map[batchNumber]uuid.UUID),
		images:  make(map[uuid.UUID][]domain.EntryImage),
	}
}

func copyEntry(e *domain.Entry, images []domain.EntryImage) *domain.Entry {
	c := *e
	if e.Results != nil {
		r := *e.Results
		c.Results = &r
	}
	if e.ClaimID != nil {
		claim := *e.ClaimID
		c.ClaimID = &claim
	}
	if len(images) > 0 {
		c.Images = append([]domain.EntryImage(nil), images...)
	} else {
		c.Images = nil
	}
	return &c
}

// Create implements store.EntryStore.
func (s *Store) Create(_ context.Context, entry *domain.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchNumber{batchID: entry.BatchID, number: entry.EntryNumber}
	if _, taken := s.numbers[key]; taken {
		return store.ErrEntryNumberExists
	}
	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("%w: entry %s", store.ErrDuplicate, entry.ID)
	}

	s.entries[entry.ID] = copyEntry(entry, nil)
	s.numbers[key] = entry.ID
	return nil
}

// GetByID implements store.EntryStore.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	return copyEntry(e, s.images[id]), nil
}

// ListByBatch implements store.EntryStore.
func (s *Store) ListByBatch(_ context.Context, batchID uuid.UUID) ([]*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.Entry{}
	for id, e := range s.entries {
		if e.BatchID == batchID {
			out = append(out, copyEntry(e, s.images[id]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryNumber < out[j].EntryNumber })
	return out, nil
}

// FindByAnalysisStatus implements store.EntryStore.
func (s *Store) FindByAnalysisStatus(
	_ context.Context,
	status domain.AnalysisStatus,
	olderThan time.Time,
	limit int,
) ([]*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.Entry{}
	for id, e := range s.entries {
		if e.AnalysisStatus != status {
			continue
		}
		if !olderThan.IsZero() && !e.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, copyEntry(e, s.images[id]))
	}
	sortByUpdated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDispatchable implements store.EntryStore.
func (s *Store) ListDispatchable(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Entry
	for id, e := range s.entries {
		if e.AnalysisStatus == domain.AnalysisStatusPending && len(s.images[id]) > 0 {
			pending = append(pending, e)
		}
	}
	sortByUpdated(pending)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func sortByUpdated(entries []*domain.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
	})
}

// AttachImage implements store.EntryStore.
func (s *Store) AttachImage(_ context.Context, image *domain.EntryImage) error {
	if err := image.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[image.EntryID]; !ok {
		return store.ErrEntryNotFound
	}
	for _, existing := range s.images[image.EntryID] {
		if existing.UploadOrder == image.UploadOrder {
			return fmt.Errorf("%w: upload order %d", store.ErrDuplicate, image.UploadOrder)
		}
	}

	images := append(s.images[image.EntryID], *image)
	sort.SliceStable(images, func(i, j int) bool { return images[i].UploadOrder < images[j].UploadOrder })
	s.images[image.EntryID] = images
	return nil
}

// ListImages implements store.EntryStore.
func (s *Store) ListImages(_ context.Context, entryID uuid.UUID) ([]domain.EntryImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EntryImage{}, s.images[entryID]...), nil
}

// GetImage implements store.EntryStore.
func (s *Store) GetImage(_ context.Context, imageID uuid.UUID) (*domain.EntryImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, images := range s.images {
		for _, img := range images {
			if img.ID == imageID {
				c := img
				return &c, nil
			}
		}
	}
	return nil, store.ErrEntryImageNotFound
}

// DeleteImage implements store.EntryStore.
func (s *Store) DeleteImage(_ context.Context, imageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for entryID, images := range s.images {
		for i, img := range images {
			if img.ID == imageID {
				s.images[entryID] = append(images[:i:i], images[i+1:]...)
				return nil
			}
		}
	}
	return store.ErrEntryImageNotFound
}

// NextUploadOrder implements store.EntryStore.
func (s *Store) NextUploadOrder(_ context.Context, entryID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := 0
	for _, img := range s.images[entryID] {
		if img.UploadOrder >= next {
			next = img.UploadOrder + 1
		}
	}
	return next, nil
}

// MarkProcessing implements store.EntryStore.
func (s *Store) MarkProcessing(_ context.Context, id uuid.UUID) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	if err := e.MarkProcessing(len(s.images[id])); err != nil {
		return nil, err
	}
	return copyEntry(e, s.images[id]), nil
}

// ApplyAnalysisSuccess implements store.EntryStore.
func (s *Store) ApplyAnalysisSuccess(
	_ context.Context,
	id, claim uuid.UUID,
	results domain.MedicineAttributes,
) (*domain.Entry, error) {
	return s.transition(id, func(e *domain.Entry) error { return e.ApplySuccess(claim, results) })
}

// ApplyAnalysisFailure implements store.EntryStore.
func (s *Store) ApplyAnalysisFailure(_ context.Context, id, claim uuid.UUID, message string) (*domain.Entry, error) {
	return s.transition(id, func(e *domain.Entry) error { return e.ApplyFailure(claim, message) })
}

// RetryAnalysis implements store.EntryStore.
func (s *Store) RetryAnalysis(_ context.Context, id uuid.UUID) (*domain.Entry, error) {
	return s.transition(id, func(e *domain.Entry) error { return e.ResetForRetry() })
}

// SetApproval implements store.EntryStore.
func (s *Store) SetApproval(
	_ context.Context,
	id uuid.UUID,
	decision domain.ApprovalStatus,
	reviewer, notes string,
) (*domain.Entry, error) {
	return s.transition(id, func(e *domain.Entry) error { return e.SetApproval(decision, reviewer, notes) })
}

// UpdateResults implements store.EntryStore.
func (s *Store) UpdateResults(_ context.Context, id uuid.UUID, results domain.MedicineAttributes) (*domain.Entry, error) {
	return s.transition(id, func(e *domain.Entry) error { return e.UpdateResults(results) })
}

// transition applies fn to a working copy and stores it only when the
// transition and the invariants hold.
func (s *Store) transition(id uuid.UUID, fn func(e *domain.Entry) error) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[id]
	if !ok {
		return nil, store.ErrEntryNotFound
	}

	working := copyEntry(current, nil)
	if err := fn(working); err != nil {
		return nil, err
	}
	if err := working.CheckInvariants(); err != nil {
		return nil, err
	}

	s.entries[id] = working
	return copyEntry(working, s.images[id]), nil
}

// Delete implements store.EntryStore.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrEntryNotFound
	}
	delete(s.numbers, batchNumber{batchID: e.BatchID, number: e.EntryNumber})
	delete(s.images, id)
	delete(s.entries, id)
	return nil
}

// Medications is an in-memory store.MedicationStore.
type Medications struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*domain.Medication
	bySource map[uuid.UUID]uuid.UUID
}

var _ store.MedicationStore = (*Medications)(nil)

// NewMedications returns an empty medication store.
func NewMedications() *Medications {
	return &Medications{
		records:  make(map[uuid.UUID]*domain.Medication),
		bySource: make(map[uuid.UUID]uuid.UUID),
	}
}

// CreateRecord implements store.MedicationStore.
func (m *Medications) CreateRecord(
	_ context.Context,
	sourceEntryID uuid.UUID,
	attrs domain.MedicineAttributes,
) (*domain.Medication, error) {
	med := domain.NewMedication(sourceEntryID, attrs)
	if err := med.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySource[sourceEntryID]; exists {
		return nil, store.ErrMedicationExists
	}
	stored := *med
	m.records[med.ID] = &stored
	m.bySource[sourceEntryID] = med.ID
	return med, nil
}

// GetByID implements store.MedicationStore.
func (m *Medications) GetByID(_ context.Context, id uuid.UUID) (*domain.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrMedicationNotFound
	}
	c := *rec
	return &c, nil
}

// GetBySourceEntry implements store.MedicationStore.
func (m *Medications) GetBySourceEntry(_ context.Context, sourceEntryID uuid.UUID) (*domain.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySource[sourceEntryID]
	if !ok {
		return nil, store.ErrMedicationNotFound
	}
	c := *m.records[id]
	return &c, nil
}

// Count returns the number of stored records.
func (m *Medications) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
