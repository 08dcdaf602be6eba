package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockMedicationStore mocks the store.MedicationStore interface
type MockMedicationStore struct {
	mock.Mock
}

func (m *MockMedicationStore) CreateRecord(
	ctx context.Context,
	sourceEntryID uuid.UUID,
	attrs domain.MedicineAttributes,
) (*domain.Medication, error) {
	args := m.Called(ctx, sourceEntryID, attrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Medication), args.Error(1)
}

func (m *MockMedicationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Medication, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Medication), args.Error(1)
}

func (m *MockMedicationStore) GetBySourceEntry(ctx context.Context, sourceEntryID uuid.UUID) (*domain.Medication, error) {
	args := m.Called(ctx, sourceEntryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Medication), args.Error(1)
}

// MockImageStore mocks the imagestore.Store interface
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockImageStore) ResolveReference(ctx context.Context, key, contentType string) (imagestore.Reference, error) {
	args := m.Called(ctx, key, contentType)
	return args.Get(0).(imagestore.Reference), args.Error(1)
}

func (m *MockImageStore) GetBytes(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockImageStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// fakeQueue records enqueued entries.
type fakeQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *fakeQueue) Enqueue(entryID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, entryID)
	return nil
}

func (q *fakeQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

// saveRecorder records save metrics.
type saveRecorder struct {
	succeeded, failed int
}

func (r *saveRecorder) RecordSave(succeeded, failed int) {
	r.succeeded += succeeded
	r.failed += failed
}

// capturePublisher records published payloads.
type capturePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *capturePublisher) Publish(_ context.Context, topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
}
