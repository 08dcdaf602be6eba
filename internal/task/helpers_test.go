package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/events"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/memstore"
	"github.com/phrazzld/medstock-api/internal/retry"
	"github.com/phrazzld/medstock-api/internal/vision"
	"github.com/stretchr/testify/require"
)

const validResponse = `{"name": "Tylenol 500mg", "strength_value": "500", "strength_unit": "mg"}`

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeImages resolves keys from a fixed table.
type fakeImages struct {
	refs map[string]imagestore.Reference
	errs map[string]error
}

func newFakeImages() *fakeImages {
	return &fakeImages{
		refs: make(map[string]imagestore.Reference),
		errs: make(map[string]error),
	}
}

func (f *fakeImages) Put(context.Context, string, []byte, string) error { return nil }

func (f *fakeImages) ResolveReference(_ context.Context, key, contentType string) (imagestore.Reference, error) {
	if err, ok := f.errs[key]; ok {
		return imagestore.Reference{}, err
	}
	if ref, ok := f.refs[key]; ok {
		return ref, nil
	}
	return imagestore.URLReference("https://images.test/"+key, contentType), nil
}

func (f *fakeImages) GetBytes(context.Context, string) ([]byte, error) { return nil, nil }

func (f *fakeImages) Delete(context.Context, string) error { return nil }

// recordingPublisher keeps every published payload.
type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []events.AnalysisOutcome
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if outcome, ok := payload.(events.AnalysisOutcome); ok && topic == events.TopicEntryAnalysis {
		p.outcomes = append(p.outcomes, outcome)
	}
}

func (p *recordingPublisher) all() []events.AnalysisOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.AnalysisOutcome(nil), p.outcomes...)
}

// recordingRecorder keeps dispatch measurements.
type recordingRecorder struct {
	mu       sync.Mutex
	statuses []string
	attempts []int
	depth    int
	stuck    int
}

func (r *recordingRecorder) RecordDispatch(status string, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	r.attempts = append(r.attempts, attempts)
}

func (r *recordingRecorder) SetQueueDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth = depth
}

func (r *recordingRecorder) RecordStuckRecovered(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stuck += n
}

type testImage struct {
	key      string
	filename string
	order    int
}

func createEntry(t *testing.T, st *memstore.Store, images ...testImage) *domain.Entry {
	t.Helper()
	ctx := context.Background()

	entry, err := domain.NewEntry(uuid.New(), 1)
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, entry))

	for _, img := range images {
		ei, err := domain.NewEntryImage(entry.ID, img.key, img.filename, 1024, "image/jpeg", img.order)
		require.NoError(t, err)
		require.NoError(t, st.AttachImage(ctx, ei))
	}
	return entry
}

func fastExecutor(maxRetries int) *retry.Executor {
	return retry.NewExecutor(retry.Config{
		MaxRetries:     maxRetries,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		AttemptTimeout: time.Second,
	}, retry.WithJitterSource(func(time.Duration) time.Duration { return 0 }))
}

type dispatcherFixture struct {
	entries   *memstore.Store
	images    *fakeImages
	publisher *recordingPublisher
	recorder  *recordingRecorder
}

func newDispatcher(t *testing.T, analyzer vision.Analyzer, maxRetries int) (*Dispatcher, *dispatcherFixture) {
	t.Helper()
	fx := &dispatcherFixture{
		entries:   memstore.New(),
		images:    newFakeImages(),
		publisher: &recordingPublisher{},
		recorder:  &recordingRecorder{},
	}
	d, err := NewDispatcher(DispatcherDeps{
		Entries:      fx.entries,
		Images:       fx.images,
		Analyzer:     analyzer,
		Executor:     fastExecutor(maxRetries),
		Instructions: "extract the medicine attributes",
		Publisher:    fx.publisher,
		Recorder:     fx.recorder,
	}, setupTestLogger())
	require.NoError(t, err)
	return d, fx
}
