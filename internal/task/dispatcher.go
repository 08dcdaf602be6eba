package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/events"
	"github.com/phrazzld/medstock-api/internal/extraction"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/phrazzld/medstock-api/internal/redact"
	"github.com/phrazzld/medstock-api/internal/retry"
	"github.com/phrazzld/medstock-api/internal/store"
	"github.com/phrazzld/medstock-api/internal/vision"
)

// Common errors
var (
	ErrNilEntryStore = errors.New("entry store cannot be nil")
	ErrNilImageStore = errors.New("image store cannot be nil")
	ErrNilAnalyzer   = errors.New("analyzer cannot be nil")
	ErrNilExecutor   = errors.New("retry executor cannot be nil")
	ErrNilLogger     = errors.New("logger cannot be nil")
	ErrEmptyEntryID  = errors.New("entry ID cannot be empty")
)

// Failure messages recorded on entries.
const (
	MessageInterrupted    = "analysis interrupted"
	MessageTimedOut       = "AI analysis timed out"
	MessageContentBlocked = "AI response was blocked by the content filter"
	MessageEmptyResponse  = "AI returned an empty response"
	MessageNoImages       = "entry has no images to analyze"
)

// StatusSuperseded labels dispatches whose outcome was discarded because the
// entry was claimed again or left processing first.
const StatusSuperseded = "superseded"

// settleTimeout bounds the store write that records an outcome after the
// dispatch context has been cancelled.
const settleTimeout = 10 * time.Second

// Recorder receives per-dispatch measurements.
type Recorder interface {
	RecordDispatch(status string, attempts int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch(string, int, time.Duration) {}

// DispatcherDeps holds the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Entries  store.EntryStore
	Images   imagestore.Store
	Analyzer vision.Analyzer
	Executor *retry.Executor

	// Instructions is the prompt sent with every request. Empty selects the
	// built-in instructions.
	Instructions string

	// Publisher and Recorder are optional.
	Publisher events.Publisher
	Recorder  Recorder
}

// Dispatcher runs the analysis of a single entry from claim to outcome.
type Dispatcher struct {
	entries      store.EntryStore
	images       imagestore.Store
	analyzer     vision.Analyzer
	executor     *retry.Executor
	instructions string
	publisher    events.Publisher
	recorder     Recorder
	logger       *slog.Logger
}

// NewDispatcher validates deps and creates a Dispatcher.
func NewDispatcher(deps DispatcherDeps, logger *slog.Logger) (*Dispatcher, error) {
	if deps.Entries == nil {
		return nil, ErrNilEntryStore
	}
	if deps.Images == nil {
		return nil, ErrNilImageStore
	}
	if deps.Analyzer == nil {
		return nil, ErrNilAnalyzer
	}
	if deps.Executor == nil {
		return nil, ErrNilExecutor
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	instructions := deps.Instructions
	if instructions == "" {
		var err error
		instructions, err = vision.LoadInstructions("")
		if err != nil {
			return nil, fmt.Errorf("failed to load analysis instructions: %w", err)
		}
	}

	d := &Dispatcher{
		entries:      deps.Entries,
		images:       deps.Images,
		analyzer:     deps.Analyzer,
		executor:     deps.Executor,
		instructions: instructions,
		publisher:    deps.Publisher,
		recorder:     deps.Recorder,
		logger:       logger.With("component", "analysis_dispatcher"),
	}
	if d.publisher == nil {
		d.publisher = events.NopPublisher{}
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	return d, nil
}

// Dispatch claims the entry, sends its images to the analyzer and records the
// outcome on the entry.
//
// A returned error means the entry was not claimed (domain.ErrNotReadyForAnalysis,
// store.ErrEntryNotFound), the claim was superseded before the outcome was
// stored (domain.ErrClaimSuperseded), or the outcome could not be stored.
// Analysis failures are not errors: they come back as an entry in the failed
// state.
func (d *Dispatcher) Dispatch(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error) {
	if entryID == uuid.Nil {
		return nil, ErrEmptyEntryID
	}

	log := logger.FromContextOrDefault(ctx, d.logger).With("entry_id", entryID)
	start := time.Now()

	entry, err := d.entries.MarkProcessing(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ClaimID == nil {
		return nil, fmt.Errorf("%w: entry %s claimed without a claim ID", domain.ErrInvalidTransition, entryID)
	}
	log.Info("entry claimed for analysis", "batch_id", entry.BatchID, "image_count", len(entry.Images))

	refs, err := d.resolveImages(ctx, entry.Images)
	if err != nil {
		return d.fail(ctx, log, entry, start, 0, err)
	}

	attempts := 0
	raw, err := retry.Do(ctx, d.executor, func(ctx context.Context) (string, error) {
		attempts++
		return d.analyzer.Analyze(ctx, vision.Request{
			Instructions: d.instructions,
			Images:       refs,
		})
	})
	if err != nil {
		return d.fail(ctx, log, entry, start, attempts, err)
	}

	attrs, err := extraction.Sanitize(raw)
	if err != nil {
		return d.fail(ctx, log, entry, start, attempts, err)
	}

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	updated, err := d.entries.ApplyAnalysisSuccess(settleCtx, entryID, *entry.ClaimID, attrs)
	if err != nil {
		return nil, d.settleError(log, "result", attempts, start, err)
	}

	d.recorder.RecordDispatch(string(domain.AnalysisStatusComplete), attempts, time.Since(start))
	d.publisher.Publish(settleCtx, events.TopicEntryAnalysis, events.AnalysisOutcome{
		EntryID:  updated.ID,
		BatchID:  updated.BatchID,
		Status:   string(updated.AnalysisStatus),
		Attempts: attempts,
		Results:  attrs.Fields(),
	})
	log.Info("entry analysis complete",
		"attempts", attempts,
		"field_count", len(attrs.Fields()),
		"duration_ms", time.Since(start).Milliseconds())

	return updated, nil
}

func (d *Dispatcher) fail(
	ctx context.Context,
	log *slog.Logger,
	entry *domain.Entry,
	start time.Time,
	attempts int,
	cause error,
) (*domain.Entry, error) {
	message := failureMessage(cause, attempts)
	log.Warn("entry analysis failed",
		"attempts", attempts,
		"reason", message,
		"error", redact.Error(cause))

	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	updated, err := d.entries.ApplyAnalysisFailure(settleCtx, entry.ID, *entry.ClaimID, message)
	if err != nil {
		return nil, d.settleError(log, "failure", attempts, start, err)
	}

	d.recorder.RecordDispatch(string(domain.AnalysisStatusFailed), attempts, time.Since(start))
	d.publisher.Publish(settleCtx, events.TopicEntryAnalysis, events.AnalysisOutcome{
		EntryID:      updated.ID,
		BatchID:      updated.BatchID,
		Status:       string(updated.AnalysisStatus),
		ErrorMessage: message,
		Attempts:     attempts,
	})
	return updated, nil
}

// settleError reports an outcome that could not be stored. An entry that
// left processing under this claim, or was claimed again, keeps its state and
// the outcome is discarded as superseded.
func (d *Dispatcher) settleError(log *slog.Logger, kind string, attempts int, start time.Time, err error) error {
	if errors.Is(err, domain.ErrClaimSuperseded) || errors.Is(err, domain.ErrInvalidTransition) {
		log.Warn("analysis outcome discarded, claim superseded", "outcome", kind, "error", err)
		d.recorder.RecordDispatch(StatusSuperseded, attempts, time.Since(start))
		if errors.Is(err, domain.ErrClaimSuperseded) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrClaimSuperseded, err)
	}

	log.Error("failed to record analysis "+kind, "error", err)
	return fmt.Errorf("failed to record analysis %s: %w", kind, err)
}

// resolveImages turns the entry's images into analyzer references in upload
// order. URL and byte references may be mixed.
func (d *Dispatcher) resolveImages(ctx context.Context, images []domain.EntryImage) ([]imagestore.Reference, error) {
	if len(images) == 0 {
		return nil, vision.ErrNoImages
	}

	ordered := make([]domain.EntryImage, len(images))
	copy(ordered, images)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].UploadOrder < ordered[j].UploadOrder
	})

	refs := make([]imagestore.Reference, 0, len(ordered))
	for _, img := range ordered {
		ref, err := d.images.ResolveReference(ctx, img.StorageKey, img.ContentType)
		if err != nil {
			return nil, &imageUnavailableError{filename: img.OriginalFilename, err: err}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

type imageUnavailableError struct {
	filename string
	err      error
}

func (e *imageUnavailableError) Error() string {
	return fmt.Sprintf("image %q unavailable: %v", e.filename, e.err)
}

func (e *imageUnavailableError) Unwrap() error { return e.err }

// failureMessage derives the user-facing message stored on a failed entry.
func failureMessage(err error, attempts int) string {
	var (
		imgErr   *imageUnavailableError
		apiErr   *vision.APIError
		identErr *extraction.IdentificationError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return MessageInterrupted
	case errors.As(err, &imgErr):
		return redact.Secrets(fmt.Sprintf("image unavailable: %s", imgErr.filename))
	case errors.Is(err, retry.ErrMaxRetriesExceeded) && errors.Is(err, retry.ErrAttemptTimeout):
		return fmt.Sprintf("%s after %d attempts", MessageTimedOut, attempts)
	case errors.Is(err, retry.ErrMaxRetriesExceeded) && errors.As(err, &apiErr):
		return fmt.Sprintf("AI service unavailable after %d attempts (status %d)", attempts, apiErr.StatusCode)
	case errors.Is(err, retry.ErrMaxRetriesExceeded):
		return fmt.Sprintf("AI service unavailable after %d attempts", attempts)
	case errors.Is(err, context.DeadlineExceeded):
		return MessageTimedOut
	case errors.As(err, &apiErr):
		return redact.Secrets(fmt.Sprintf("AI service rejected the request (status %d): %s", apiErr.StatusCode, apiErr.Message))
	case errors.Is(err, vision.ErrContentBlocked):
		return MessageContentBlocked
	case errors.Is(err, vision.ErrEmptyResponse):
		return MessageEmptyResponse
	case errors.Is(err, vision.ErrNoImages):
		return MessageNoImages
	case errors.As(err, &identErr):
		return redact.Secrets(identErr.Error())
	case errors.Is(err, extraction.ErrParse):
		return extraction.ErrParse.Error()
	case errors.Is(err, extraction.ErrNoUsefulInfo):
		return extraction.ErrNoUsefulInfo.Error()
	default:
		return "analysis failed: " + redact.Error(err)
	}
}

// settleContext returns a context for recording an outcome that survives
// cancellation of ctx.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
