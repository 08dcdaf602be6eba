package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/domain"
	"github.com/phrazzld/medstock-api/internal/events"
	"github.com/phrazzld/medstock-api/internal/store"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many entries are analyzed concurrently
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// StuckTaskAge defines how long an entry can stay in processing
	// before it's considered abandoned and failed
	StuckTaskAge time.Duration

	// SweepInterval defines how often to look for stuck and pending entries
	// If zero, defaults to 1 minute
	SweepInterval time.Duration

	// SweepBatchSize caps the entries handled per sweep
	SweepBatchSize int
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:    4,
		QueueSize:      100,
		StuckTaskAge:   10 * time.Minute,
		SweepInterval:  time.Minute,
		SweepBatchSize: 50,
	}
}

// RunnerConfigFrom converts the application settings.
func RunnerConfigFrom(cfg config.TaskConfig) TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:    cfg.WorkerCount,
		QueueSize:      cfg.QueueSize,
		StuckTaskAge:   cfg.StuckTaskAge,
		SweepInterval:  cfg.SweepInterval,
		SweepBatchSize: cfg.SweepBatchSize,
	}
}

// QueueRecorder receives queue and recovery measurements.
type QueueRecorder interface {
	SetQueueDepth(depth int)
	RecordStuckRecovered(n int)
}

type nopQueueRecorder struct{}

func (nopQueueRecorder) SetQueueDepth(int)        {}
func (nopQueueRecorder) RecordStuckRecovered(int) {}

// TaskRunner owns the analysis queue, its workers and the recovery sweep.
type TaskRunner struct {
	entries    store.EntryStore
	dispatcher *Dispatcher
	queue      *TaskQueue
	pool       *WorkerPool
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     TaskRunnerConfig
	logger     *slog.Logger
	recorder   QueueRecorder
	stopOnce   sync.Once
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(
	entries store.EntryStore,
	dispatcher *Dispatcher,
	config TaskRunnerConfig,
	logger *slog.Logger,
) *TaskRunner {
	def := DefaultTaskRunnerConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = def.SweepBatchSize
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = def.StuckTaskAge
	}

	logger = logger.With("component", "task_runner")
	queue := NewTaskQueue(config.QueueSize, logger)
	pool := NewWorkerPool(queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger)

	ctx, cancel := context.WithCancel(context.Background())

	r := &TaskRunner{
		entries:    entries,
		dispatcher: dispatcher,
		queue:      queue,
		pool:       pool,
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger,
		recorder:   nopQueueRecorder{},
	}
	pool.SetErrorHandler(r.handleTaskError)
	return r
}

// SetRecorder sets the metrics sink. It must be called before Start.
func (r *TaskRunner) SetRecorder(recorder QueueRecorder) {
	if recorder != nil {
		r.recorder = recorder
	}
}

// Dispatch analyzes the entry on the calling goroutine.
func (r *TaskRunner) Dispatch(ctx context.Context, entryID uuid.UUID) (*domain.Entry, error) {
	return r.dispatcher.Dispatch(ctx, entryID)
}

// Enqueue schedules the entry for background analysis without blocking.
// When the queue is full the entry stays pending and a later sweep picks it up.
func (r *TaskRunner) Enqueue(entryID uuid.UUID) error {
	task, err := NewAnalysisTask(entryID, r.dispatcher)
	if err != nil {
		return err
	}

	err = r.queue.Enqueue(task)
	r.recorder.SetQueueDepth(r.queue.Len())
	if err != nil {
		r.logger.Warn("analysis not enqueued, entry left for sweep",
			"entry_id", entryID,
			"error", err)
		return err
	}
	return nil
}

// Start recovers unfinished entries, then launches the workers and the sweep loop.
func (r *TaskRunner) Start(ctx context.Context) error {
	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover entries: %w", err)
	}

	r.pool.Start()

	r.wg.Add(1)
	go r.sweepLoop()

	return nil
}

// Stop gracefully shuts down the task runner. In-flight analyses are
// cancelled and recorded as interrupted; queued ones stay pending.
func (r *TaskRunner) Stop() {
	r.stopOnce.Do(func() {
		r.cancelFunc()
		r.wg.Wait()
		r.pool.Stop()
		r.queue.Close()
		r.logger.Info("task runner stopped")
	})
}

// Recover fails entries abandoned in processing and enqueues pending ones.
func (r *TaskRunner) Recover(ctx context.Context) error {
	failed, err := r.failStuck(ctx)
	if err != nil {
		return err
	}

	queued, err := r.requeuePending(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("recovered unfinished entries",
		"stuck_failed", failed,
		"pending_enqueued", queued)
	return nil
}

// failStuck moves entries that stayed in processing longer than StuckTaskAge
// to failed so they can be retried.
func (r *TaskRunner) failStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.config.StuckTaskAge)
	stuck, err := r.entries.FindByAnalysisStatus(ctx, domain.AnalysisStatusProcessing, cutoff, r.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck entries: %w", err)
	}

	failed := 0
	for _, entry := range stuck {
		if entry.ClaimID == nil {
			continue
		}
		updated, err := r.entries.ApplyAnalysisFailure(ctx, entry.ID, *entry.ClaimID, MessageInterrupted)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) &&
				!errors.Is(err, domain.ErrClaimSuperseded) &&
				!errors.Is(err, store.ErrEntryNotFound) {
				r.logger.Error("failed to fail stuck entry",
					"entry_id", entry.ID,
					"error", err)
			}
			continue
		}
		failed++
		r.logger.Warn("stuck entry marked failed",
			"entry_id", entry.ID,
			"processing_since", entry.UpdatedAt)
		r.dispatcher.publisher.Publish(ctx, events.TopicEntryAnalysis, events.AnalysisOutcome{
			EntryID:      updated.ID,
			BatchID:      updated.BatchID,
			Status:       string(updated.AnalysisStatus),
			ErrorMessage: MessageInterrupted,
		})
	}

	if failed > 0 {
		r.recorder.RecordStuckRecovered(failed)
	}
	return failed, nil
}

// requeuePending enqueues pending entries that have images, stopping at the
// first full-queue rejection.
func (r *TaskRunner) requeuePending(ctx context.Context) (int, error) {
	ids, err := r.entries.ListDispatchable(ctx, r.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending entries: %w", err)
	}

	queued := 0
	for _, id := range ids {
		if err := r.Enqueue(id); err != nil {
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed) {
				break
			}
			continue
		}
		queued++
	}
	return queued, nil
}

func (r *TaskRunner) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			if err := r.Recover(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("entry sweep failed", "error", err)
			}
		}
	}
}

func (r *TaskRunner) handleTaskError(task Task, err error) {
	r.logger.Error("entry analysis task failed",
		"entry_id", task.ID(),
		"task_type", task.Type(),
		"error", err)
}
