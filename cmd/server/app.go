package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/events"
	"github.com/phrazzld/medstock-api/internal/imagestore"
	"github.com/phrazzld/medstock-api/internal/platform/gemini"
	"github.com/phrazzld/medstock-api/internal/platform/localstore"
	"github.com/phrazzld/medstock-api/internal/platform/memstore"
	"github.com/phrazzld/medstock-api/internal/platform/metrics"
	"github.com/phrazzld/medstock-api/internal/platform/openai"
	"github.com/phrazzld/medstock-api/internal/platform/postgres"
	"github.com/phrazzld/medstock-api/internal/platform/s3store"
	"github.com/phrazzld/medstock-api/internal/retry"
	"github.com/phrazzld/medstock-api/internal/service"
	"github.com/phrazzld/medstock-api/internal/store"
	"github.com/phrazzld/medstock-api/internal/task"
	"github.com/phrazzld/medstock-api/internal/vision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	entryStore      store.EntryStore
	medicationStore store.MedicationStore
	imageStore      imagestore.Store

	// Analysis
	analyzer   vision.Analyzer
	dispatcher *task.Dispatcher
	taskRunner *task.TaskRunner

	// Service interfaces
	coordinator  *service.ApprovalCoordinator
	entryService service.EntryService

	// Event system
	eventBus      *events.InMemoryBus
	mqttPublisher *events.MQTTPublisher

	// Observability
	registry *prometheus.Registry
	metrics  *metrics.DispatchMetrics
}

// appOption overrides a dependency before the application is wired.
type appOption func(*application)

// withAnalyzer replaces the configured vision model client.
func withAnalyzer(analyzer vision.Analyzer) appOption {
	return func(app *application) {
		app.analyzer = analyzer
	}
}

// newApplication creates a new application instance with all dependencies initialized.
// A nil db selects the in-memory stores.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
	opts ...appOption,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}
	for _, opt := range opts {
		opt(app)
	}

	var err error

	// Initialize metrics
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics, err = metrics.NewDispatchMetrics(app.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Initialize stores
	if db != nil {
		app.entryStore = postgres.NewPostgresEntryStore(db, logger)
		app.medicationStore = postgres.NewPostgresMedicationStore(db, logger)
		logger.Info("using PostgreSQL stores")
	} else {
		app.entryStore = memstore.New()
		app.medicationStore = memstore.NewMedications()
		logger.Warn("no database configured, using in-memory stores")
	}

	app.imageStore, err = newImageStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}

	if app.analyzer == nil {
		app.analyzer, err = newAnalyzer(ctx, cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vision analyzer: %w", err)
		}
	}
	logger.Info("vision analyzer initialized",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model)

	instructions, err := vision.LoadInstructions(cfg.LLM.PromptTemplatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis instructions: %w", err)
	}

	// Initialize event system
	app.eventBus = events.NewInMemoryBus(logger)
	publisher := events.MultiPublisher{app.eventBus}
	if cfg.Events.MQTTBroker != "" {
		app.mqttPublisher, err = events.NewMQTTPublisher(cfg.Events, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event broker: %w", err)
		}
		publisher = append(publisher, app.mqttPublisher)
	}
	app.eventBus.Subscribe(events.TopicEntryAnalysis, events.HandlerFunc(app.logAnalysisOutcome))

	// Initialize analysis pipeline
	executor := retry.NewExecutor(retry.Config{
		MaxRetries:     cfg.LLM.MaxRetries,
		BaseDelay:      cfg.LLM.BaseDelay,
		MaxDelay:       cfg.LLM.MaxDelay,
		JitterMax:      cfg.LLM.JitterMax,
		AttemptTimeout: cfg.LLM.AttemptTimeout,
	}, retry.WithObserver(func(r retry.Result) {
		if r.Attempts > 1 {
			logger.Debug("vision call retried",
				"attempts", r.Attempts,
				"delays", fmt.Sprint(r.Delays),
				"duration", r.Duration)
		}
	}))

	app.dispatcher, err = task.NewDispatcher(task.DispatcherDeps{
		Entries:      app.entryStore,
		Images:       app.imageStore,
		Analyzer:     app.analyzer,
		Executor:     executor,
		Instructions: instructions,
		Publisher:    publisher,
		Recorder:     app.metrics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	app.taskRunner = task.NewTaskRunner(app.entryStore, app.dispatcher, task.RunnerConfigFrom(cfg.Task), logger)
	app.taskRunner.SetRecorder(app.metrics)

	// Initialize services
	app.coordinator, err = service.NewApprovalCoordinator(
		app.entryStore,
		app.medicationStore,
		app.imageStore,
		publisher,
		app.metrics,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval coordinator: %w", err)
	}

	app.entryService, err = service.NewEntryService(service.EntryServiceDeps{
		Entries:        app.entryStore,
		Images:         app.imageStore,
		Queue:          app.taskRunner,
		Coordinator:    app.coordinator,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry service: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// newImageStore builds the configured image store backend.
func newImageStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (imagestore.Store, error) {
	switch cfg.Backend {
	case "s3":
		s3, err := s3store.NewFromConfig(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s3, nil
	case "local", "":
		return localstore.New(cfg.LocalDir, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

// newAnalyzer builds the configured vision model client.
func newAnalyzer(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (vision.Analyzer, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewAnalyzer(ctx, logger.With("component", "gemini_analyzer"), cfg)
	case "openai":
		return openai.NewClient(logger.With("component", "openai_analyzer"), cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// logAnalysisOutcome writes a line per finished analysis.
func (app *application) logAnalysisOutcome(ctx context.Context, event *events.Event) error {
	var outcome events.AnalysisOutcome
	if err := event.UnmarshalPayload(&outcome); err != nil {
		return fmt.Errorf("failed to unmarshal analysis outcome: %w", err)
	}

	app.logger.Info("analysis finished",
		"entry_id", outcome.EntryID,
		"batch_id", outcome.BatchID,
		"status", outcome.Status,
		"attempts", outcome.Attempts,
		"event_id", event.ID)
	return nil
}

// Run starts the background workers and the HTTP server and blocks until
// ctx is canceled or the server fails.
func (app *application) Run(ctx context.Context) error {
	if err := app.taskRunner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	// Stop task runner; in-flight analyses record their interruption
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.eventBus != nil {
		app.eventBus.Wait()
	}

	if app.mqttPublisher != nil {
		app.mqttPublisher.Close()
	}

	// Close database connection
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
