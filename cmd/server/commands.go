package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/phrazzld/medstock-api/internal/config"
	"github.com/phrazzld/medstock-api/internal/platform/logger"
	"github.com/spf13/cobra"
)

// migrationCommands lists the goose commands exposed by "migrate".
var migrationCommands = []string{"up", "down", "reset", "status", "version"}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "medstock-api",
		Short: "Medicine packaging analysis and inventory API",
		Long: `MedStock API accepts photographs of medicine packaging, extracts
structured attributes with a vision model, and saves reviewed entries
as inventory records.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(newServeCmd(&configFile))
	cmd.AddCommand(newMigrateCmd(&configFile))

	return cmd
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(configFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"storage_backend", cfg.Storage.Backend,
		"llm_provider", cfg.LLM.Provider)
	if cfg.Database.URL != "" {
		log.Debug("Database configuration", "url_present", true)
	}

	return cfg, log, nil
}

func newServeCmd(configFile *string) *cobra.Command {
	var port int
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and analysis workers",
		Example: `  # Start with the in-memory store and local image storage
  medstock-api serve

  # Start against PostgreSQL, applying pending migrations first
  MEDSTOCK_DATABASE_URL=postgres://... medstock-api serve --migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp(*configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			return serve(cmd.Context(), cfg, log, autoMigrate)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending database migrations before serving")

	return cmd
}

// serve wires the application and blocks until ctx is canceled.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger, autoMigrate bool) error {
	if autoMigrate && cfg.Database.URL != "" {
		if err := handleMigrations(ctx, cfg, log, "up"); err != nil {
			return err
		}
	}

	db, err := setupAppDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrationCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp(*configFile)
			if err != nil {
				return err
			}
			return handleMigrations(cmd.Context(), cfg, log, args[0])
		},
	}
}
