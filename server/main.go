package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lightfastai/connections/internal/config"
	"github.com/lightfastai/connections/internal/domain/services"
	"github.com/lightfastai/connections/internal/infrastructure/database/postgres"
	"github.com/lightfastai/connections/internal/infrastructure/statestore"
	"github.com/lightfastai/connections/internal/pkg/idgen"
	"github.com/lightfastai/connections/internal/pkg/logger"
	"github.com/lightfastai/connections/internal/providers"
	"github.com/lightfastai/connections/migrations"
	"github.com/lightfastai/connections/server/internal/handlers"
	"github.com/lightfastai/connections/server/internal/middleware"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		forceVersion  int
		configPath    string
		logLevel      string
		logFile       string
		logToStderr   bool
		alsoLogStderr bool
		logFormat     string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Lightfast connections gateway",
		Long:  "The OAuth/installation gateway for external tool connections",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return setupServerLogging(logLevel, logFile, logToStderr, alsoLogStderr, logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, forceVersion)
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force-migration", -1, "Force migration version (use to fix dirty migration state)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	// Add logging flags
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (if specified, logs to file instead of stderr)")
	cmd.Flags().BoolVar(&logToStderr, "logtostderr", false, "Log to stderr (default behavior unless --log-file specified)")
	cmd.Flags().BoolVar(&alsoLogStderr, "alsologtostderr", false, "Log to both file and stderr")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "Log format (text, json)")

	return cmd
}

// setupServerLogging configures the global logger for the server
func setupServerLogging(logLevel, logFile string, logToStderr, alsoLogStderr bool, logFormat string) error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	// Set as default logger
	slog.SetDefault(globalLogger)

	return nil
}

func runServer(configPath string, forceVersion int) error {
	log := logger.Component("server")
	log.Info("Starting server initialization")

	// Initialize Snowflake ID generator
	if err := idgen.Initialize(1); err != nil {
		return fmt.Errorf("failed to initialize ID generator: %w", err)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize PostgreSQL database
	log.Info("Initializing PostgreSQL database",
		"user", cfg.Database.Postgres.User,
		"host", cfg.Database.Postgres.Host,
		"database", cfg.Database.Postgres.Database)

	connString := cfg.Database.Postgres.ConnectionString()

	// Connect to PostgreSQL with retries (for Kubernetes startup)
	var pgConn *postgres.Connection
	maxRetries := 10
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		var err error
		pgConn, err = postgres.NewConnection(connString)
		if err == nil {
			log.Info("Successfully connected to PostgreSQL")
			break
		}

		if i < maxRetries-1 {
			log.Warn("Failed to connect to PostgreSQL",
				"attempt", i+1,
				"max_retries", maxRetries,
				"error", err,
				"retry_delay", retryDelay)
			time.Sleep(retryDelay)
			retryDelay *= 2 // Exponential backoff
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}
		} else {
			return fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, err)
		}
	}
	defer pgConn.Close()

	// Handle force migration if requested
	if forceVersion >= 0 {
		log.Info("Force setting migration version", "version", forceVersion)
		if err := pgConn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
		log.Info("Migration version forced, exiting", "version", forceVersion)
		return nil
	}

	// Run migrations
	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	// Initialize repositories
	installationRepo := postgres.NewInstallationRepository(pgConn.DB)
	resourceRepo := postgres.NewResourceRepository(pgConn.DB)

	// Initialize the ephemeral state store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	defer redisClient.Close()
	stateStore := statestore.NewRedisStore(redisClient)
	log.Info("Connected to redis state store", "addr", cfg.Redis.Addr)

	// Build the provider registry
	registry := providers.NewRegistry()
	if cfg.Providers.GitHub.AppID != 0 {
		github, err := providers.NewGitHubProvider(cfg.Providers.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize github provider: %w", err)
		}
		registry.Register(github)
	}
	if cfg.Providers.Vercel.ClientID != "" {
		registry.Register(providers.NewVercelProvider(cfg.Providers.Vercel))
	}
	if cfg.Providers.Sentry.ClientID != "" {
		registry.Register(providers.NewSentryProvider(cfg.Providers.Sentry))
	}
	if cfg.Providers.Linear.ClientID != "" {
		registry.Register(providers.NewLinearProvider(cfg.Providers.Linear, cfg.Server.PublicBaseURL))
	}
	log.Info("Providers registered", "count", len(registry.List()))

	// Initialize services
	connectionService := services.NewConnectionService(registry, installationRepo, stateStore, logger.Component("connections"))
	reconcileService := services.NewReconcileService(installationRepo, resourceRepo, logger.Component("reconcile"))

	// Build the router
	router := mux.NewRouter()
	router.Use(middleware.LogRequest(logger.Component("http")))

	handler := handlers.NewHandler(connectionService, reconcileService, resourceRepo, cfg, logger.Component("handlers"))
	handler.RegisterRoutes(router)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pgConn.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("DB UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Serve until signalled, then drain in-flight requests
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", "address", address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
