package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/allocation"
	"github.com/stanstork/stockflow-api/internal/backend"
	"github.com/stanstork/stockflow-api/internal/config"
	"github.com/stanstork/stockflow-api/internal/handlers"
	"github.com/stanstork/stockflow-api/internal/middleware"
	"github.com/stanstork/stockflow-api/internal/migration"
	"github.com/stanstork/stockflow-api/internal/notification"
	"github.com/stanstork/stockflow-api/internal/repository"
	"github.com/stanstork/stockflow-api/internal/routes"
	"github.com/stanstork/stockflow-api/internal/tracker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
	backend       *backend.Client
	tracker       *tracker.Tracker
}

func main() {
	// Load configuration.
	cfg := config.Load()

	// Set up structured, level-based logging.
	logger := newLogger(cfg)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: newNotificationService(cfg, db, logger),
		backend:       backend.NewClient(cfg.Backend, logger),
	}

	app.tracker = tracker.New(app.backend, app.notifications, cfg.Tracker.PollInterval, tracker.Options{
		PageSize: cfg.Tracker.PageSize,
		MaxPages: cfg.Tracker.MaxPages,
	}, logger)

	// Load import history before serving so the first views are populated.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := app.tracker.Load(loadCtx); err != nil {
		logger.Warn().Err(err).Msg("Initial import history load failed, continuing with an empty store")
	}
	cancelLoad()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
		h.AllowCredentials(),
	)(loggedRouter)
	recovered := h.RecoveryHandler(h.RecoveryLogger(log.Default()), h.PrintRecoveryStack(true))(corsHandler)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(recovered, logger)

	logger.Info().Msg("Application terminated.")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	return zerolog.New(consoleWriter).With().Timestamp().Logger()
}

func newNotificationService(cfg *config.Config, db *sql.DB, logger zerolog.Logger) notification.Service {
	var notifiers []notification.Notifier
	if cfg.Email.Enabled {
		emailNotifier, err := notification.NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure email notifier")
		}
		notifiers = append(notifiers, emailNotifier)
	}
	return notification.NewService(repository.NewNotificationRepository(db), logger, notifiers...)
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	calculator := allocation.NewCalculator(app.backend, app.backend, allocation.Options{
		PageSize: app.config.Allocation.PageSize,
		MaxPages: app.config.Allocation.MaxPages,
	}, logger)

	healthHandler := handlers.NewHealthHandler(app.db, app.tracker)
	importHandler := handlers.NewImportHandler(app.tracker, validator.New(), logger)
	allocationHandler := handlers.NewAllocationHandler(calculator, logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, logger)

	return routes.NewRouter(healthHandler, importHandler, allocationHandler, notificationHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	// Cancelled on shutdown so event streams end instead of holding Shutdown open.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Stop polling first so no refresh runs against a closing server.
	logger.Info().Msg("Stopping import poller...")
	app.tracker.Close()
	cancelBase()

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
