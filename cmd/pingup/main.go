package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pingup/internal/config"
	"pingup/internal/constants"
	"pingup/internal/database"
	"pingup/internal/features"
	"pingup/internal/models"
	"pingup/internal/registry"
	"pingup/internal/retry"
	"pingup/internal/service"
	"pingup/internal/tracing"
	"pingup/internal/workflow"
	"pingup/pkg/email"
	"pingup/pkg/storage"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes unmasked user identifiers)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Pingup %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting Pingup")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - user identifiers will be logged unmasked")
	} else {
		applyLogLevel(logger, cfg.LogLevel)
	}

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultStartupDBRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	storageClient := storage.NewClient(cfg.Storage, &http.Client{
		Timeout: time.Duration(cfg.Storage.TimeoutSec) * time.Second,
	}, logger)
	emailClient := email.NewClient(cfg.Email, &http.Client{
		Timeout: time.Duration(cfg.Email.TimeoutSec) * time.Second,
	}, logger)

	liveStreams := registry.New(logger)
	defer liveStreams.CloseAll()

	directory := service.NewDirectoryService(db, constants.DefaultProfileCacheMinutes, logger)
	delivery := service.NewDeliveryService(db, storageClient, liveStreams, directory, cfg.Media, logger)
	history := service.NewHistoryService(db, directory, liveStreams, logger)

	engine := workflow.NewEngine(db, workflow.ConfigFrom(cfg.Workflow, cfg.Retry), logger)
	reminder := service.NewReminderWorkflow(db, directory, emailClient,
		time.Duration(cfg.Workflow.ReminderDelayHours)*time.Hour, cfg.Email.AppURL, logger)
	if err := engine.Register(reminder.Definition()); err != nil {
		return fmt.Errorf("failed to register workflow: %w", err)
	}
	go engine.Serve(ctx)
	defer engine.Stop()
	logger.WithFields(logrus.Fields{
		"concurrency":    cfg.Workflow.Concurrency,
		"reminder_delay": (time.Duration(cfg.Workflow.ReminderDelayHours) * time.Hour).String(),
	}).Info("Workflow engine started")

	scheduler, err := service.NewScheduler(db, cfg.Workflow.CleanupSchedule, cfg.Workflow.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to create cleanup scheduler: %w", err)
	}
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	runMonitor := service.NewRunMonitor(db, time.Duration(cfg.Workflow.FailedRunCheckSec)*time.Second, logger)
	go runMonitor.Start(ctx)
	defer runMonitor.Stop()

	limiter := NewRateLimiter(cfg.Server.SendRatePerSec, cfg.Server.SendBurst)
	go limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)

	flags := features.NewFlagManager()
	if err := flags.LoadFromConfig(cfg.Features); err != nil {
		return fmt.Errorf("invalid feature flags: %w", err)
	}
	flags.LoadFromEnvironment()

	watcher := config.NewConfigWatcher(*configPath, 30*time.Second, logger)
	watcher.OnConfigChange(func(newCfg *models.Config) {
		if !*verbose {
			applyLogLevel(logger, newCfg.LogLevel)
		}
		limiter.SetLimit(newCfg.Server.SendRatePerSec, newCfg.Server.SendBurst)
		if err := flags.LoadFromConfig(newCfg.Features); err != nil {
			logger.Warnf("Ignoring feature flags from reloaded config: %v", err)
			return
		}
		flags.LoadFromEnvironment()
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.Warnf("Config watcher stopped: %v", err)
		}
	}()

	server := NewServer(cfg, serverDeps{
		delivery:  delivery,
		history:   history,
		directory: directory,
		workflows: engine,
		registry:  liveStreams,
		health:    db,
		auth:      NewAuthenticator(cfg.Auth),
		limiter:   limiter,
		flags:     flags,
		breakers:  []breakerReporter{storageClient, emailClient},
	}, logger, *verbose)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	// Live streams never finish on their own; close them so Shutdown can drain.
	liveStreams.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel sets the configured level. Levels more verbose than info
// require the -verbose flag.
func applyLogLevel(logger *logrus.Logger, configured string) {
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
