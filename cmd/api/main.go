package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arash/imagina/internal/api"
	"github.com/arash/imagina/internal/config"
	"github.com/arash/imagina/internal/engine"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/midjourney"
	"github.com/arash/imagina/internal/repository"
	"github.com/arash/imagina/internal/service"
	"github.com/arash/imagina/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			appLogger.WithError(err).Fatal("Failed to run migrations")
		}
	}

	// Initialize repositories
	imaginationRepo := repository.NewImaginationRepository(db)
	businessRepo := repository.NewBusinessRepository(db)

	// Initialize storage (supports R2, S3, and other S3-compatible services)
	objectStorage, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Ensure bucket exists
	ctx := context.Background()
	if s3, ok := objectStorage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	// Initialize generation client and asset publisher
	mjClient := midjourney.NewClient(&midjourney.Config{
		BaseURL: cfg.Midjourney.BaseURL,
		APIKey:  cfg.Midjourney.APIKey,
		Timeout: cfg.Midjourney.Timeout,
	})

	publisher := service.NewPublisher(objectStorage, appLogger, &service.PublisherConfig{
		UploadDir: cfg.Engine.UploadDir,
	})

	// Initialize lifecycle engine
	eng := engine.New(imaginationRepo, mjClient, publisher, appLogger, &engine.Config{
		PollInterval:    cfg.Engine.PollInterval,
		MaxRetries:      cfg.Engine.MaxRetries,
		CallbackBaseURL: cfg.Server.PublicBaseURL,
	})

	// Setup router
	router := api.NewRouter(cfg, imaginationRepo, businessRepo, eng, appLogger)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithField("port", cfg.Server.Port).
			WithField("mode", cfg.Server.Mode).
			Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	// Cancel pending poll timers; in-flight updates finish on their own.
	eng.Shutdown()

	appLogger.Info("Server exited")
}
