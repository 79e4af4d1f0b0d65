package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/tweet-ingestion-service/internal/annotation"
	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/ingestion"
	"github.com/cyderes/tweet-ingestion-service/internal/logging"
	"github.com/cyderes/tweet-ingestion-service/internal/metrics"
	"github.com/cyderes/tweet-ingestion-service/internal/retry"
	"github.com/cyderes/tweet-ingestion-service/internal/server"
	"github.com/cyderes/tweet-ingestion-service/internal/storage"
	"github.com/cyderes/tweet-ingestion-service/internal/twitter"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion batch and exit")
	flag.Parse()

	logger := logging.NewLogger("info")
	config.LoadEnv(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if cfg.Twitter.BearerToken == "" {
		logger.Fatal("BEARER_TOKEN is required")
	}

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize storage
	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	defer store.Close()

	m := metrics.New()

	policy := retry.Policy{
		MaxAttempts: cfg.Annotation.MaxAttempts,
		Delay:       cfg.Annotation.RetryDelay,
		OnRetry: func(attempt int, err error) {
			m.AnnotationRetries.Inc()
			logger.WithError(err).WithField("attempt", attempt).Warn("Retrying annotation")
		},
	}
	annotator := annotation.NewAnnotator(annotation.NewNLPClient(cfg.Annotation), policy)
	fetcher := twitter.NewClient(cfg.Twitter)

	// Initialize ingestion service
	ingestor := ingestion.NewService(cfg.Ingestion, store, fetcher, annotator, logger, m)

	if *once {
		if err := ingestor.RunBatch(ctx); err != nil {
			logger.WithError(err).Error("Ingestion run failed")
			os.Exit(1)
		}
		return
	}

	// Initialize HTTP server for API endpoints
	httpServer := server.NewServer(cfg.Server, store, logger, m)

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server error")
		}
	}()

	logger.WithFields(logrus.Fields{
		"storage":  cfg.Storage.Type,
		"schedule": cfg.Ingestion.Schedule,
		"policy":   cfg.Ingestion.FailurePolicy,
	}).Info("Starting tweet ingestion service")

	if err := ingestor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Ingestion service error")
	}

	logger.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	}

	logger.Info("Shutdown complete")
}
