package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ericjohney/photobrain-sub000/internal/clip"
	"github.com/ericjohney/photobrain-sub000/internal/config"
	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/logger"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/scanner"
	"github.com/ericjohney/photobrain-sub000/internal/service"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// One-shot library scan without the HTTP server. Useful for cron jobs
// and first-time imports.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "photobrain-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	libraryRoot := flag.String("library", "", "Library directory to scan (overrides config)")
	embed := flag.Bool("embed", false, "Run queued embedding jobs after the scan")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *libraryRoot != "" {
		cfg.Library.Root = *libraryRoot
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	photoRepo := repository.NewPhotoRepository(db)

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	converter, err := scanner.FindConverter(cfg.Converter.Path)
	if err != nil {
		appLogger.Warn("RAW converter not found, RAW files will be marked accordingly")
	}

	bus := queue.NewBus()
	broker := queue.NewBroker(db, bus, cfg.Queue.MaxAttempts)
	engine := extractor.NewEngine(objectStorage, cfg.Thumbnails.Prefix)
	orchestrator := scanner.NewOrchestrator(
		photoRepo,
		broker,
		engine,
		converter,
		cfg.Library.Root,
		time.Duration(cfg.Converter.PerFileTimeoutSec)*time.Second,
		cfg.Queue.ScanParallelism,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	scanID := uuid.NewString()
	summary, err := orchestrator.Scan(ctx, scanID, nil)
	if err != nil {
		appLogger.WithError(err).Fatal("Scan failed")
	}
	appLogger.WithFields(logger.Fields{
		"total":     summary.Total,
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"queued":    summary.Queued,
	}).Info("Scan completed")

	if !*embed || summary.Queued == 0 {
		return
	}

	// Drain the embedding queue inline instead of leaving it for the
	// server process.
	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Clip.Dimensions,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	clipClient := clip.NewClient(&clip.Config{
		BaseURL:    cfg.Clip.BaseURL,
		Model:      cfg.Clip.Model,
		Dimensions: cfg.Clip.Dimensions,
		Timeout:    time.Duration(cfg.Clip.TimeoutSec) * time.Second,
	})
	embeddingService := service.NewEmbeddingService(
		photoRepo,
		qdrantRepo,
		clipClient,
		objectStorage,
		cfg.Thumbnails.Prefix,
		cfg.Queue.EmbedBatchSize,
	)

	for ctx.Err() == nil {
		job, err := broker.ClaimNext(ctx, domain.QueueEmbedding)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to claim embedding job")
		}
		if job == nil {
			break
		}
		report := func(data interface{}) { broker.Progress(job, data) }
		if err := embeddingService.HandleJob(ctx, job, report); err != nil {
			appLogger.WithError(err).Error("Embedding job failed")
			broker.Fail(ctx, job, err)
			continue
		}
		broker.Complete(ctx, job, nil)
	}

	appLogger.Info("Embedding queue drained")
}
