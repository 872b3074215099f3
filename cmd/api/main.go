package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ericjohney/photobrain-sub000/internal/api"
	"github.com/ericjohney/photobrain-sub000/internal/clip"
	"github.com/ericjohney/photobrain-sub000/internal/config"
	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/logger"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/scanner"
	"github.com/ericjohney/photobrain-sub000/internal/service"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "photobrain-api",
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	photoRepo := repository.NewPhotoRepository(db)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	// Probe for the RAW converter once; its absence only degrades RAW
	// handling, so the server still starts without it.
	converter, err := scanner.FindConverter(cfg.Converter.Path)
	if err != nil {
		appLogger.Warn("RAW converter not found, RAW files will be marked accordingly")
	} else {
		appLogger.WithField("path", converter.Path).Info("RAW converter found")
	}

	clipClient := clip.NewClient(&clip.Config{
		BaseURL:    cfg.Clip.BaseURL,
		Model:      cfg.Clip.Model,
		Dimensions: cfg.Clip.Dimensions,
		Timeout:    time.Duration(cfg.Clip.TimeoutSec) * time.Second,
	})

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

	embeddingService := service.NewEmbeddingService(
		photoRepo,
		qdrantRepo,
		clipClient,
		objectStorage,
		cfg.Thumbnails.Prefix,
		cfg.Queue.EmbedBatchSize,
	)
	searchService := service.NewSearchService(photoRepo, qdrantRepo, clipClient)

	pipeline := service.NewPipeline(
		broker,
		orchestrator,
		embeddingService,
		photoRepo,
		objectStorage,
		cfg.Library.Root,
		cfg.Thumbnails.Prefix,
		service.PipelineConfig{
			ScanWorkers:      cfg.Queue.ScanWorkers,
			PhashWorkers:     cfg.Queue.PhashWorkers,
			EmbeddingWorkers: cfg.Queue.EmbeddingWorkers,
			PollInterval:     time.Duration(cfg.Queue.PollIntervalMS) * time.Millisecond,
		},
	)

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		pipeline.Run(ctx)
	}()

	router := api.SetupRouter(api.Deps{
		Config:   cfg,
		Photos:   photoRepo,
		Pipeline: pipeline,
		Search:   searchService,
		Broker:   broker,
		Store:    objectStorage,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Stop the worker pools and wait for in-flight jobs.
	cancel()
	workers.Wait()

	appLogger.Info("Server exited")
}
