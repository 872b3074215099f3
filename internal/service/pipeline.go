package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/scanner"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// PipelineConfig holds the per-queue worker ceilings.
type PipelineConfig struct {
	ScanWorkers      int
	PhashWorkers     int
	EmbeddingWorkers int
	PollInterval     time.Duration
}

// Pipeline owns the worker pools for the three fixed queues and the
// handlers behind them.
type Pipeline struct {
	broker       *queue.Broker
	orchestrator *scanner.Orchestrator
	embeddings   *EmbeddingService
	photos       *repository.PhotoRepository
	store        storage.ObjectStorage
	libraryRoot  string
	thumbPrefix  string
	cfg          PipelineConfig
}

// NewPipeline wires the queue handlers.
func NewPipeline(
	broker *queue.Broker,
	orchestrator *scanner.Orchestrator,
	embeddings *EmbeddingService,
	photos *repository.PhotoRepository,
	store storage.ObjectStorage,
	libraryRoot string,
	thumbPrefix string,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		broker:       broker,
		orchestrator: orchestrator,
		embeddings:   embeddings,
		photos:       photos,
		store:        store,
		libraryRoot:  libraryRoot,
		thumbPrefix:  thumbPrefix,
		cfg:          cfg,
	}
}

// Run starts one pool per queue and blocks until ctx is cancelled and
// all in-flight jobs are done.
func (p *Pipeline) Run(ctx context.Context) {
	pools := []*queue.Pool{
		queue.NewPool(p.broker, domain.QueueScan, p.cfg.ScanWorkers, p.cfg.PollInterval, p.handleScan),
		queue.NewPool(p.broker, domain.QueuePhash, p.cfg.PhashWorkers, p.cfg.PollInterval, p.handlePhash),
		queue.NewPool(p.broker, domain.QueueEmbedding, p.cfg.EmbeddingWorkers, p.cfg.PollInterval, p.embeddings.HandleJob),
	}

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(pl *queue.Pool) {
			defer wg.Done()
			pl.Run(ctx)
		}(pool)
	}
	wg.Wait()
}

// EnqueueScan queues a library scan. The job ID is time-bucketed so
// repeated clicks while a scan is queued or running collapse into one
// job.
func (p *Pipeline) EnqueueScan(ctx context.Context) (string, error) {
	jobID := fmt.Sprintf("scan-%s", time.Now().UTC().Format("20060102T150405"))
	if err := p.broker.Enqueue(ctx, domain.QueueScan, jobID, ""); err != nil {
		return "", err
	}
	return jobID, nil
}

// EnqueueEmbedding queues re-embedding for a single photo.
func (p *Pipeline) EnqueueEmbedding(ctx context.Context, photoID string) (string, error) {
	payload, err := json.Marshal(scanner.EmbeddingSweepPayload{PhotoIDs: []string{photoID}})
	if err != nil {
		return "", err
	}
	jobID := "embedding-" + photoID
	if err := p.broker.Enqueue(ctx, domain.QueueEmbedding, jobID, string(payload)); err != nil {
		return "", err
	}
	return jobID, nil
}

// EnqueuePhash queues perceptual-hash re-derivation for a single photo.
func (p *Pipeline) EnqueuePhash(ctx context.Context, photoID string) (string, error) {
	payload, err := json.Marshal(phashPayload{PhotoID: photoID})
	if err != nil {
		return "", err
	}
	jobID := "phash-" + photoID
	if err := p.broker.Enqueue(ctx, domain.QueuePhash, jobID, string(payload)); err != nil {
		return "", err
	}
	return jobID, nil
}

// handleScan runs the orchestrator for one scan job. The scan job ID
// scopes the follow-up embedding sweep's dedup key.
func (p *Pipeline) handleScan(ctx context.Context, job *domain.Job, report queue.ProgressFunc) error {
	_, err := p.orchestrator.Scan(ctx, job.ID, report)
	return err
}

type phashPayload struct {
	PhotoID string `json:"photo_id"`
}

// handlePhash re-derives the perceptual hash for one photo without a
// full re-scan. Standard photos hash from the original file; RAW photos
// hash from the stored large thumbnail because the original needs a
// converter pass.
func (p *Pipeline) handlePhash(ctx context.Context, job *domain.Job, report queue.ProgressFunc) error {
	var payload phashPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("invalid phash payload: %w", err)
	}

	photo, err := p.photos.GetByID(ctx, payload.PhotoID)
	if err != nil {
		return fmt.Errorf("failed to load photo %s: %w", payload.PhotoID, err)
	}

	var phash string
	if photo.IsRaw {
		phash, err = p.phashFromThumbnail(ctx, photo)
	} else {
		orientation := 0
		if photo.Exif != nil && photo.Exif.Orientation != nil {
			orientation = *photo.Exif.Orientation
		}
		src := filepath.Join(p.libraryRoot, filepath.FromSlash(photo.Path))
		phash, err = extractor.PhashFile(src, orientation)
	}
	if err != nil {
		return err
	}

	return p.photos.SetPhash(ctx, photo.ID, phash)
}

func (p *Pipeline) phashFromThumbnail(ctx context.Context, photo *domain.Photo) (string, error) {
	key := extractor.ThumbnailKey(p.thumbPrefix, "large", photo.Path)
	rc, err := p.store.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("no thumbnail for raw photo %s: %w", photo.ID, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "photobrain-phash-*.webp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// Thumbnails are already upright.
	return extractor.PhashFile(tmpName, 0)
}
