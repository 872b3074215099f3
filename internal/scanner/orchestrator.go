package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/logger"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
)

// ScanPhaseProcessing is the phase reported while files are extracted.
const ScanPhaseProcessing = "processing"

// ScanProgress is the payload of per-file progress events.
type ScanProgress struct {
	Phase   string        `json:"phase"`
	Current int           `json:"current"`
	Failed  int           `json:"failed"`
	Total   int           `json:"total"`
	Photo   *domain.Photo `json:"photo,omitempty"`
}

// ScanSummary is attached to the completed scan job.
type ScanSummary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	RawFailed int `json:"raw_failed"`
	Queued    int `json:"queued_for_embedding"`
}

// EmbeddingSweepPayload is the payload of the embedding job a scan
// enqueues for photos still missing a vector.
type EmbeddingSweepPayload struct {
	PhotoIDs []string `json:"photo_ids"`
}

// Orchestrator runs a full library scan: discovery, one batched RAW
// conversion, bounded-parallel per-file extraction, and the closing
// embedding sweep.
type Orchestrator struct {
	photos         *repository.PhotoRepository
	broker         *queue.Broker
	engine         *extractor.Engine
	converter      *Converter // nil when no RAW converter was found
	root           string
	perFileTimeout time.Duration
	parallelism    int
}

// NewOrchestrator wires a scan orchestrator. converter comes from
// FindConverter at startup and may be nil.
func NewOrchestrator(
	photos *repository.PhotoRepository,
	broker *queue.Broker,
	engine *extractor.Engine,
	converter *Converter,
	root string,
	perFileTimeout time.Duration,
	parallelism int,
) *Orchestrator {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Orchestrator{
		photos:         photos,
		broker:         broker,
		engine:         engine,
		converter:      converter,
		root:           root,
		perFileTimeout: perFileTimeout,
		parallelism:    parallelism,
	}
}

// Scan walks the library and processes every supported file. scanID
// scopes the dedup key of the follow-up embedding sweep; report streams
// per-file progress. Returns a summary or a hard error (unreadable
// root).
func (o *Orchestrator) Scan(ctx context.Context, scanID string, report func(data interface{})) (*ScanSummary, error) {
	ctx = logger.SetComponent(ctx, "scanner")

	files, err := Discover(o.root)
	if err != nil {
		return nil, err
	}
	logger.CtxInfo(ctx, "discovered %d files under %s", len(files), o.root)

	// One converter invocation for the whole RAW set.
	var rawInputs []string
	for _, f := range files {
		if f.IsRaw {
			rawInputs = append(rawInputs, f.AbsPath)
		}
	}
	batch := NewBatch(o.converter, o.perFileTimeout)
	defer batch.Cleanup()

	converted := make(map[string]ConvertResult, len(rawInputs))
	if len(rawInputs) > 0 {
		results, err := batch.Convert(ctx, rawInputs)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			converted[r.Input] = r
		}
	}

	summary := &ScanSummary{Total: len(files)}
	var mu sync.Mutex
	progress := func(photo *domain.Photo, failed bool) {
		mu.Lock()
		if failed {
			summary.Failed++
		}
		summary.Processed++
		p := ScanProgress{
			Phase:   ScanPhaseProcessing,
			Current: summary.Processed,
			Failed:  summary.Failed,
			Total:   summary.Total,
			Photo:   photo,
		}
		mu.Unlock()
		if report != nil {
			report(p)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(o.parallelism))

	for _, f := range files {
		f := f
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			if f.IsRaw {
				res := converted[f.AbsPath]
				if res.Err != nil {
					photo, perr := o.persistRawFailure(gctx, f, res.Err)
					if perr != nil {
						logger.CtxError(gctx, "failed to persist raw failure for %s: %v", f.RelPath, perr)
					}
					mu.Lock()
					summary.RawFailed++
					mu.Unlock()
					progress(photo, true)
					return nil
				}
				photo, perr := o.processFile(gctx, f, res.OutputPath)
				if perr != nil {
					// The converter produced output but the intermediate was
					// unusable. Record it like any other RAW failure so the
					// file stays visible with its error.
					logger.CtxError(gctx, "extraction failed for %s: %v", f.RelPath, perr)
					failedPhoto, frr := o.persistRawFailure(gctx, f, perr)
					if frr != nil {
						logger.CtxError(gctx, "failed to persist raw failure for %s: %v", f.RelPath, frr)
					}
					mu.Lock()
					summary.RawFailed++
					mu.Unlock()
					progress(failedPhoto, true)
					return nil
				}
				progress(photo, false)
				return nil
			}

			photo, perr := o.processFile(gctx, f, f.AbsPath)
			if perr != nil {
				// Corrupt or unreadable standard file: log and move on.
				logger.CtxError(gctx, "extraction failed for %s: %v", f.RelPath, perr)
				progress(nil, true)
				return nil
			}
			progress(photo, false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	queued, err := o.sweepEmbeddings(ctx, scanID)
	if err != nil {
		logger.CtxError(ctx, "embedding sweep failed: %v", err)
	}
	summary.Queued = queued

	logger.CtxInfo(ctx, "scan finished: %d processed, %d failed, %d queued for embedding",
		summary.Processed, summary.Failed, summary.Queued)
	return summary, nil
}

// processFile runs extraction for one file and upserts the photo row.
// pixelPath is the decodable source; for RAW files it is the converted
// intermediate.
func (o *Orchestrator) processFile(ctx context.Context, f File, pixelPath string) (*domain.Photo, error) {
	info, err := os.Stat(f.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", f.AbsPath, err)
	}

	photo := &domain.Photo{
		ID:             uuid.NewString(),
		Path:           f.RelPath,
		Name:           info.Name(),
		FileSize:       info.Size(),
		FileCreatedAt:  info.ModTime().UnixMilli(),
		FileModifiedAt: info.ModTime().UnixMilli(),
		IsRaw:          f.IsRaw,
	}
	if f.IsRaw {
		format := f.Format
		status := domain.RawStatusConverted
		photo.RawFormat = &format
		photo.RawStatus = &status
	}

	res, err := o.engine.Extract(ctx, extractor.Input{
		PhotoID:      photo.ID,
		OriginalPath: f.AbsPath,
		PixelPath:    pixelPath,
		RelPath:      f.RelPath,
		IsRaw:        f.IsRaw,
		Format:       f.Format,
	})
	if err != nil {
		return nil, err
	}

	photo.Width = &res.Width
	photo.Height = &res.Height
	photo.MimeType = &res.MimeType
	photo.Phash = &res.Phash
	photo.Exif = res.Exif

	if err := o.photos.UpsertByPath(ctx, photo); err != nil {
		return nil, fmt.Errorf("failed to persist %s: %w", f.RelPath, err)
	}
	return photo, nil
}

// persistRawFailure records a RAW file whose conversion failed so the
// library shows the file with its error instead of dropping it.
func (o *Orchestrator) persistRawFailure(ctx context.Context, f File, convErr error) (*domain.Photo, error) {
	info, err := os.Stat(f.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", f.AbsPath, err)
	}

	status := domain.RawStatusFailed
	if convErr == ErrNoConverter {
		status = domain.RawStatusNoConverter
	}
	format := f.Format
	errMsg := convErr.Error()
	mime := extractor.MimeType(f.Format, true)

	photo := &domain.Photo{
		ID:             uuid.NewString(),
		Path:           f.RelPath,
		Name:           info.Name(),
		FileSize:       info.Size(),
		FileCreatedAt:  info.ModTime().UnixMilli(),
		FileModifiedAt: info.ModTime().UnixMilli(),
		MimeType:       &mime,
		IsRaw:          true,
		RawFormat:      &format,
		RawStatus:      &status,
		RawError:       &errMsg,
	}

	if err := o.photos.UpsertByPath(ctx, photo); err != nil {
		return nil, err
	}
	return photo, nil
}

// sweepEmbeddings queues every photo whose embedding is missing or
// failed. The sweep runs at the end of each scan, so embeddings heal
// even when previous runs were interrupted.
func (o *Orchestrator) sweepEmbeddings(ctx context.Context, scanID string) (int, error) {
	ids, err := o.photos.ListEmbeddingCandidates(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(EmbeddingSweepPayload{PhotoIDs: ids})
	if err != nil {
		return 0, err
	}
	jobID := "embedding-scan-" + scanID
	if err := o.broker.Enqueue(ctx, domain.QueueEmbedding, jobID, string(payload)); err != nil {
		return 0, err
	}
	return len(ids), nil
}
