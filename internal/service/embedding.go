package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/logger"
	"github.com/ericjohney/photobrain-sub000/internal/queue"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// ImageEmbedder turns image files into vectors. Satisfied by the CLIP
// sidecar client.
type ImageEmbedder interface {
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// VectorIndex receives finished vectors for similarity search.
type VectorIndex interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.PhotoPayload) error
}

// EmbeddingProgress is the payload of embedding progress events.
type EmbeddingProgress struct {
	Done   int `json:"done"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// EmbeddingService derives vectors for photos in batches. One job
// carries a list of photo IDs; the service slices it into sidecar-sized
// groups so a single slow model call never holds hundreds of photos
// hostage.
type EmbeddingService struct {
	photos      *repository.PhotoRepository
	vectors     VectorIndex
	embedder    ImageEmbedder
	store       storage.ObjectStorage
	thumbPrefix string
	batchSize   int
}

// NewEmbeddingService creates the batch embedding worker service.
func NewEmbeddingService(
	photos *repository.PhotoRepository,
	vectors VectorIndex,
	embedder ImageEmbedder,
	store storage.ObjectStorage,
	thumbPrefix string,
	batchSize int,
) *EmbeddingService {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &EmbeddingService{
		photos:      photos,
		vectors:     vectors,
		embedder:    embedder,
		store:       store,
		thumbPrefix: thumbPrefix,
		batchSize:   batchSize,
	}
}

// HandleJob processes one embedding job. Per-photo failures are
// recorded on the embedding row and never abort the rest of the batch;
// only infrastructure errors (store, database) fail the job.
func (s *EmbeddingService) HandleJob(ctx context.Context, job *domain.Job, report queue.ProgressFunc) error {
	var payload struct {
		PhotoIDs []string `json:"photo_ids"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("invalid embedding payload: %w", err)
	}
	if len(payload.PhotoIDs) == 0 {
		return nil
	}

	progress := EmbeddingProgress{Total: len(payload.PhotoIDs)}
	for start := 0; start < len(payload.PhotoIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(payload.PhotoIDs) {
			end = len(payload.PhotoIDs)
		}
		done, failed, err := s.embedGroup(ctx, payload.PhotoIDs[start:end])
		if err != nil {
			return err
		}
		progress.Done += done
		progress.Failed += failed
		if report != nil {
			report(progress)
		}
	}
	return nil
}

// embedGroup embeds one sidecar-sized group of photos.
func (s *EmbeddingService) embedGroup(ctx context.Context, ids []string) (done, failed int, err error) {
	photos, err := s.photos.GetByIDs(ctx, ids)
	if err != nil {
		return 0, 0, err
	}
	byID := make(map[string]*domain.Photo, len(photos))
	for i := range photos {
		byID[photos[i].ID] = &photos[i]
	}

	tmpDir, err := os.MkdirTemp("", "photobrain-embed-*")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create embed temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// The sidecar reads files from disk, so large thumbnails come out
	// of object storage into the temp dir first.
	var paths []string
	var embeddable []*domain.Photo
	for _, id := range ids {
		photo, ok := byID[id]
		if !ok {
			failed++
			continue
		}
		path, ferr := s.fetchThumbnail(ctx, photo, tmpDir)
		if ferr != nil {
			logger.CtxWarn(ctx, "no embeddable image for photo %s: %v", photo.ID, ferr)
			s.markFailed(ctx, photo.ID, ferr)
			failed++
			continue
		}
		paths = append(paths, path)
		embeddable = append(embeddable, photo)
	}
	if len(embeddable) == 0 {
		return done, failed, nil
	}

	vectors, err := s.embedder.EmbedImages(ctx, paths)
	if err != nil {
		return done, failed, fmt.Errorf("embedding batch failed: %w", err)
	}

	for i, photo := range embeddable {
		if i >= len(vectors) || vectors[i] == nil {
			s.markFailed(ctx, photo.ID, fmt.Errorf("model returned no embedding"))
			failed++
			continue
		}
		if perr := s.persistVector(ctx, photo, vectors[i]); perr != nil {
			return done, failed, perr
		}
		done++
	}
	return done, failed, nil
}

// fetchThumbnail downloads the large thumbnail into dir and returns its
// local path.
func (s *EmbeddingService) fetchThumbnail(ctx context.Context, photo *domain.Photo, dir string) (string, error) {
	key := extractor.ThumbnailKey(s.thumbPrefix, "large", photo.Path)
	rc, err := s.store.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	path := filepath.Join(dir, photo.ID+".webp")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func (s *EmbeddingService) persistVector(ctx context.Context, photo *domain.Photo, vector []float32) error {
	emb := &domain.PhotoEmbedding{
		PhotoID:   photo.ID,
		Embedding: PackVector(vector),
		Model:     s.embedder.Model(),
		Dims:      len(vector),
		Status:    domain.EmbeddingStatusComplete,
	}
	if err := s.photos.UpsertEmbedding(ctx, emb); err != nil {
		return fmt.Errorf("failed to persist embedding for %s: %w", photo.ID, err)
	}

	if err := s.vectors.Upsert(ctx, photo.ID, vector, &repository.PhotoPayload{
		PhotoID: photo.ID,
		Path:    photo.Path,
		IsRaw:   photo.IsRaw,
		Model:   s.embedder.Model(),
	}); err != nil {
		return fmt.Errorf("failed to index embedding for %s: %w", photo.ID, err)
	}
	return nil
}

func (s *EmbeddingService) markFailed(ctx context.Context, photoID string, cause error) {
	msg := cause.Error()
	emb := &domain.PhotoEmbedding{
		PhotoID: photoID,
		Model:   s.embedder.Model(),
		Status:  domain.EmbeddingStatusFailed,
		Error:   &msg,
	}
	if err := s.photos.UpsertEmbedding(ctx, emb); err != nil {
		logger.CtxError(ctx, "failed to record embedding failure for %s: %v", photoID, err)
	}
}

// PackVector encodes a float32 vector as little-endian bytes for blob
// storage.
func PackVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// UnpackVector decodes a blob produced by PackVector.
func UnpackVector(buf []byte) []float32 {
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}
