package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

type fakeEmbedder struct {
	batchSizes []int
	failIdx    map[int]bool // indexes within the flattened call order that return nil
	calls      int
}

func (f *fakeEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	f.batchSizes = append(f.batchSizes, len(paths))
	vectors := make([][]float32, len(paths))
	for i := range paths {
		if f.failIdx[f.calls+i] {
			continue
		}
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	f.calls += len(paths)
	return vectors, nil
}

func (f *fakeEmbedder) Model() string   { return "clip-test" }
func (f *fakeEmbedder) Dimensions() int { return 3 }

type fakeIndex struct {
	upserts map[string][]float32
}

func (f *fakeIndex) Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.PhotoPayload) error {
	if f.upserts == nil {
		f.upserts = make(map[string][]float32)
	}
	f.upserts[pointID] = vector
	return nil
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Photo{}, &domain.Exif{}, &domain.PhotoEmbedding{}, &domain.Job{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// seedPhoto inserts a photo row and, unless skipThumb is set, a fake
// large thumbnail in object storage at the key the embedder reads.
func seedPhoto(t *testing.T, photos *repository.PhotoRepository, store storage.ObjectStorage, id string, skipThumb bool) {
	t.Helper()
	ctx := context.Background()
	photo := &domain.Photo{
		ID:   id,
		Path: "lib/" + id + ".jpg",
		Name: id + ".jpg",
	}
	if err := photos.UpsertByPath(ctx, photo); err != nil {
		t.Fatal(err)
	}
	if skipThumb {
		return
	}
	key := extractor.ThumbnailKey("thumbnails", "large", photo.Path)
	data := []byte("webp-bytes-" + id)
	if err := store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/webp"); err != nil {
		t.Fatal(err)
	}
}

func sweepJob(t *testing.T, ids []string) *domain.Job {
	t.Helper()
	payload, err := json.Marshal(map[string][]string{"photo_ids": ids})
	if err != nil {
		t.Fatal(err)
	}
	return &domain.Job{ID: "embedding-test", Queue: domain.QueueEmbedding, Payload: string(payload)}
}

func TestHandleJobBatchesAndPersists(t *testing.T) {
	db := newServiceDB(t)
	photos := repository.NewPhotoRepository(db)
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	svc := NewEmbeddingService(photos, index, embedder, store, "thumbnails", 16)

	var ids []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("photo-%02d", i)
		seedPhoto(t, photos, store, id, false)
		ids = append(ids, id)
	}

	var reports []EmbeddingProgress
	err = svc.HandleJob(context.Background(), sweepJob(t, ids), func(data interface{}) {
		reports = append(reports, data.(EmbeddingProgress))
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// 20 IDs with batch size 16 means two sidecar calls.
	if len(embedder.batchSizes) != 2 || embedder.batchSizes[0] != 16 || embedder.batchSizes[1] != 4 {
		t.Errorf("batch sizes = %v, want [16 4]", embedder.batchSizes)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d progress reports, want 2", len(reports))
	}
	final := reports[1]
	if final.Done != 20 || final.Failed != 0 || final.Total != 20 {
		t.Errorf("final progress = %+v, want done=20 failed=0 total=20", final)
	}

	if len(index.upserts) != 20 {
		t.Errorf("index has %d points, want 20", len(index.upserts))
	}

	emb, err := photos.GetEmbedding(context.Background(), "photo-00")
	if err != nil {
		t.Fatalf("embedding row missing: %v", err)
	}
	if emb.Status != domain.EmbeddingStatusComplete {
		t.Errorf("status = %s, want complete", emb.Status)
	}
	if emb.Model != "clip-test" || emb.Dims != 3 {
		t.Errorf("model/dims = %s/%d, want clip-test/3", emb.Model, emb.Dims)
	}
	got := UnpackVector(emb.Embedding)
	if len(got) != 3 || got[0] != 0.1 {
		t.Errorf("stored vector = %v, want [0.1 0.2 0.3]", got)
	}
}

func TestHandleJobRecordsPerPhotoFailures(t *testing.T) {
	db := newServiceDB(t)
	photos := repository.NewPhotoRepository(db)
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// The second embeddable photo gets a nil vector from the model.
	embedder := &fakeEmbedder{failIdx: map[int]bool{1: true}}
	index := &fakeIndex{}
	svc := NewEmbeddingService(photos, index, embedder, store, "thumbnails", 16)

	seedPhoto(t, photos, store, "good", false)
	seedPhoto(t, photos, store, "no-vector", false)
	seedPhoto(t, photos, store, "no-thumb", true)

	var reports []EmbeddingProgress
	err = svc.HandleJob(context.Background(), sweepJob(t, []string{"good", "no-vector", "no-thumb"}), func(data interface{}) {
		reports = append(reports, data.(EmbeddingProgress))
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	final := reports[len(reports)-1]
	if final.Done != 1 || final.Failed != 2 {
		t.Errorf("final progress = %+v, want done=1 failed=2", final)
	}

	// Per-photo failures are recorded, not fatal.
	for _, id := range []string{"no-vector", "no-thumb"} {
		emb, err := photos.GetEmbedding(context.Background(), id)
		if err != nil {
			t.Fatalf("failure row missing for %s: %v", id, err)
		}
		if emb.Status != domain.EmbeddingStatusFailed {
			t.Errorf("%s status = %s, want failed", id, emb.Status)
		}
		if emb.Error == nil || *emb.Error == "" {
			t.Errorf("%s error not recorded", id)
		}
	}

	if _, ok := index.upserts["good"]; !ok {
		t.Error("successful photo missing from index")
	}
	if len(index.upserts) != 1 {
		t.Errorf("index has %d points, want 1", len(index.upserts))
	}
}

func TestHandleJobEmptyPayload(t *testing.T) {
	svc := NewEmbeddingService(nil, nil, &fakeEmbedder{}, nil, "thumbnails", 16)
	if err := svc.HandleJob(context.Background(), sweepJob(t, nil), nil); err != nil {
		t.Fatalf("empty payload: %v", err)
	}
}

func TestPackUnpackVector(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-8}
	out := UnpackVector(PackVector(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("slot %d: %v != %v", i, out[i], in[i])
		}
	}
}
