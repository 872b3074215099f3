package repository

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

func newTestRepo(t *testing.T) *PhotoRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Photo{}, &domain.Exif{}, &domain.PhotoEmbedding{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewPhotoRepository(db)
}

func addPhoto(t *testing.T, repo *PhotoRepository, id, path string, isRaw bool, rawStatus *string) {
	t.Helper()
	photo := &domain.Photo{
		ID:        id,
		Path:      path,
		Name:      filepath.Base(path),
		IsRaw:     isRaw,
		RawStatus: rawStatus,
	}
	if err := repo.UpsertByPath(context.Background(), photo); err != nil {
		t.Fatal(err)
	}
}

func TestUpsertByPathKeepsID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	make1 := "Canon"
	first := &domain.Photo{
		ID:   "id-1",
		Path: "a/b.jpg",
		Name: "b.jpg",
		Exif: &domain.Exif{PhotoID: "id-1", CameraMake: &make1},
	}
	if err := repo.UpsertByPath(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A later scan generates a fresh ID for the same path; the stored
	// row keeps the original.
	make2 := "Nikon"
	second := &domain.Photo{
		ID:   "id-2",
		Path: "a/b.jpg",
		Name: "b.jpg",
		Exif: &domain.Exif{PhotoID: "id-2", CameraMake: &make2},
	}
	if err := repo.UpsertByPath(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.ID != "id-1" {
		t.Errorf("upsert rewrote ID to %s, want id-1", second.ID)
	}

	stored, err := repo.GetByPath(ctx, "a/b.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != "id-1" {
		t.Errorf("stored ID = %s, want id-1", stored.ID)
	}
	if stored.Exif == nil || stored.Exif.CameraMake == nil || *stored.Exif.CameraMake != "Nikon" {
		t.Errorf("exif not refreshed: %+v", stored.Exif)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestListEmbeddingCandidates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	converted := domain.RawStatusConverted
	failed := domain.RawStatusFailed

	addPhoto(t, repo, "plain", "plain.jpg", false, nil)
	addPhoto(t, repo, "raw-ok", "ok.cr2", true, &converted)
	addPhoto(t, repo, "raw-bad", "bad.nef", true, &failed)
	addPhoto(t, repo, "done", "done.jpg", false, nil)
	addPhoto(t, repo, "retry", "retry.jpg", false, nil)

	if err := repo.UpsertEmbedding(ctx, &domain.PhotoEmbedding{
		PhotoID: "done",
		Status:  domain.EmbeddingStatusComplete,
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertEmbedding(ctx, &domain.PhotoEmbedding{
		PhotoID: "retry",
		Status:  domain.EmbeddingStatusFailed,
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := repo.ListEmbeddingCandidates(ctx)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool, len(ids))
	for _, id := range ids {
		got[id] = true
	}
	for _, want := range []string{"plain", "raw-ok", "retry"} {
		if !got[want] {
			t.Errorf("candidate %s missing from %v", want, ids)
		}
	}
	if got["done"] {
		t.Error("photo with complete embedding listed as candidate")
	}
	if got["raw-bad"] {
		t.Error("unconverted RAW listed as candidate")
	}
	if len(ids) != 3 {
		t.Errorf("got %d candidates, want 3", len(ids))
	}
}

func TestGetByIDsEmpty(t *testing.T) {
	repo := newTestRepo(t)
	photos, err := repo.GetByIDs(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(photos) != 0 {
		t.Fatalf("photos = %+v, want empty", photos)
	}
}
