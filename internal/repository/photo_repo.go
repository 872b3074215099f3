package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
)

// PhotoRepository handles photo data operations.
type PhotoRepository struct {
	db *gorm.DB
}

// NewPhotoRepository creates a new PhotoRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *PhotoRepository: repository instance bound to db.
func NewPhotoRepository(db *gorm.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

// UpsertByPath creates or refreshes a photo record keyed by its
// library-relative path. An existing row keeps its ID so re-scans never
// produce duplicates; the incoming record's ID is overwritten with the
// stored one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - photo: photo record to create or update; ID is rewritten on update.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *PhotoRepository) UpsertByPath(ctx context.Context, photo *domain.Photo) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Photo
		err := tx.Select("id").First(&existing, "path = ?", photo.Path).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			return tx.Create(photo).Error
		case err != nil:
			return err
		}
		photo.ID = existing.ID
		if photo.Exif != nil {
			photo.Exif.PhotoID = existing.ID
		}
		return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(photo).Error
	})
}

// GetByID retrieves a photo with its EXIF record by ID.
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	var photo domain.Photo
	if err := r.db.WithContext(ctx).Preload("Exif").First(&photo, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &photo, nil
}

// GetByPath retrieves a photo by its library-relative path.
func (r *PhotoRepository) GetByPath(ctx context.Context, path string) (*domain.Photo, error) {
	var photo domain.Photo
	if err := r.db.WithContext(ctx).Preload("Exif").First(&photo, "path = ?", path).Error; err != nil {
		return nil, err
	}
	return &photo, nil
}

// GetByIDs retrieves photos by a list of IDs. Order is not guaranteed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: list of photo IDs.
// Returns:
//   - []domain.Photo: matching photo records.
//   - error: non-nil if the query fails.
func (r *PhotoRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Photo, error) {
	if len(ids) == 0 {
		return []domain.Photo{}, nil
	}
	var photos []domain.Photo
	if err := r.db.WithContext(ctx).Preload("Exif").Where("id IN ?", ids).Find(&photos).Error; err != nil {
		return nil, fmt.Errorf("failed to get photos by IDs: %w", err)
	}
	return photos, nil
}

// List retrieves photos with pagination, newest captures first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Photo: matching photo records.
//   - error: non-nil if the query fails.
func (r *PhotoRepository) List(ctx context.Context, limit, offset int) ([]domain.Photo, error) {
	var photos []domain.Photo
	if err := r.db.WithContext(ctx).
		Preload("Exif").
		Order("file_created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&photos).Error; err != nil {
		return nil, err
	}
	return photos, nil
}

// Count returns the total number of photos.
func (r *PhotoRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Photo{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SetPhash updates the perceptual hash for a photo.
func (r *PhotoRepository) SetPhash(ctx context.Context, id, phash string) error {
	return r.db.WithContext(ctx).Model(&domain.Photo{}).
		Where("id = ?", id).
		Update("phash", phash).Error
}

// UpsertEmbedding stores or replaces a photo's embedding record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - emb: embedding record to persist.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *PhotoRepository) UpsertEmbedding(ctx context.Context, emb *domain.PhotoEmbedding) error {
	emb.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "photo_id"}},
		UpdateAll: true,
	}).Create(emb).Error
}

// GetEmbedding retrieves the embedding record for a photo.
func (r *PhotoRepository) GetEmbedding(ctx context.Context, photoID string) (*domain.PhotoEmbedding, error) {
	var emb domain.PhotoEmbedding
	if err := r.db.WithContext(ctx).First(&emb, "photo_id = ?", photoID).Error; err != nil {
		return nil, err
	}
	return &emb, nil
}

// ListEmbeddingCandidates returns IDs of photos whose embedding is
// missing, pending, or failed. RAW photos without a successful
// conversion are excluded because there is no pixel data to embed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []string: photo IDs needing an embedding.
//   - error: non-nil if the query fails.
func (r *PhotoRepository) ListEmbeddingCandidates(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.Photo{}).
		Joins("LEFT JOIN photo_embeddings ON photo_embeddings.photo_id = photos.id").
		Where("photo_embeddings.photo_id IS NULL OR photo_embeddings.status <> ?", domain.EmbeddingStatusComplete).
		Where("photos.is_raw = ? OR photos.raw_status = ?", false, domain.RawStatusConverted).
		Order("photos.created_at ASC").
		Pluck("photos.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list embedding candidates: %w", err)
	}
	return ids, nil
}

// Delete removes a photo by ID along with its embedding row. EXIF
// cascades through the association constraint.
func (r *PhotoRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.PhotoEmbedding{}, "photo_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Photo{}, "id = ?", id).Error
	})
}
