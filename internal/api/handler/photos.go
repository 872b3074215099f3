package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ericjohney/photobrain-sub000/internal/extractor"
	"github.com/ericjohney/photobrain-sub000/internal/repository"
	"github.com/ericjohney/photobrain-sub000/internal/service"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// PhotoHandler serves photo listings, originals, thumbnails, and
// per-photo re-derivation endpoints.
type PhotoHandler struct {
	photos      *repository.PhotoRepository
	pipeline    *service.Pipeline
	store       storage.ObjectStorage
	libraryRoot string
	thumbPrefix string
}

// NewPhotoHandler creates a photo handler.
func NewPhotoHandler(
	photos *repository.PhotoRepository,
	pipeline *service.Pipeline,
	store storage.ObjectStorage,
	libraryRoot string,
	thumbPrefix string,
) *PhotoHandler {
	return &PhotoHandler{
		photos:      photos,
		pipeline:    pipeline,
		store:       store,
		libraryRoot: libraryRoot,
		thumbPrefix: thumbPrefix,
	}
}

// List returns photos with pagination.
// GET /api/v1/photos?limit=50&offset=0
func (h *PhotoHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	photos, err := h.photos.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list photos"})
		return
	}
	total, err := h.photos.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count photos"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"photos": photos,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns a single photo with its EXIF record.
// GET /api/v1/photos/:id
func (h *PhotoHandler) Get(c *gin.Context) {
	photo, err := h.photos.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load photo"})
		return
	}
	c.JSON(http.StatusOK, photo)
}

// Thumbnail streams a photo thumbnail at the requested size.
// GET /api/v1/photos/:id/thumbnail/:size
func (h *PhotoHandler) Thumbnail(c *gin.Context) {
	size := c.Param("size")
	if !validThumbnailSize(size) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown thumbnail size"})
		return
	}

	photo, err := h.photos.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load photo"})
		return
	}

	key := extractor.ThumbnailKey(h.thumbPrefix, size, photo.Path)
	rc, err := h.store.Download(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thumbnail not available"})
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "image/webp")
	c.Header("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	io.Copy(c.Writer, rc)
}

// File streams the original photo bytes.
// GET /api/v1/photos/:id/file
func (h *PhotoHandler) File(c *gin.Context) {
	photo, err := h.photos.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load photo"})
		return
	}

	path := filepath.Join(h.libraryRoot, filepath.FromSlash(photo.Path))
	if photo.MimeType != nil {
		c.Header("Content-Type", *photo.MimeType)
	}
	c.File(path)
}

// QueueEmbedding queues re-embedding for the photo.
// POST /api/v1/photos/:id/embedding
func (h *PhotoHandler) QueueEmbedding(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.photos.GetByID(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	jobID, err := h.pipeline.EnqueueEmbedding(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// QueuePhash queues perceptual-hash re-derivation for the photo.
// POST /api/v1/photos/:id/phash
func (h *PhotoHandler) QueuePhash(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.photos.GetByID(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	jobID, err := h.pipeline.EnqueuePhash(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func validThumbnailSize(size string) bool {
	for _, spec := range extractor.ThumbnailSpecs {
		if spec.Name == size {
			return true
		}
	}
	return false
}
