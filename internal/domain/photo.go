package domain

import "time"

// RawStatus values describe the outcome of RAW pre-conversion for a photo.
const (
	RawStatusConverted   = "converted"
	RawStatusFailed      = "failed"
	RawStatusNoConverter = "no_converter"
)

// EmbeddingStatus represents the lifecycle of a photo's vector embedding.
// Values include EmbeddingStatusPending, EmbeddingStatusComplete, and EmbeddingStatusFailed.
type EmbeddingStatus string

const (
	EmbeddingStatusPending  EmbeddingStatus = "pending"
	EmbeddingStatusComplete EmbeddingStatus = "complete"
	EmbeddingStatusFailed   EmbeddingStatus = "failed"
)

// Photo represents a single image file in the library. The row is keyed by
// a stable UUID; Path is the library-relative path and is unique, so a
// re-scan refreshes the existing row instead of inserting a duplicate.
type Photo struct {
	ID             string  `gorm:"type:text;primaryKey" json:"id"`
	Path           string  `gorm:"type:text;not null;uniqueIndex:idx_photos_path" json:"path"`
	Name           string  `gorm:"type:text;not null" json:"name"`
	FileSize       int64   `json:"file_size"`
	FileCreatedAt  int64   `json:"file_created_at"`
	FileModifiedAt int64   `json:"file_modified_at"`
	Width          *int    `json:"width,omitempty"`
	Height         *int    `json:"height,omitempty"`
	MimeType       *string `gorm:"type:text" json:"mime_type,omitempty"`
	Phash          *string `gorm:"type:text" json:"phash,omitempty"`

	// RAW files keep their conversion outcome on the row so failures stay
	// visible in the library instead of silently disappearing.
	IsRaw     bool    `gorm:"index:idx_photos_is_raw" json:"is_raw"`
	RawFormat *string `gorm:"type:text" json:"raw_format,omitempty"`
	RawStatus *string `gorm:"type:text" json:"raw_status,omitempty"`
	RawError  *string `gorm:"type:text" json:"raw_error,omitempty"`

	Exif *Exif `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE" json:"exif,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Photo.
func (Photo) TableName() string {
	return "photos"
}

// Exif holds camera metadata extracted from a photo. All fields are
// nullable because most files carry only a subset of tags.
type Exif struct {
	PhotoID      string  `gorm:"type:text;primaryKey" json:"photo_id"`
	CameraMake   *string `gorm:"type:text" json:"camera_make,omitempty"`
	CameraModel  *string `gorm:"type:text" json:"camera_model,omitempty"`
	LensMake     *string `gorm:"type:text" json:"lens_make,omitempty"`
	LensModel    *string `gorm:"type:text" json:"lens_model,omitempty"`
	FocalLength  *string `gorm:"type:text" json:"focal_length,omitempty"`
	ISO          *int    `json:"iso,omitempty"`
	Aperture     *string `gorm:"type:text" json:"aperture,omitempty"`
	ShutterSpeed *string `gorm:"type:text" json:"shutter_speed,omitempty"`
	ExposureBias *string `gorm:"type:text" json:"exposure_bias,omitempty"`
	DateTaken    *string `gorm:"type:text" json:"date_taken,omitempty"`
	// GPS coordinates are stored as decimal strings so precision never
	// drifts through float round-trips.
	GPSLatitude  *string `gorm:"type:text" json:"gps_latitude,omitempty"`
	GPSLongitude *string `gorm:"type:text" json:"gps_longitude,omitempty"`
	GPSAltitude  *string `gorm:"type:text" json:"gps_altitude,omitempty"`
	Orientation  *int    `json:"orientation,omitempty"`
}

// TableName returns the database table name for Exif.
func (Exif) TableName() string {
	return "photo_exif"
}

// PhotoEmbedding tracks the vector embedding for a photo in a side table
// so embedding retries never touch the photo row itself.
type PhotoEmbedding struct {
	PhotoID   string          `gorm:"type:text;primaryKey" json:"photo_id"`
	Embedding []byte          `gorm:"type:blob" json:"-"`
	Model     string          `gorm:"type:text" json:"model"`
	Dims      int             `json:"dims"`
	Status    EmbeddingStatus `gorm:"type:text;index:idx_photo_embeddings_status;default:pending" json:"status"`
	Error     *string         `gorm:"type:text" json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the database table name for PhotoEmbedding.
func (PhotoEmbedding) TableName() string {
	return "photo_embeddings"
}

// PhotoSearchResult represents a search result with a similarity score.
type PhotoSearchResult struct {
	Photo
	Score float32 `json:"score"`
}
