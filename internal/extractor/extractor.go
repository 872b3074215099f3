// Package extractor derives per-file metadata: EXIF tags, pixel
// dimensions, perceptual hashes, and the thumbnail ladder.
package extractor

import (
	"context"
	"fmt"
	"os"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// Input describes one file to extract. For standard photos PixelPath
// equals OriginalPath; for RAW photos PixelPath points at the converted
// intermediate while identity and EXIF still come from the original.
type Input struct {
	PhotoID      string
	OriginalPath string
	PixelPath    string
	RelPath      string
	IsRaw        bool
	Format       string // lowercase extension without dot
}

// Result holds everything extracted from a single file.
type Result struct {
	Width    int
	Height   int
	MimeType string
	Phash    string
	Exif     *domain.Exif
}

// Engine runs the per-file extraction pass and writes derived
// thumbnails through object storage.
type Engine struct {
	store       storage.ObjectStorage
	thumbPrefix string
}

// NewEngine creates an extraction engine writing thumbnails under the
// given storage prefix.
func NewEngine(store storage.ObjectStorage, thumbPrefix string) *Engine {
	return &Engine{store: store, thumbPrefix: thumbPrefix}
}

// Extract performs one full pass over a file: EXIF from the original,
// decode, orientation normalization, perceptual hash, and the thumbnail
// ladder. The pixel source must be decodable; RAW callers are expected
// to have converted first.
func (e *Engine) Extract(ctx context.Context, in Input) (*Result, error) {
	res := &Result{
		MimeType: MimeType(in.Format, in.IsRaw),
	}

	orig, err := os.Open(in.OriginalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open original %s: %w", in.OriginalPath, err)
	}
	meta, exifErr := ExtractExif(orig, in.PhotoID)
	orig.Close()
	if exifErr != nil {
		return nil, exifErr
	}
	res.Exif = meta

	img, err := DecodeFile(in.PixelPath)
	if err != nil {
		return nil, err
	}

	orientation := 0
	if meta != nil && meta.Orientation != nil {
		orientation = *meta.Orientation
	}
	// RAW intermediates come out of the converter already upright.
	if !in.IsRaw {
		img = ApplyOrientation(img, orientation)
	}

	bounds := img.Bounds()
	res.Width = bounds.Dx()
	res.Height = bounds.Dy()
	res.Phash = Phash(img)

	if err := GenerateThumbnails(ctx, e.store, e.thumbPrefix, in.RelPath, img); err != nil {
		return nil, err
	}

	return res, nil
}

// ThumbnailPrefix exposes the configured storage prefix.
func (e *Engine) ThumbnailPrefix() string {
	return e.thumbPrefix
}
