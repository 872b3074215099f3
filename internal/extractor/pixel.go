package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Register decoders for every supported standard format.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// ThumbnailSpec describes one rung of the thumbnail ladder.
type ThumbnailSpec struct {
	Name    string
	MaxDim  int
	Quality float32
}

// ThumbnailSpecs is the fixed ladder of generated thumbnail sizes.
var ThumbnailSpecs = []ThumbnailSpec{
	{Name: "tiny", MaxDim: 150, Quality: 80},
	{Name: "small", MaxDim: 400, Quality: 85},
	{Name: "medium", MaxDim: 800, Quality: 85},
	{Name: "large", MaxDim: 1600, Quality: 90},
}

// ThumbnailKey returns the deterministic storage key for a photo's
// thumbnail at the given size. The key mirrors the library layout under
// the size directory, with the extension replaced by .webp.
func ThumbnailKey(prefix, size, relPath string) string {
	withoutExt := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	return fmt.Sprintf("%s/%s/%s.webp", prefix, size, withoutExt)
}

// DecodeFile decodes an image file into memory.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// ApplyOrientation normalizes an image according to its EXIF
// orientation tag (values 2 through 8) so every derived output is
// upright.
func ApplyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Phash computes a 64-bit perceptual mean hash: grayscale, shrink to
// 8x8, then one bit per pixel against the mean luminance. Returned as
// 16 hex characters. Visually similar images hash to nearby values.
func Phash(img image.Image) string {
	small := imaging.Resize(imaging.Grayscale(img), 8, 8, imaging.Lanczos)

	var values [64]uint8
	var sum int
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := small.NRGBAAt(x, y).R
			values[y*8+x] = v
			sum += int(v)
		}
	}
	mean := sum / 64

	var hash uint64
	for i, v := range values {
		if int(v) > mean {
			hash |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", hash)
}

// PhashFile derives the perceptual hash for an image file, applying the
// given EXIF orientation first.
func PhashFile(path string, orientation int) (string, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return "", err
	}
	return Phash(ApplyOrientation(img, orientation)), nil
}

// GenerateThumbnails renders the full ladder for an upright image and
// writes each rung through the object storage under its deterministic
// key. Fit never upscales, so small originals produce identical rungs.
func GenerateThumbnails(ctx context.Context, store storage.ObjectStorage, prefix, relPath string, img image.Image) error {
	for _, spec := range ThumbnailSpecs {
		thumb := imaging.Fit(img, spec.MaxDim, spec.MaxDim, imaging.Lanczos)

		var buf bytes.Buffer
		if err := webp.Encode(&buf, thumb, &webp.Options{Quality: spec.Quality}); err != nil {
			return fmt.Errorf("failed to encode %s thumbnail for %s: %w", spec.Name, relPath, err)
		}

		key := ThumbnailKey(prefix, spec.Name, relPath)
		if err := store.Upload(ctx, key, &buf, int64(buf.Len()), "image/webp"); err != nil {
			return fmt.Errorf("failed to store %s thumbnail for %s: %w", spec.Name, relPath, err)
		}
	}
	return nil
}

// MimeType derives the MIME type from a format extension. RAW formats
// map to their vendor-specific x- types.
func MimeType(format string, isRaw bool) string {
	format = strings.ToLower(format)
	if isRaw {
		return "image/x-" + format
	}
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "image/" + format
	}
}
