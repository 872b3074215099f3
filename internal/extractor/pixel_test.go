package extractor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/bits"
	"testing"

	"github.com/ericjohney/photobrain-sub000/internal/storage"
)

// gradient builds a deterministic test image with enough structure for
// the hash to be stable.
func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 64, A: 255})
		}
	}
	return img
}

func hammingDistance(t *testing.T, a, b string) int {
	t.Helper()
	var ha, hb uint64
	if _, err := fmt.Sscanf(a, "%x", &ha); err != nil {
		t.Fatalf("bad hash %q: %v", a, err)
	}
	if _, err := fmt.Sscanf(b, "%x", &hb); err != nil {
		t.Fatalf("bad hash %q: %v", b, err)
	}
	return bits.OnesCount64(ha ^ hb)
}

func TestPhashDeterministicAndScaleTolerant(t *testing.T) {
	a := Phash(gradient(320, 240))
	b := Phash(gradient(320, 240))
	if a != b {
		t.Errorf("hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16 hex chars", len(a))
	}

	// The same scene at a different resolution hashes to a nearby value.
	c := Phash(gradient(640, 480))
	if d := hammingDistance(t, a, c); d > 6 {
		t.Errorf("resized image hashed %d bits away: %s vs %s", d, a, c)
	}
}

func TestPhashDistinguishesImages(t *testing.T) {
	a := Phash(gradient(100, 100))
	// Left-bright versus the gradient: different bit pattern.
	half := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if x < 50 {
				half.Set(x, y, color.White)
			} else {
				half.Set(x, y, color.Black)
			}
		}
	}
	if b := Phash(half); b == a {
		t.Errorf("distinct images produced identical hash %s", a)
	}
}

func TestApplyOrientationSwapsDimensions(t *testing.T) {
	img := gradient(40, 20)

	tests := []struct {
		orientation  int
		wantW, wantH int
	}{
		{0, 40, 20},
		{1, 40, 20},
		{2, 40, 20},
		{3, 40, 20},
		{4, 40, 20},
		{5, 20, 40},
		{6, 20, 40},
		{7, 20, 40},
		{8, 20, 40},
	}
	for _, tt := range tests {
		out := ApplyOrientation(img, tt.orientation)
		b := out.Bounds()
		if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
			t.Errorf("orientation %d: %dx%d, want %dx%d", tt.orientation, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
		}
	}
}

func TestThumbnailKey(t *testing.T) {
	tests := []struct {
		prefix, size, relPath string
		want                  string
	}{
		{"thumbnails", "large", "beach.jpg", "thumbnails/large/beach.webp"},
		{"thumbnails", "tiny", "trips/alps/summit.cr2", "thumbnails/tiny/trips/alps/summit.webp"},
		{"t", "small", "no-extension", "t/small/no-extension.webp"},
	}
	for _, tt := range tests {
		if got := ThumbnailKey(tt.prefix, tt.size, tt.relPath); got != tt.want {
			t.Errorf("ThumbnailKey(%q, %q, %q) = %q, want %q", tt.prefix, tt.size, tt.relPath, got, tt.want)
		}
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		format string
		isRaw  bool
		want   string
	}{
		{"jpg", false, "image/jpeg"},
		{"jpeg", false, "image/jpeg"},
		{"tif", false, "image/tiff"},
		{"tiff", false, "image/tiff"},
		{"png", false, "image/png"},
		{"webp", false, "image/webp"},
		{"cr2", true, "image/x-cr2"},
		{"NEF", true, "image/x-nef"},
	}
	for _, tt := range tests {
		if got := MimeType(tt.format, tt.isRaw); got != tt.want {
			t.Errorf("MimeType(%q, %v) = %q, want %q", tt.format, tt.isRaw, got, tt.want)
		}
	}
}

func TestGenerateThumbnailsWritesLadder(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := GenerateThumbnails(ctx, store, "thumbnails", "trips/lake.jpg", gradient(2000, 1500)); err != nil {
		t.Fatalf("generate: %v", err)
	}

	for _, spec := range ThumbnailSpecs {
		key := ThumbnailKey("thumbnails", spec.Name, "trips/lake.jpg")
		ok, err := store.Exists(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("missing %s thumbnail at %s", spec.Name, key)
		}
	}
}
