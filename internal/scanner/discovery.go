package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// standardExts are formats the extractor can decode directly.
var standardExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"webp": true, "bmp": true, "tif": true, "tiff": true,
}

// rawExts are camera RAW formats that need pre-conversion.
var rawExts = map[string]bool{
	"cr2": true, "cr3": true, "nef": true, "arw": true,
	"dng": true, "raf": true, "orf": true, "rw2": true,
	"pef": true, "srw": true, "x3f": true, "3fr": true,
	"iiq": true, "rwl": true,
}

// File is one discovered library entry.
type File struct {
	AbsPath string
	RelPath string
	IsRaw   bool
	Format  string // lowercase extension without dot
}

// IsStandardExt reports whether ext (without dot) is a directly
// decodable image format.
func IsStandardExt(ext string) bool {
	return standardExts[strings.ToLower(ext)]
}

// IsRawExt reports whether ext (without dot) is a RAW camera format.
func IsRawExt(ext string) bool {
	return rawExts[strings.ToLower(ext)]
}

// Discover walks the library root and returns every supported image
// file with its library-relative path. Hidden directories and
// AppleDouble sidecars ("._*") are skipped; unsupported extensions are
// ignored silently. An unreadable root is a hard error.
func Discover(root string) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("failed to read library root %s: %w", root, err)
			}
			// Unreadable subtree: log nothing here, just move on.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, "._") || strings.HasPrefix(name, ".") {
			return nil
		}

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		isRaw := rawExts[ext]
		if !isRaw && !standardExts[ext] {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		files = append(files, File{
			AbsPath: path,
			RelPath: filepath.ToSlash(rel),
			IsRaw:   isRaw,
			Format:  ext,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
