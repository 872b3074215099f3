package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverClassifiesAndSkips(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "beach.jpg"))
	writeFile(t, filepath.Join(root, "trips", "alps", "summit.NEF"))
	writeFile(t, filepath.Join(root, "trips", "alps", "notes.txt"))
	writeFile(t, filepath.Join(root, "trips", "IMG_1.cr2"))
	writeFile(t, filepath.Join(root, ".hidden", "secret.jpg"))
	writeFile(t, filepath.Join(root, "trips", "._IMG_1.cr2"))
	writeFile(t, filepath.Join(root, "scan.tiff"))

	files, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	byRel := make(map[string]File, len(files))
	for _, f := range files {
		byRel[f.RelPath] = f
	}

	if len(files) != 4 {
		t.Fatalf("discovered %d files, want 4: %v", len(files), byRel)
	}

	tests := []struct {
		rel    string
		isRaw  bool
		format string
	}{
		{"beach.jpg", false, "jpg"},
		{"scan.tiff", false, "tiff"},
		{"trips/IMG_1.cr2", true, "cr2"},
		{"trips/alps/summit.NEF", true, "nef"},
	}
	for _, tt := range tests {
		f, ok := byRel[tt.rel]
		if !ok {
			t.Errorf("missing %s", tt.rel)
			continue
		}
		if f.IsRaw != tt.isRaw {
			t.Errorf("%s: isRaw = %v, want %v", tt.rel, f.IsRaw, tt.isRaw)
		}
		if f.Format != tt.format {
			t.Errorf("%s: format = %q, want %q", tt.rel, f.Format, tt.format)
		}
	}

	if _, ok := byRel[".hidden/secret.jpg"]; ok {
		t.Error("hidden directory was not skipped")
	}
	if _, ok := byRel["trips/._IMG_1.cr2"]; ok {
		t.Error("AppleDouble file was not skipped")
	}
}

func TestDiscoverUnreadableRoot(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestExtClassifiers(t *testing.T) {
	if !IsStandardExt("JPG") || !IsStandardExt("webp") {
		t.Error("standard extensions not recognized")
	}
	if !IsRawExt("CR3") || !IsRawExt("dng") {
		t.Error("raw extensions not recognized")
	}
	if IsStandardExt("cr2") || IsRawExt("png") || IsStandardExt("txt") {
		t.Error("misclassified extension")
	}
}
