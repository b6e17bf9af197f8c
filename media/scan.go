package media

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// supportedExts is the allow-list of raster inputs, compared lowercased.
var supportedExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".avif": true,
	".tiff": true,
}

// RawAsset is a source image in the input directory.
type RawAsset struct {
	ID   string // file name without extension
	Ext  string // extension as found on disk, including the dot
	Path string

	ModTime time.Time
	// LastModified is ModTime in fractional milliseconds since the epoch.
	LastModified float64
}

// Dimensions reads the pixel size from the image header.
func (a RawAsset) Dimensions() (int, int, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// IsSupported reports whether name has an allow-listed image extension.
func IsSupported(name string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(name))]
}

// Fingerprint converts a modification time to the manifest's lastModified value.
func Fingerprint(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e6
}

// Scan lists the supported images directly inside dir. A missing dir is
// created and yields no assets. The second return value lists the names that
// were skipped: unsupported extensions, subdirectories and duplicate ids.
// When two files share a base name, the first in lexical order wins.
func Scan(dir string) ([]RawAsset, []string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create input dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read input dir: %w", err)
	}

	var (
		assets  []RawAsset
		ignored []string
		seen    = make(map[string]bool)
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !IsSupported(name) {
			ignored = append(ignored, name)
			continue
		}
		ext := filepath.Ext(name)
		id := strings.TrimSuffix(name, ext)
		if seen[id] {
			ignored = append(ignored, name)
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			ignored = append(ignored, name)
			continue
		}
		seen[id] = true
		assets = append(assets, RawAsset{
			ID:           id,
			Ext:          ext,
			Path:         filepath.Join(dir, name),
			ModTime:      info.ModTime(),
			LastModified: Fingerprint(info.ModTime()),
		})
	}
	return assets, ignored, nil
}
