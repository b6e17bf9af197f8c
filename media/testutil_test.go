package media

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pngEncoder stands in for the slow avif/webp encoders and counts calls.
type pngEncoder struct {
	mu    sync.Mutex
	calls int
}

func (e *pngEncoder) Encode(w io.Writer, img image.Image, _ EncodeOptions) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return png.Encode(w, img)
}

func (e *pngEncoder) MIMEType() string { return "image/png" }

func (e *pngEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, gradient(w, h)))
}

func setMtime(t *testing.T, path string, sec int64) {
	t.Helper()
	ts := time.Unix(sec, 0)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

type fixture struct {
	root string
	cfg  Config
	enc  *pngEncoder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		root: root,
		enc:  &pngEncoder{},
		cfg: Config{
			InputDir:     filepath.Join(root, "raw"),
			OutputDir:    filepath.Join(root, "out"),
			ManifestPath: filepath.Join(root, "data", "manifest.json"),
		},
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithEncoder("avif", f.enc),
		WithEncoder("webp", f.enc),
	}, opts...)
	p, err := NewPipeline(f.cfg, opts...)
	require.NoError(t, err)
	return p
}

func (f *fixture) raw(name string) string {
	return filepath.Join(f.cfg.InputDir, name)
}

func (f *fixture) mkInput(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.cfg.InputDir, 0o755))
}
