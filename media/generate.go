package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"golang.org/x/image/draw"
)

// colorSampleSize bounds the thumbnail used for dominant color detection.
const colorSampleSize = 64

// OriginalsDir is the output subdirectory holding verbatim copies of sources
// narrower than every breakpoint. Variants are written flat into the output
// dir, so no variant name can land here.
const OriginalsDir = "original"

// ErrTooLarge is returned for sources whose pixel count exceeds max_pixels.
var ErrTooLarge = errors.New("image exceeds pixel limit")

// Generator produces the placeholder and resized variants for one asset.
type Generator struct {
	cfg      Config
	encoders map[string]Encoder
}

// NewGenerator returns a Generator for cfg. encoders overrides the built-in
// encoder for a format; nil uses the built-ins only.
func NewGenerator(cfg Config, encoders map[string]Encoder) *Generator {
	enc := make(map[string]Encoder, len(builtinEncoders)+len(encoders))
	for f, e := range builtinEncoders {
		enc[f] = e
	}
	for f, e := range encoders {
		enc[f] = e
	}
	return &Generator{cfg: cfg, encoders: enc}
}

// VariantName is the output file name for id at width in format.
func VariantName(id string, width int, format string) string {
	return fmt.Sprintf("%s-%d.%s", id, width, format)
}

// FallbackName is the path, relative to the output dir, of the verbatim copy
// of a source with the given id and extension.
func FallbackName(id, ext string) string {
	return path.Join(OriginalsDir, id+strings.ToLower(ext))
}

// OutputFiles lists the generated files, relative to the output dir, that e
// refers to: every variant plus the verbatim fallback when src points at one.
func (c *Config) OutputFiles(e ManifestEntry) []string {
	var files []string
	for format, widths := range e.Variants {
		for _, w := range widths {
			files = append(files, VariantName(e.ID, w, format))
		}
	}
	prefix := c.URL(OriginalsDir) + "/"
	if rest, ok := strings.CutPrefix(e.Src, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
		files = append(files, path.Join(OriginalsDir, rest))
	}
	return files
}

// URL is the public URL of name, a path relative to the output dir.
func (c *Config) URL(name string) string {
	return strings.TrimRight(c.PublicPath, "/") + "/" + name
}

// Generate decodes a, writes every variant that does not upscale the source
// and returns the resulting manifest entry. Each output file is written in
// full or not at all; an error means the entry must not be recorded.
func (g *Generator) Generate(ctx context.Context, a RawAsset) (ManifestEntry, error) {
	img, err := decodeFile(a.Path, g.cfg.MaxPixels)
	if err != nil {
		return ManifestEntry{}, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return ManifestEntry{}, fmt.Errorf("image %s has no pixels", a.Path)
	}

	placeholder, err := g.placeholder(img)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("placeholder: %w", err)
	}

	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return ManifestEntry{}, fmt.Errorf("create output dir: %w", err)
	}

	variants := make(map[string][]int, len(g.cfg.Formats))
	for _, f := range g.cfg.Formats {
		variants[f] = []int{}
	}

	for _, bw := range g.cfg.Breakpoints {
		if bw > w {
			continue // never upscale
		}
		resized := img
		if bw != w {
			resized = resize(img, bw, scaledHeight(w, h, bw), draw.CatmullRom)
		}
		for _, f := range g.cfg.Formats {
			if err := ctx.Err(); err != nil {
				return ManifestEntry{}, err
			}
			if err := g.writeVariant(resized, a.ID, bw, f); err != nil {
				return ManifestEntry{}, err
			}
			variants[f] = append(variants[f], bw)
		}
	}

	src, err := g.fallbackSrc(a, variants[g.cfg.PrimaryFormat])
	if err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		ID:           a.ID,
		Src:          src,
		Width:        w,
		Height:       h,
		LastModified: a.LastModified,
		Placeholder:  placeholder,
		Color:        dominantColor(img),
		Variants:     variants,
	}, nil
}

func (g *Generator) writeVariant(img image.Image, id string, width int, format string) error {
	enc, ok := g.encoders[format]
	if !ok {
		return fmt.Errorf("format %q: %w", format, ErrUnsupportedFormat)
	}
	var buf bytes.Buffer
	opts := EncodeOptions{Quality: g.cfg.Quality[format], Effort: g.cfg.Effort}
	if err := enc.Encode(&buf, img, opts); err != nil {
		return fmt.Errorf("encode %s %dw: %w", format, width, err)
	}
	name := VariantName(id, width, format)
	if err := writeFileAtomic(filepath.Join(g.cfg.OutputDir, name), buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// fallbackSrc points at the largest generated primary variant. When the
// source is narrower than every breakpoint, the original file is copied
// verbatim into OriginalsDir so src never dangles.
func (g *Generator) fallbackSrc(a RawAsset, widths []int) (string, error) {
	if len(widths) > 0 {
		return g.cfg.URL(VariantName(a.ID, widths[len(widths)-1], g.cfg.PrimaryFormat)), nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", fmt.Errorf("read original: %w", err)
	}
	name := FallbackName(a.ID, a.Ext)
	dst := filepath.Join(g.cfg.OutputDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create originals dir: %w", err)
	}
	if err := writeFileAtomic(dst, data); err != nil {
		return "", fmt.Errorf("copy original: %w", err)
	}
	return g.cfg.URL(name), nil
}

// RemoveStale deletes the files prev refers to that next no longer does.
// Missing files are ignored; the names of removed files are returned.
func (c *Config) RemoveStale(prev, next ManifestEntry) []string {
	keep := make(map[string]bool)
	for _, name := range c.OutputFiles(next) {
		keep[name] = true
	}
	var removed []string
	for _, name := range c.OutputFiles(prev) {
		if keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(c.OutputDir, filepath.FromSlash(name))); err == nil {
			removed = append(removed, name)
		}
	}
	return removed
}

// placeholder renders a tiny preview, fit inside a square box, as a data URI.
func (g *Generator) placeholder(img image.Image) (string, error) {
	pc := g.cfg.Placeholder
	enc, ok := g.encoders[pc.Format]
	if !ok {
		return "", fmt.Errorf("format %q: %w", pc.Format, ErrUnsupportedFormat)
	}
	b := img.Bounds()
	pw, ph := fitInside(b.Dx(), b.Dy(), pc.Size)
	small := resize(img, pw, ph, draw.ApproxBiLinear)

	var buf bytes.Buffer
	if err := enc.Encode(&buf, small, EncodeOptions{Quality: pc.Quality, Effort: g.cfg.Effort}); err != nil {
		return "", err
	}
	return "data:" + enc.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeFile checks the header dimensions against maxPixels before decoding
// the full image.
func decodeFile(name string, maxPixels int) (image.Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func resize(src image.Image, w, h int, s draw.Scaler) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	s.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// scaledHeight keeps the aspect ratio of a w×h image resized to width.
func scaledHeight(w, h, width int) int {
	nh := (h*width + w/2) / w
	if nh < 1 {
		nh = 1
	}
	return nh
}

// fitInside returns the largest size with the aspect ratio of w×h that fits
// in a box×box square.
func fitInside(w, h, box int) (int, int) {
	if w >= h {
		return box, scaledHeight(w, h, box)
	}
	return scaledHeight(h, w, box), box
}

func dominantColor(img image.Image) string {
	b := img.Bounds()
	sw, sh := fitInside(b.Dx(), b.Dy(), colorSampleSize)
	return dominantcolor.Hex(dominantcolor.Find(resize(img, sw, sh, draw.ApproxBiLinear)))
}
