package media

import (
	"errors"
	"image"
	"image/jpeg"
	"io"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
)

// ErrUnsupportedFormat is returned for output formats without an encoder.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// EncodeOptions are the per-call encoder settings.
type EncodeOptions struct {
	Quality int // 1..100
	Effort  int // 0 (fast) .. 9 (slow)
}

// Encoder writes img to w in a single output format.
type Encoder interface {
	Encode(w io.Writer, img image.Image, opts EncodeOptions) error
	// MIMEType is used for data URIs.
	MIMEType() string
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc struct {
	Fn   func(w io.Writer, img image.Image, opts EncodeOptions) error
	MIME string
}

func (f EncoderFunc) Encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	return f.Fn(w, img, opts)
}

func (f EncoderFunc) MIMEType() string { return f.MIME }

var builtinEncoders = map[string]Encoder{
	"avif": avifEncoder{},
	"webp": webpEncoder{},
	"jpeg": jpegEncoder{},
}

type avifEncoder struct{}

func (avifEncoder) Encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	// avif speed runs the other way: 10 is fastest.
	return avif.Encode(w, img, avif.Options{
		Quality:           opts.Quality,
		QualityAlpha:      opts.Quality,
		Speed:             10 - opts.Effort,
		ChromaSubsampling: image.YCbCrSubsampleRatio420,
	})
}

func (avifEncoder) MIMEType() string { return "image/avif" }

type webpEncoder struct{}

func (webpEncoder) Encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	method := opts.Effort
	if method > 6 {
		method = 6
	}
	return webp.Encode(w, img, webp.Options{
		Quality: opts.Quality,
		Method:  method,
	})
}

func (webpEncoder) MIMEType() string { return "image/webp" }

type jpegEncoder struct{}

func (jpegEncoder) Encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: opts.Quality})
}

func (jpegEncoder) MIMEType() string { return "image/jpeg" }
