// Package encoder holds one encoding strategy per animated output format.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Format is a target animation format.
type Format string

const (
	FormatWebP Format = "webp"
	FormatAPNG Format = "apng"
	FormatGIF  Format = "gif"
)

var (
	ErrNoFrames          = errors.New("no frames to encode")
	ErrSizeMismatch      = errors.New("frame dimensions differ from the first frame")
	ErrFrameRead         = errors.New("failed to read frame")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "webp":
		return FormatWebP, nil
	case "apng":
		return FormatAPNG, nil
	case "gif":
		return FormatGIF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Extension returns the output file extension. APNG is written with .png so
// that viewers without APNG support still show the first frame.
func (f Format) Extension() string {
	if f == FormatAPNG {
		return "png"
	}
	return string(f)
}

// Frames is an ordered, lazily decoded frame sequence.
type Frames interface {
	Len() int
	Frame(i int) (image.Image, error)
}

// SliceFrames adapts already decoded images to Frames.
type SliceFrames []image.Image

func (s SliceFrames) Len() int { return len(s) }

func (s SliceFrames) Frame(i int) (image.Image, error) { return s[i], nil }

// Options carries timing and job hooks for one encode call.
type Options struct {
	FPS       float64
	LoopCount uint32 // 0 = infinite

	// Progress is called after each frame with the number of frames done.
	Progress func(current, total int)

	// Checkpoint is called at every frame boundary. It blocks while the job is
	// paused and returns an error once the job is cancelled.
	Checkpoint func(ctx context.Context) error
}

// Encoder turns a uniform-size frame sequence into one animated byte stream.
type Encoder interface {
	Format() Format
	Encode(ctx context.Context, frames Frames, opts Options) ([]byte, error)
}

// FrameDelayMS returns round(1000/fps) milliseconds, at least 1.
func FrameDelayMS(fps float64) int {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 1
	}
	ms := int(math.Round(1000 / fps))
	if ms < 1 {
		ms = 1
	}
	return ms
}

// gifDelay converts the frame delay to GIF centiseconds, clamped to the
// 16-bit delay field.
func gifDelay(fps float64) int {
	cs := int(math.Round(float64(FrameDelayMS(fps)) / 10))
	return min(max(cs, 1), 0xffff)
}

// apngDelay expresses the frame delay as an fcTL fraction. Milliseconds are
// used while they fit in 16 bits, then centiseconds, then whole seconds.
func apngDelay(fps float64) (num, den uint16) {
	ms := FrameDelayMS(fps)
	if ms <= 0xffff {
		return uint16(ms), 1000
	}
	if cs := int(math.Round(float64(ms) / 10)); cs <= 0xffff {
		return uint16(cs), 100
	}
	s := int(math.Round(float64(ms) / 1000))
	return uint16(min(s, 0xffff)), 1
}

func (o Options) checkpoint(ctx context.Context) error {
	if o.Checkpoint != nil {
		return o.Checkpoint(ctx)
	}
	return ctx.Err()
}

func (o Options) progress(current, total int) {
	if o.Progress != nil {
		o.Progress(current, total)
	}
}

// eachFrame drives the shared frame loop: it stops at suspension points before
// every frame, enforces uniform dimensions and reports progress after fn.
func eachFrame(ctx context.Context, frames Frames, opts Options, fn func(i int, img *image.NRGBA) error) error {
	total := frames.Len()
	if total < 1 {
		return ErrNoFrames
	}

	var size image.Point
	for i := 0; i < total; i++ {
		if err := opts.checkpoint(ctx); err != nil {
			return err
		}

		src, err := frames.Frame(i)
		if err != nil {
			return fmt.Errorf("%w %d: %v", ErrFrameRead, i, err)
		}
		img := toNRGBA(src)

		if i == 0 {
			size = img.Bounds().Size()
		} else if img.Bounds().Size() != size {
			return fmt.Errorf("%w: frame %d is %dx%d, expected %dx%d",
				ErrSizeMismatch, i, img.Bounds().Dx(), img.Bounds().Dy(), size.X, size.Y)
		}

		if err := fn(i, img); err != nil {
			return err
		}
		opts.progress(i+1, total)
	}
	return nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	if img, ok := src.(*image.NRGBA); ok && img.Bounds().Min == (image.Point{}) {
		return img
	}
	return imaging.Clone(src)
}

// Settings tunes the per-format encoders built by New.
type Settings struct {
	APNGCompressionLevel int
	GIFDither            bool
}

// New returns one encoder per supported format.
func New(s Settings) map[Format]Encoder {
	return map[Format]Encoder{
		FormatWebP: NewWebPEncoder(),
		FormatAPNG: NewAPNGEncoder(s.APNGCompressionLevel),
		FormatGIF:  NewGIFEncoder(s.GIFDither),
	}
}
