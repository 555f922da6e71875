// Package frames loads frame images on demand for the encoders.
package frames

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	// WebP input frames.
	_ "golang.org/x/image/webp"
)

// SizePolicy says what to do with frames whose dimensions differ from the base size.
type SizePolicy string

const (
	// PolicyPad centres smaller frames on a transparent canvas and centre-crops larger ones.
	PolicyPad SizePolicy = "pad"
	// PolicyReject refuses mixed-size sequences.
	PolicyReject SizePolicy = "reject"
)

// ParseSizePolicy maps a config value to a SizePolicy. Empty means PolicyPad.
func ParseSizePolicy(s string) (SizePolicy, error) {
	switch SizePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPad:
		return PolicyPad, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown size mismatch policy %q (valid: pad, reject)", s)
	}
}

// Source is a lazily decoded frame sequence backed by image files. Only the
// frame being encoded is held in memory.
type Source struct {
	paths  []string
	size   image.Point
	policy SizePolicy
}

// NewSource returns a Source over paths. Frames are normalised to size when
// policy is PolicyPad; with PolicyReject they are returned as decoded and the
// encoder rejects any mismatch.
func NewSource(paths []string, size image.Point, policy SizePolicy) *Source {
	return &Source{paths: paths, size: size, policy: policy}
}

// Len returns the number of frames.
func (s *Source) Len() int { return len(s.paths) }

// Path returns the file backing frame i.
func (s *Source) Path(i int) string { return s.paths[i] }

// Frame decodes frame i, applying EXIF orientation.
func (s *Source) Frame(i int) (image.Image, error) {
	img, err := imaging.Open(s.paths[i], imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.paths[i], err)
	}
	if s.policy == PolicyPad && s.size.X > 0 && s.size.Y > 0 {
		return Fit(img, s.size), nil
	}
	return img, nil
}

// Fit returns img with exactly the given size: larger dimensions are
// centre-cropped, then the result is centred on a transparent canvas.
func Fit(img image.Image, size image.Point) image.Image {
	b := img.Bounds()
	if b.Dx() == size.X && b.Dy() == size.Y {
		return img
	}

	var cropped image.Image = img
	if b.Dx() > size.X || b.Dy() > size.Y {
		cropped = imaging.CropCenter(img, min(b.Dx(), size.X), min(b.Dy(), size.Y))
	}
	if cb := cropped.Bounds(); cb.Dx() == size.X && cb.Dy() == size.Y {
		return cropped
	}

	canvas := imaging.New(size.X, size.Y, image.Transparent)
	return imaging.PasteCenter(canvas, cropped)
}
