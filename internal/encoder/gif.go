package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/gif"

	"frame-converter-go/internal/quantize"
)

// GIFEncoder quantizes each frame to its own local palette and writes an
// animated GIF.
//
// Palettes come from quantize.MedianCut and pixels are mapped with
// Floyd-Steinberg error diffusion (or nearest colour when Dither is off). Both
// steps are deterministic, so identical input under the same quantize.Version
// produces byte-identical output.
type GIFEncoder struct {
	Quantizer draw.Quantizer
	Dither    bool
}

// NewGIFEncoder returns a GIFEncoder with the median-cut quantizer.
func NewGIFEncoder(dither bool) *GIFEncoder {
	return &GIFEncoder{
		Quantizer: quantize.MedianCut{MaxColors: 256},
		Dither:    dither,
	}
}

func (e *GIFEncoder) Format() Format { return FormatGIF }

// Encode implements Encoder.
func (e *GIFEncoder) Encode(ctx context.Context, frames Frames, opts Options) ([]byte, error) {
	anim := &gif.GIF{LoopCount: gifLoopCount(opts.LoopCount)}
	delay := gifDelay(opts.FPS)

	err := eachFrame(ctx, frames, opts, func(i int, img *image.NRGBA) error {
		anim.Image = append(anim.Image, e.palettize(img))
		anim.Delay = append(anim.Delay, delay)
		anim.Disposal = append(anim.Disposal, gif.DisposalBackground)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := anim.Image[0].Bounds()
	anim.Config = image.Config{Width: b.Dx(), Height: b.Dy()}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *GIFEncoder) palettize(img *image.NRGBA) *image.Paletted {
	q := e.Quantizer
	if q == nil {
		q = quantize.MedianCut{MaxColors: 256}
	}
	palette := q.Quantize(make(color.Palette, 0, 256), img)

	b := img.Bounds()
	dst := image.NewPaletted(b, palette)
	if e.Dither {
		draw.FloydSteinberg.Draw(dst, b, img, b.Min)
	} else {
		draw.Draw(dst, b, img, b.Min, draw.Src)
	}
	return dst
}

// gifLoopCount writes the loop count as the NETSCAPE repeat field unchanged.
// 0 stays infinite; the field is 16 bits wide.
func gifLoopCount(loops uint32) int {
	return int(min(loops, 0xffff))
}
