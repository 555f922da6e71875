package compressor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
)

// compactGIF shrinks every frame's palette to the colours it actually uses.
// Pixel colours, timing and loop count are unchanged.
func compactGIF(ctx context.Context, data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	for i, img := range g.Image {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.Image[i] = compactPalette(img)
	}

	// Frames carry local palettes, so no global table is written.
	g.Config.ColorModel = nil
	g.BackgroundIndex = 0

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compactPalette(img *image.Paletted) *image.Paletted {
	var used [256]bool
	for _, idx := range img.Pix {
		used[idx] = true
	}

	var (
		remap   [256]uint8
		palette = make(color.Palette, 0, len(img.Palette))
	)
	for i, c := range img.Palette {
		if i < len(used) && used[i] {
			remap[i] = uint8(len(palette))
			palette = append(palette, c)
		}
	}
	if len(palette) == 0 {
		palette = append(palette, color.NRGBA{})
	}
	if len(palette) == len(img.Palette) {
		return img
	}

	out := &image.Paletted{
		Pix:     make([]uint8, len(img.Pix)),
		Stride:  img.Stride,
		Rect:    img.Rect,
		Palette: palette,
	}
	for i, idx := range img.Pix {
		out.Pix[i] = remap[idx]
	}
	return out
}
