// Package quantize builds GIF palettes with a deterministic median-cut
// quantizer.
//
// Output depends only on pixel values: the histogram is a fixed array indexed
// by 5-bit-per-channel colour, boxes are split in a fixed order and ties are
// broken by bin index, so identical frames always produce identical palettes.
package quantize

import (
	"image"
	"image/color"
	"sort"
)

// Version identifies the palette algorithm. Changing the algorithm in a way
// that alters palettes must bump it.
const Version = "mediancut-1"

const (
	bitsPerChannel = 5
	binCount       = 1 << (3 * bitsPerChannel)
	alphaThreshold = 0x80
)

// MedianCut implements draw.Quantizer.
type MedianCut struct {
	// MaxColors caps the palette size (including the transparent entry). Zero means 256.
	MaxColors int
}

type bin struct {
	index            int
	count            uint64
	sumR, sumG, sumB uint64
}

type box struct {
	bins  []bin
	count uint64
}

// Quantize appends a palette for m to p and returns it.
func (q MedianCut) Quantize(p color.Palette, m image.Image) color.Palette {
	maxColors := q.MaxColors
	if maxColors <= 0 || maxColors > 256 {
		maxColors = 256
	}
	maxColors -= len(p)
	if maxColors <= 0 {
		return p
	}

	hist, transparent := histogram(m)
	if transparent {
		maxColors--
	}

	var bins []bin
	for i := range hist {
		if hist[i].count > 0 {
			b := hist[i]
			b.index = i
			bins = append(bins, b)
		}
	}

	if maxColors > 0 && len(bins) > 0 {
		for _, b := range split(bins, maxColors) {
			p = append(p, b.mean())
		}
	}
	if transparent {
		p = append(p, color.NRGBA{})
	}
	if len(p) == 0 {
		p = append(p, color.NRGBA{A: 0xff})
	}
	return p
}

func histogram(m image.Image) (*[binCount]bin, bool) {
	hist := new([binCount]bin)
	transparent := false
	b := m.Bounds()

	add := func(r, g, bl, a uint8) {
		if a < alphaThreshold {
			transparent = true
			return
		}
		idx := int(r>>3)<<10 | int(g>>3)<<5 | int(bl>>3)
		h := &hist[idx]
		h.count++
		h.sumR += uint64(r)
		h.sumG += uint64(g)
		h.sumB += uint64(bl)
	}

	if nrgba, ok := m.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := nrgba.Pix[(y-b.Min.Y)*nrgba.Stride:]
			for x := 0; x < b.Dx(); x++ {
				add(row[4*x], row[4*x+1], row[4*x+2], row[4*x+3])
			}
		}
		return hist, transparent
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(m.At(x, y)).(color.NRGBA)
			add(c.R, c.G, c.B, c.A)
		}
	}
	return hist, transparent
}

func split(bins []bin, maxColors int) []box {
	boxes := []box{newBox(bins)}
	for len(boxes) < maxColors {
		target := -1
		var bestScore uint64
		for i, b := range boxes {
			if len(b.bins) < 2 {
				continue
			}
			_, span := b.widestChannel()
			score := uint64(span) * b.count
			if target < 0 || score > bestScore {
				target, bestScore = i, score
			}
		}
		if target < 0 {
			break
		}

		left, right := boxes[target].cut()
		boxes[target] = left
		boxes = append(boxes, right)
	}
	return boxes
}

func newBox(bins []bin) box {
	b := box{bins: bins}
	for _, x := range bins {
		b.count += x.count
	}
	return b
}

func channel(index, ch int) int {
	return (index >> (10 - 5*ch)) & 0x1f
}

func (b box) widestChannel() (int, int) {
	bestCh, bestSpan := 0, -1
	for ch := 0; ch < 3; ch++ {
		lo, hi := 31, 0
		for _, x := range b.bins {
			v := channel(x.index, ch)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > bestSpan {
			bestCh, bestSpan = ch, hi-lo
		}
	}
	return bestCh, bestSpan
}

// cut splits the box at the pixel-weighted median of its widest channel.
func (b box) cut() (box, box) {
	ch, _ := b.widestChannel()
	bins := make([]bin, len(b.bins))
	copy(bins, b.bins)
	sort.Slice(bins, func(i, j int) bool {
		vi, vj := channel(bins[i].index, ch), channel(bins[j].index, ch)
		if vi != vj {
			return vi < vj
		}
		return bins[i].index < bins[j].index
	})

	half := b.count / 2
	var acc uint64
	at := 1
	for i := 0; i < len(bins)-1; i++ {
		acc += bins[i].count
		at = i + 1
		if acc >= half {
			break
		}
	}
	return newBox(bins[:at]), newBox(bins[at:])
}

func (b box) mean() color.Color {
	var r, g, bl uint64
	for _, x := range b.bins {
		r += x.sumR
		g += x.sumG
		bl += x.sumB
	}
	n := b.count
	return color.NRGBA{
		R: uint8((r + n/2) / n),
		G: uint8((g + n/2) / n),
		B: uint8((bl + n/2) / n),
		A: 0xff,
	}
}
