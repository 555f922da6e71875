package encoder

import (
	"bytes"
	"compress/zlib"
	"context"
	"image"

	"frame-converter-go/internal/pngchunk"
)

// maxChunkData caps the payload of a single IDAT/fdAT chunk.
const maxChunkData = 1 << 20

// APNGEncoder writes RGBA8 animated PNG. The first frame doubles as the
// default image, so non-APNG viewers show it as a still.
type APNGEncoder struct {
	// Level is the zlib level used for frame data.
	Level int
}

// NewAPNGEncoder returns an encoder using the given zlib level.
func NewAPNGEncoder(level int) *APNGEncoder {
	if level < zlib.HuffmanOnly || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	return &APNGEncoder{Level: level}
}

func (e *APNGEncoder) Format() Format { return FormatAPNG }

// Encode implements Encoder.
func (e *APNGEncoder) Encode(ctx context.Context, frames Frames, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(pngchunk.Signature)

	delayNum, delayDen := apngDelay(opts.FPS)
	total := frames.Len()
	var seq uint32

	err := eachFrame(ctx, frames, opts, func(i int, img *image.NRGBA) error {
		b := img.Bounds()
		if i == 0 {
			ihdr := pngchunk.IHDR{
				Width:     uint32(b.Dx()),
				Height:    uint32(b.Dy()),
				BitDepth:  pngchunk.BitDepth8,
				ColorType: pngchunk.ColorTypeTrueColorAlpha,
			}
			if err := pngchunk.Write(&buf, pngchunk.TypeIHDR, ihdr.Bytes()); err != nil {
				return err
			}
			actl := pngchunk.ACTL{NumFrames: uint32(total), NumPlays: opts.LoopCount}
			if err := pngchunk.Write(&buf, pngchunk.TypeACTL, actl.Bytes()); err != nil {
				return err
			}
		}

		fctl := pngchunk.FCTL{
			SequenceNumber: seq,
			Width:          uint32(b.Dx()),
			Height:         uint32(b.Dy()),
			DelayNum:       delayNum,
			DelayDen:       delayDen,
			DisposeOp:      pngchunk.DisposeOpNone,
			BlendOp:        pngchunk.BlendOpSource,
		}
		seq++
		if err := pngchunk.Write(&buf, pngchunk.TypeFCTL, fctl.Bytes()); err != nil {
			return err
		}

		zdata, err := pngchunk.EncodeNRGBA(img, e.Level)
		if err != nil {
			return err
		}
		for len(zdata) > 0 {
			n := min(len(zdata), maxChunkData)
			piece := zdata[:n]
			zdata = zdata[n:]

			if i == 0 {
				err = pngchunk.Write(&buf, pngchunk.TypeIDAT, piece)
			} else {
				err = pngchunk.Write(&buf, pngchunk.TypeFDAT, pngchunk.FDAT(seq, piece))
				seq++
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := pngchunk.Write(&buf, pngchunk.TypeIEND, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
