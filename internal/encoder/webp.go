package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/chai2010/webp"

	"frame-converter-go/internal/webpmux"
)

// WebPEncoder writes animated WebP with every frame stored losslessly (VP8L).
type WebPEncoder struct{}

// NewWebPEncoder returns a WebPEncoder.
func NewWebPEncoder() *WebPEncoder {
	return &WebPEncoder{}
}

func (e *WebPEncoder) Format() Format { return FormatWebP }

// Encode implements Encoder.
func (e *WebPEncoder) Encode(ctx context.Context, frames Frames, opts Options) ([]byte, error) {
	anim := &webpmux.Animation{LoopCount: webpLoopCount(opts.LoopCount)}
	delay := FrameDelayMS(opts.FPS)

	err := eachFrame(ctx, frames, opts, func(i int, img *image.NRGBA) error {
		b := img.Bounds()
		if i == 0 {
			anim.Width, anim.Height = b.Dx(), b.Dy()
		}

		var still bytes.Buffer
		if err := webp.Encode(&still, img, &webp.Options{Lossless: true}); err != nil {
			return fmt.Errorf("encode frame %d: %w", i, err)
		}
		chunks, err := webpmux.ImageChunks(still.Bytes())
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}

		anim.Frames = append(anim.Frames, webpmux.Frame{
			Width:    b.Dx(),
			Height:   b.Dy(),
			Duration: delay,
			Chunks:   chunks,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return anim.Marshal()
}

func webpLoopCount(loops uint32) uint16 {
	if loops > 0xffff {
		return 0xffff
	}
	return uint16(loops)
}
