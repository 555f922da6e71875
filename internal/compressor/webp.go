package compressor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/chai2010/webp"
	xwebp "golang.org/x/image/webp"

	"frame-converter-go/internal/webpmux"
)

// recompressWebP decodes every ANMF frame and encodes it again as lossy VP8
// (plus ALPH when the frame has transparency). Canvas, timing and loop count
// are kept.
func recompressWebP(ctx context.Context, data []byte, quality int) ([]byte, error) {
	anim, err := webpmux.Parse(data)
	if err != nil {
		return nil, err
	}

	for i := range anim.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := &anim.Frames[i]

		img, err := xwebp.Decode(bytes.NewReader(webpmux.Still(*f)))
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", i, err)
		}

		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", i, err)
		}
		chunks, err := webpmux.ImageChunks(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		f.Chunks = chunks
	}

	return anim.Marshal()
}
