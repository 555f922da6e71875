package compressor

import (
	"bytes"
	"context"
	"fmt"

	"frame-converter-go/internal/encoder"
	"frame-converter-go/internal/pngchunk"
)

// maxChunkData caps the payload of a single IDAT/fdAT chunk.
const maxChunkData = 1 << 20

// LocalCompressor applies offline, format-specific transforms:
//
//   - APNG: lossless. Metadata chunks are dropped and frame data is
//     re-deflated at a level derived from quality.
//   - WebP: every frame is re-encoded lossy at the given quality.
//   - GIF: palettes are compacted to the colours each frame uses.
type LocalCompressor struct{}

// NewLocalCompressor returns a LocalCompressor.
func NewLocalCompressor() *LocalCompressor {
	return &LocalCompressor{}
}

// Compress implements Compressor.
func (c *LocalCompressor) Compress(ctx context.Context, data []byte, format encoder.Format, quality int) ([]byte, error) {
	switch format {
	case encoder.FormatAPNG:
		return recompressAPNG(ctx, data, LevelForQuality(quality))
	case encoder.FormatWebP:
		return recompressWebP(ctx, data, clampQuality(quality))
	case encoder.FormatGIF:
		return compactGIF(ctx, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
}

// LevelForQuality maps a 1-100 quality to a zlib level. Higher quality means
// a faster, less aggressive pass; pixels are identical at every level.
func LevelForQuality(quality int) int {
	switch {
	case quality >= 85:
		return 4
	case quality >= 60:
		return 6
	case quality >= 40:
		return 7
	case quality >= 20:
		return 8
	default:
		return 9
	}
}

func clampQuality(q int) int {
	return max(1, min(100, q))
}

// recompressAPNG rewrites an (A)PNG stream: metadata chunks go, each run of
// IDAT or fdAT chunks is inflated and deflated again at level, and sequence
// numbers are reassigned in stream order. Filtered scanlines are not touched.
func recompressAPNG(ctx context.Context, data []byte, level int) ([]byte, error) {
	chunks, err := pngchunk.Decode(data)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 || chunks[0].Type != pngchunk.TypeIHDR {
		return nil, fmt.Errorf("png stream does not start with IHDR")
	}
	ihdr, err := pngchunk.ParseIHDR(chunks[0].Data)
	if err != nil {
		return nil, err
	}
	if ihdr.CompressionMethod != 0 || ihdr.FilterMethod != 0 {
		return nil, fmt.Errorf("png compression method %d, filter method %d not supported",
			ihdr.CompressionMethod, ihdr.FilterMethod)
	}

	var (
		out      bytes.Buffer
		seq      uint32
		runType  string
		runZdata []byte
	)
	out.WriteString(pngchunk.Signature)

	flush := func() error {
		if runType == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := pngchunk.Inflate(runZdata)
		if err != nil {
			return fmt.Errorf("inflate %s: %w", runType, err)
		}
		z, err := pngchunk.Deflate(raw, level)
		if err != nil {
			return err
		}
		for len(z) > 0 {
			n := min(len(z), maxChunkData)
			if runType == pngchunk.TypeIDAT {
				err = pngchunk.Write(&out, pngchunk.TypeIDAT, z[:n])
			} else {
				err = pngchunk.Write(&out, pngchunk.TypeFDAT, pngchunk.FDAT(seq, z[:n]))
				seq++
			}
			if err != nil {
				return err
			}
			z = z[n:]
		}
		runType, runZdata = "", nil
		return nil
	}

	for _, c := range chunks {
		switch {
		case pngchunk.IsAncillaryMetadata(c.Type):
			continue
		case c.Type == pngchunk.TypeIDAT || c.Type == pngchunk.TypeFDAT:
			if runType != c.Type {
				if err := flush(); err != nil {
					return nil, err
				}
				runType = c.Type
			}
			payload := c.Data
			if c.Type == pngchunk.TypeFDAT {
				if _, payload, err = pngchunk.SplitFDAT(c.Data); err != nil {
					return nil, err
				}
			}
			runZdata = append(runZdata, payload...)
			continue
		}

		if err := flush(); err != nil {
			return nil, err
		}
		chunkData := c.Data
		if c.Type == pngchunk.TypeFCTL {
			fctl, err := pngchunk.ParseFCTL(c.Data)
			if err != nil {
				return nil, err
			}
			fctl.SequenceNumber = seq
			seq++
			chunkData = fctl.Bytes()
		}
		if err := pngchunk.Write(&out, c.Type, chunkData); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}
