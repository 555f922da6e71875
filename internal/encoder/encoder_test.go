package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	xwebp "golang.org/x/image/webp"

	"frame-converter-go/internal/pngchunk"
	"frame-converter-go/internal/webpmux"
)

var testColors = []color.NRGBA{
	{R: 0xff, A: 0xff},
	{G: 0xff, A: 0xff},
	{B: 0xff, A: 0xff},
	{R: 0x80, G: 0x40, B: 0x20, A: 0xff},
}

func solidFrames(w, h int, colors ...color.NRGBA) SliceFrames {
	frames := make(SliceFrames, len(colors))
	for i, c := range colors {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
		}
		frames[i] = img
	}
	return frames
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestFrameDelayMS(t *testing.T) {
	tests := []struct {
		fps  float64
		want int
	}{
		{10, 100},
		{24, 42},
		{30, 33},
		{60, 17},
		{2000, 1},
		{0, 1},
	}
	for _, tt := range tests {
		if got := FrameDelayMS(tt.fps); got != tt.want {
			t.Errorf("FrameDelayMS(%v) = %d, want %d", tt.fps, got, tt.want)
		}
	}
	if got := gifDelay(10); got != 10 {
		t.Errorf("gifDelay(10) = %d, want 10", got)
	}
	if got := gifDelay(500); got != 1 {
		t.Errorf("gifDelay(500) = %d, want 1", got)
	}
	if got := gifDelay(0.001); got != 0xffff {
		t.Errorf("gifDelay(0.001) = %d, want 65535", got)
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"webp", "APNG", " gif "} {
		if _, err := ParseFormat(name); err != nil {
			t.Errorf("ParseFormat(%q): %v", name, err)
		}
	}
	if _, err := ParseFormat("bmp"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(bmp) = %v, want ErrUnsupportedFormat", err)
	}
	if FormatAPNG.Extension() != "png" || FormatWebP.Extension() != "webp" {
		t.Fatalf("unexpected extensions")
	}
}

func TestGIFEncode(t *testing.T) {
	frames := solidFrames(8, 6, testColors...)
	var progress []int
	data, err := NewGIFEncoder(true).Encode(context.Background(), frames, Options{
		FPS:      10,
		Progress: func(current, total int) { progress = append(progress, current) },
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(g.Image) != len(testColors) {
		t.Fatalf("got %d frames, want %d", len(g.Image), len(testColors))
	}
	if g.LoopCount != 0 {
		t.Errorf("LoopCount = %d, want 0 (infinite)", g.LoopCount)
	}
	for i, img := range g.Image {
		if g.Delay[i] != 10 {
			t.Errorf("frame %d delay = %d, want 10", i, g.Delay[i])
		}
		if got := nrgbaAt(img, 3, 3); got != testColors[i] {
			t.Errorf("frame %d pixel = %v, want %v", i, got, testColors[i])
		}
	}
	if len(progress) != len(testColors) || progress[len(progress)-1] != len(testColors) {
		t.Errorf("progress = %v", progress)
	}
}

func TestGIFEncodeDeterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: uint8(x ^ y), A: 0xff})
		}
	}
	frames := SliceFrames{img, img}

	a, err := NewGIFEncoder(true).Encode(context.Background(), frames, Options{FPS: 12})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := NewGIFEncoder(true).Encode(context.Background(), frames, Options{FPS: 12})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("identical input produced different GIF bytes")
	}
}

func TestGIFLoopCount(t *testing.T) {
	tests := map[uint32]int{0: 0, 1: 1, 2: 2, 5: 5, 1 << 20: 0xffff}
	for in, want := range tests {
		if got := gifLoopCount(in); got != want {
			t.Errorf("gifLoopCount(%d) = %d, want %d", in, got, want)
		}
	}
}

// loopCountOf decodes the container-level loop field of an encoded animation.
func loopCountOf(t *testing.T, format Format, data []byte) int {
	t.Helper()
	switch format {
	case FormatGIF:
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("gif decode: %v", err)
		}
		return g.LoopCount
	case FormatAPNG:
		chunks, err := pngchunk.Decode(data)
		if err != nil {
			t.Fatalf("png chunks: %v", err)
		}
		for _, c := range chunks {
			if c.Type == pngchunk.TypeACTL {
				actl, err := pngchunk.ParseACTL(c.Data)
				if err != nil {
					t.Fatal(err)
				}
				return int(actl.NumPlays)
			}
		}
		t.Fatal("no acTL chunk")
	case FormatWebP:
		anim, err := webpmux.Parse(data)
		if err != nil {
			t.Fatalf("webp parse: %v", err)
		}
		return int(anim.LoopCount)
	}
	t.Fatalf("unknown format %s", format)
	return 0
}

func TestLoopCountAllFormats(t *testing.T) {
	frames := solidFrames(4, 4, testColors[:2]...)
	tests := []struct {
		loops uint32
		want  int
	}{
		{0, 0},
		{1, 1},
		{3, 3},
	}

	for format, enc := range New(Settings{APNGCompressionLevel: 6}) {
		for _, tt := range tests {
			data, err := enc.Encode(context.Background(), frames, Options{FPS: 10, LoopCount: tt.loops})
			if err != nil {
				t.Fatalf("%s loops=%d: %v", format, tt.loops, err)
			}
			if got := loopCountOf(t, format, data); got != tt.want {
				t.Errorf("%s loops=%d: decoded loop count %d, want %d", format, tt.loops, got, tt.want)
			}
		}
	}
}

func TestAPNGDelay(t *testing.T) {
	tests := []struct {
		fps      float64
		num, den uint16
	}{
		{10, 100, 1000},
		{1000.0 / 65535, 65535, 1000},
		{0.01, 10000, 100},
		{0.001, 1000, 1},
		{1e-9, 0xffff, 1},
	}
	for _, tt := range tests {
		num, den := apngDelay(tt.fps)
		if num != tt.num || den != tt.den {
			t.Errorf("apngDelay(%v) = %d/%d, want %d/%d", tt.fps, num, den, tt.num, tt.den)
		}
	}
}

func TestTinyFPSDelays(t *testing.T) {
	frames := solidFrames(3, 3, testColors[:2]...)
	opts := Options{FPS: 0.001}

	data, err := NewGIFEncoder(false).Encode(context.Background(), frames, opts)
	if err != nil {
		t.Fatalf("gif: %v", err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gif decode: %v", err)
	}
	for i, d := range g.Delay {
		if d != 0xffff {
			t.Errorf("gif frame %d delay = %d, want 65535", i, d)
		}
	}

	data, err = NewAPNGEncoder(6).Encode(context.Background(), frames, opts)
	if err != nil {
		t.Fatalf("apng: %v", err)
	}
	chunks, err := pngchunk.Decode(data)
	if err != nil {
		t.Fatalf("png chunks: %v", err)
	}
	for _, c := range chunks {
		if c.Type != pngchunk.TypeFCTL {
			continue
		}
		f, err := pngchunk.ParseFCTL(c.Data)
		if err != nil {
			t.Fatal(err)
		}
		if f.DelayNum != 1000 || f.DelayDen != 1 {
			t.Errorf("apng delay = %d/%d, want 1000/1", f.DelayNum, f.DelayDen)
		}
	}

	data, err = NewWebPEncoder().Encode(context.Background(), frames, opts)
	if err != nil {
		t.Fatalf("webp: %v", err)
	}
	anim, err := webpmux.Parse(data)
	if err != nil {
		t.Fatalf("webp parse: %v", err)
	}
	for i, f := range anim.Frames {
		if f.Duration != 1000000 {
			t.Errorf("webp frame %d duration = %d, want 1000000", i, f.Duration)
		}
	}
}

func TestAPNGEncode(t *testing.T) {
	frames := solidFrames(5, 4, testColors...)
	data, err := NewAPNGEncoder(6).Encode(context.Background(), frames, Options{FPS: 10, LoopCount: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	chunks, err := pngchunk.Decode(data)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}

	var (
		ihdr     []byte
		fctls    []pngchunk.FCTL
		seqs     []uint32
		frameZ   [][]byte
		sawACTL  bool
		idatSeen bool
	)
	for _, c := range chunks {
		switch c.Type {
		case pngchunk.TypeIHDR:
			ihdr = c.Data
		case pngchunk.TypeACTL:
			actl, err := pngchunk.ParseACTL(c.Data)
			if err != nil {
				t.Fatal(err)
			}
			if actl.NumFrames != uint32(len(testColors)) || actl.NumPlays != 3 {
				t.Errorf("acTL = %+v", actl)
			}
			sawACTL = true
		case pngchunk.TypeFCTL:
			f, err := pngchunk.ParseFCTL(c.Data)
			if err != nil {
				t.Fatal(err)
			}
			fctls = append(fctls, f)
			seqs = append(seqs, f.SequenceNumber)
			frameZ = append(frameZ, nil)
		case pngchunk.TypeIDAT:
			idatSeen = true
			frameZ[len(frameZ)-1] = append(frameZ[len(frameZ)-1], c.Data...)
		case pngchunk.TypeFDAT:
			seq, z, err := pngchunk.SplitFDAT(c.Data)
			if err != nil {
				t.Fatal(err)
			}
			seqs = append(seqs, seq)
			frameZ[len(frameZ)-1] = append(frameZ[len(frameZ)-1], z...)
		}
	}

	if !sawACTL || !idatSeen {
		t.Fatalf("missing acTL or IDAT")
	}
	if len(fctls) != len(testColors) {
		t.Fatalf("got %d fcTL chunks, want %d", len(fctls), len(testColors))
	}
	for i, seq := range seqs {
		if seq != uint32(i) {
			t.Fatalf("sequence numbers not contiguous: %v", seqs)
		}
	}
	for i, f := range fctls {
		if f.DelayNum != 100 || f.DelayDen != 1000 {
			t.Errorf("frame %d delay = %d/%d, want 100/1000", i, f.DelayNum, f.DelayDen)
		}
	}

	// Each frame's image data must decode to the source pixels.
	for i, z := range frameZ {
		img := decodeFrameData(t, ihdr, z)
		if got := nrgbaAt(img, 2, 2); got != testColors[i] {
			t.Errorf("frame %d pixel = %v, want %v", i, got, testColors[i])
		}
	}

	// A plain PNG decoder shows the first frame.
	still, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if got := nrgbaAt(still, 0, 0); got != testColors[0] {
		t.Errorf("default image pixel = %v, want %v", got, testColors[0])
	}
}

// decodeFrameData wraps one frame's zlib stream as a standalone PNG.
func decodeFrameData(t *testing.T, ihdr, zdata []byte) image.Image {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(pngchunk.Signature)
	for _, c := range []pngchunk.Chunk{
		{Type: pngchunk.TypeIHDR, Data: ihdr},
		{Type: pngchunk.TypeIDAT, Data: zdata},
		{Type: pngchunk.TypeIEND},
	} {
		if err := pngchunk.Write(&buf, c.Type, c.Data); err != nil {
			t.Fatal(err)
		}
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return img
}

func TestWebPEncode(t *testing.T) {
	colors := append([]color.NRGBA{}, testColors...)
	colors = append(colors, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0x80})
	frames := solidFrames(6, 6, colors...)

	data, err := NewWebPEncoder().Encode(context.Background(), frames, Options{FPS: 10, LoopCount: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	anim, err := webpmux.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if anim.Width != 6 || anim.Height != 6 {
		t.Errorf("canvas = %dx%d, want 6x6", anim.Width, anim.Height)
	}
	if anim.LoopCount != 2 {
		t.Errorf("LoopCount = %d, want 2", anim.LoopCount)
	}
	if len(anim.Frames) != len(colors) {
		t.Fatalf("got %d frames, want %d", len(anim.Frames), len(colors))
	}
	for i, f := range anim.Frames {
		if f.Duration != 100 {
			t.Errorf("frame %d duration = %d, want 100", i, f.Duration)
		}
		img, err := xwebp.Decode(bytes.NewReader(webpmux.Still(f)))
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if got := nrgbaAt(img, 1, 1); got != colors[i] {
			t.Errorf("frame %d pixel = %v, want %v", i, got, colors[i])
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	ctx := context.Background()
	mixed := append(solidFrames(4, 4, testColors[0]), solidFrames(5, 4, testColors[1])...)

	for format, enc := range New(Settings{APNGCompressionLevel: 6}) {
		t.Run(string(format), func(t *testing.T) {
			if enc.Format() != format {
				t.Fatalf("Format() = %s", enc.Format())
			}
			if _, err := enc.Encode(ctx, SliceFrames{}, Options{FPS: 10}); !errors.Is(err, ErrNoFrames) {
				t.Errorf("empty input: got %v, want ErrNoFrames", err)
			}
			if _, err := enc.Encode(ctx, mixed, Options{FPS: 10}); !errors.Is(err, ErrSizeMismatch) {
				t.Errorf("mixed sizes: got %v, want ErrSizeMismatch", err)
			}
		})
	}
}

type failingFrames struct{ SliceFrames }

func (f failingFrames) Frame(i int) (image.Image, error) {
	if i == 1 {
		return nil, errors.New("disk on fire")
	}
	return f.SliceFrames.Frame(i)
}

func TestEncodeFrameReadError(t *testing.T) {
	frames := failingFrames{solidFrames(2, 2, testColors[:3]...)}
	_, err := NewGIFEncoder(false).Encode(context.Background(), frames, Options{FPS: 10})
	if !errors.Is(err, ErrFrameRead) {
		t.Fatalf("got %v, want ErrFrameRead", err)
	}
}

func TestEncodeCheckpointStops(t *testing.T) {
	frames := solidFrames(3, 3, testColors...)

	for _, enc := range New(Settings{}) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		opts := Options{
			FPS: 10,
			Checkpoint: func(ctx context.Context) error {
				calls++
				if calls == 3 {
					cancel()
				}
				return ctx.Err()
			},
		}

		_, err := enc.Encode(ctx, frames, opts)
		cancel()
		if !errors.Is(err, context.Canceled) {
			t.Errorf("%s: got %v, want context.Canceled", enc.Format(), err)
		}
		if calls != 3 {
			t.Errorf("%s: checkpoint called %d times, want 3", enc.Format(), calls)
		}
	}
}
