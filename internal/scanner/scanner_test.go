package scanner

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeFrame(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeOrientedJPEG writes a w x h JPEG whose EXIF block carries the given
// orientation tag.
func writeOrientedJPEG(t *testing.T, dir, name string, w, h int, orientation uint16) string {
	t.Helper()
	var raw bytes.Buffer
	if err := jpeg.Encode(&raw, image.NewNRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}

	// Big-endian TIFF header and an IFD0 holding only Orientation (SHORT).
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, []uint16{0x0112, 3})
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, []uint16{orientation, 0})
	binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write([]byte{0xff, 0xd8, 0xff, 0xe1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(raw.Bytes()[2:])

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func basenames(files []FrameFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.Base(f.Path)
	}
	return out
}

func TestScanFolderNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_10.png", "frame_2.png", "frame_1.png"} {
		writeFrame(t, dir, name, 4, 3)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0755); err != nil {
		t.Fatal(err)
	}

	res, err := New(nil, Options{Workers: 2}).Scan(context.Background(), ModeFolder, dir, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{"frame_1.png", "frame_2.png", "frame_10.png"}
	got := basenames(res.Files)
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("files = %v, want %v", got, want)
		}
	}
	if res.Total != 3 || !res.AllSameSize {
		t.Errorf("total = %d, allSameSize = %v", res.Total, res.AllSameSize)
	}
	if res.BaseSize == nil || *res.BaseSize != (Size{Width: 4, Height: 3}) {
		t.Errorf("baseSize = %v, want 4x3", res.BaseSize)
	}
	if res.Files[0].ByteSize == 0 {
		t.Error("byte size not recorded")
	}
}

func TestScanMixedSizes(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "a1.png", 4, 4)
	writeFrame(t, dir, "a2.png", 4, 4)
	writeFrame(t, dir, "a3.png", 5, 4)

	res, err := New(nil, Options{}).Scan(context.Background(), ModeFolder, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.AllSameSize || res.BaseSize != nil {
		t.Errorf("allSameSize = %v, baseSize = %v; want false, nil", res.AllSameSize, res.BaseSize)
	}
}

func TestScanReportsOrientedSize(t *testing.T) {
	dir := t.TempDir()
	writeOrientedJPEG(t, dir, "shot_1.jpg", 16, 8, 6)
	writeOrientedJPEG(t, dir, "shot_2.jpg", 16, 8, 6)
	writeOrientedJPEG(t, dir, "upright.jpg", 16, 8, 1)

	res, err := New(nil, Options{}).Scan(context.Background(), ModeFile, "", []string{
		filepath.Join(dir, "shot_1.jpg"),
		filepath.Join(dir, "shot_2.jpg"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.BaseSize == nil || *res.BaseSize != (Size{Width: 8, Height: 16}) {
		t.Fatalf("baseSize = %v, want 8x16", res.BaseSize)
	}

	res, err = New(nil, Options{}).Scan(context.Background(), ModeFile, filepath.Join(dir, "upright.jpg"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Files[0].Width != 16 || res.Files[0].Height != 8 {
		t.Errorf("upright frame = %+v, want 16x8", res.Files)
	}
}

func TestScanEmptyFolder(t *testing.T) {
	res, err := New(nil, Options{}).Scan(context.Background(), ModeFolder, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 0 || !res.AllSameSize || res.BaseSize != nil {
		t.Errorf("empty scan = %+v", res)
	}
}

func TestScanMissingFolder(t *testing.T) {
	_, err := New(nil, Options{}).Scan(context.Background(), ModeFolder, filepath.Join(t.TempDir(), "missing"), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestScanFileModeKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	b := writeFrame(t, dir, "b.png", 2, 2)
	a := writeFrame(t, dir, "a.png", 2, 2)
	bogus := filepath.Join(dir, "bogus.png")
	if err := os.WriteFile(bogus, []byte("not really a png"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.png")

	res, err := New(nil, Options{}).Scan(context.Background(), ModeFile, "", []string{b, bogus, missing, a})
	if err != nil {
		t.Fatal(err)
	}
	got := basenames(res.Files)
	if len(got) != 2 || got[0] != "b.png" || got[1] != "a.png" {
		t.Fatalf("files = %v, want [b.png a.png]", got)
	}

	single, err := New(nil, Options{}).Scan(context.Background(), ModeFile, a, nil)
	if err != nil {
		t.Fatal(err)
	}
	if single.Total != 1 {
		t.Errorf("single file total = %d", single.Total)
	}
}

func TestProbeCachePersists(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "f1.png", 6, 2)
	writeFrame(t, dir, "f2.png", 6, 2)
	dbPath := filepath.Join(t.TempDir(), "probe.db")

	cache, err := NewProbeCache(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s := New(nil, Options{Cache: cache})
	if _, err := s.Scan(context.Background(), ModeFolder, dir, nil); err != nil {
		t.Fatal(err)
	}
	if st := cache.Stats(); st.Misses != 2 || st.Hits != 0 {
		t.Errorf("first scan stats = %+v", st)
	}
	if err := cache.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewProbeCache(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	res, err := New(nil, Options{Cache: reopened}).Scan(context.Background(), ModeFolder, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st := reopened.Stats(); st.Hits != 2 {
		t.Errorf("second scan stats = %+v, want 2 hits", st)
	}
	if res.BaseSize == nil || res.BaseSize.Width != 6 {
		t.Errorf("cached baseSize = %v", res.BaseSize)
	}
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "x.png", 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil, Options{}).Scan(ctx, ModeFolder, dir, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
