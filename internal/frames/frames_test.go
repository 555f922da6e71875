package frames

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestSourcePadsSmallerFrames(t *testing.T) {
	dir := t.TempDir()
	red := color.NRGBA{R: 0xff, A: 0xff}
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writePNG(t, a, 8, 8, red)
	writePNG(t, b, 4, 4, red)

	src := NewSource([]string{a, b}, image.Pt(8, 8), PolicyPad)
	if src.Len() != 2 {
		t.Fatalf("Len() = %d", src.Len())
	}

	img, err := src.Frame(1)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Size(); got != image.Pt(8, 8) {
		t.Fatalf("padded size = %v, want 8x8", got)
	}
	corner := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	if corner.A != 0 {
		t.Errorf("corner = %v, want transparent", corner)
	}
	centre := color.NRGBAModel.Convert(img.At(4, 4)).(color.NRGBA)
	if centre != red {
		t.Errorf("centre = %v, want %v", centre, red)
	}
}

func TestFitCropsLargerFrames(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 6))
	out := Fit(img, image.Pt(8, 8))
	if got := out.Bounds().Size(); got != image.Pt(8, 8) {
		t.Fatalf("size = %v, want 8x8", got)
	}

	same := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	if Fit(same, image.Pt(8, 8)) != image.Image(same) {
		t.Error("Fit should return an already fitting image unchanged")
	}
}

func TestSourceRejectKeepsSize(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "small.png")
	writePNG(t, p, 3, 5, color.NRGBA{A: 0xff})

	img, err := NewSource([]string{p}, image.Pt(8, 8), PolicyReject).Frame(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Size(); got != image.Pt(3, 5) {
		t.Errorf("size = %v, want 3x5", got)
	}
}

func TestSourceMissingFile(t *testing.T) {
	src := NewSource([]string{filepath.Join(t.TempDir(), "nope.png")}, image.Point{}, PolicyPad)
	if _, err := src.Frame(0); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseSizePolicy(t *testing.T) {
	for in, want := range map[string]SizePolicy{"": PolicyPad, "PAD": PolicyPad, "reject": PolicyReject} {
		got, err := ParseSizePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseSizePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSizePolicy("stretch"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
