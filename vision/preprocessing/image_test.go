package preprocessing

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestProcessShapeAndRange(t *testing.T) {
	p := NewImageProcessor(16)

	out, err := p.Process(solidImage(32, 24, color.RGBA{R: 255, G: 128, B: 0, A: 255}))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	expected := []int{3, 16, 16}
	for i, d := range expected {
		if out.Shape[i] != d {
			t.Fatalf("shape %v, expected %v", out.Shape, expected)
		}
	}

	for i, v := range out.Data {
		if v < 0 || v > 1 {
			t.Fatalf("element %d is %g, outside [0, 1]", i, v)
		}
	}
}

func TestProcessChannelLayout(t *testing.T) {
	p := NewImageProcessor(4)

	out, err := p.Process(solidImage(4, 4, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	plane := 16
	for i := 0; i < plane; i++ {
		if math.Abs(float64(out.Data[i]-1)) > 0.01 {
			t.Fatalf("red plane element %d = %g, expected 1", i, out.Data[i])
		}
		if out.Data[plane+i] > 0.01 {
			t.Fatalf("green plane element %d = %g, expected 0", i, out.Data[plane+i])
		}
		if out.Data[2*plane+i] > 0.01 {
			t.Fatalf("blue plane element %d = %g, expected 0", i, out.Data[2*plane+i])
		}
	}
}

func TestProcessResizesNonSquare(t *testing.T) {
	p := NewImageProcessor(8)

	out, err := p.Process(solidImage(100, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Shape[1] != 8 || out.Shape[2] != 8 {
		t.Errorf("shape %v, expected 8x8 spatial", out.Shape)
	}
}

func TestProcessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(file, solidImage(6, 6, color.RGBA{R: 0, G: 255, B: 0, A: 255})); err != nil {
		t.Fatal(err)
	}
	file.Close()

	p := NewImageProcessor(4)
	out, err := p.ProcessFile(path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	// Green plane sits second in CHW layout.
	if math.Abs(float64(out.Data[16]-1)) > 0.01 {
		t.Errorf("green value = %g, expected 1", out.Data[16])
	}
}

func TestProcessFileMissing(t *testing.T) {
	p := NewImageProcessor(4)
	if _, err := p.ProcessFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestProcessFileNotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewImageProcessor(4)
	if _, err := p.ProcessFile(path); err == nil {
		t.Fatal("expected decode error")
	}
}
