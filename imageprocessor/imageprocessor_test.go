package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/markfickett/dicehistogram/locator"
	"gocv.io/x/gocv"
)

func TestAdjustBound(t *testing.T) {
	for extent := 1; extent <= 24; extent++ {
		for length := 1; length <= extent; length++ {
			for low := 0; low <= extent; low++ {
				for high := low; high <= extent; high++ {
					gotLow, gotHigh := AdjustBound(low, high, extent, length)
					if gotHigh-gotLow != length || gotLow < 0 || gotHigh > extent {
						t.Fatalf("AdjustBound(%d, %d, %d, %d) = (%d, %d), want span %d within [0, %d]",
							low, high, extent, length, gotLow, gotHigh, length, extent)
					}
				}
			}
		}
	}
}

func TestAdjustBoundCases(t *testing.T) {
	tests := []struct {
		name                  string
		low, high, extent, ln int
		wantLow, wantHigh     int
	}{
		{"centered", 40, 60, 100, 40, 30, 70},
		{"clamped low", 0, 10, 100, 40, 0, 40},
		{"clamped high", 90, 100, 100, 40, 60, 100},
		{"already wide", 10, 80, 100, 40, 10, 50},
		{"odd deficit", 40, 61, 100, 40, 30, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high := AdjustBound(tt.low, tt.high, tt.extent, tt.ln)
			if low != tt.wantLow || high != tt.wantHigh {
				t.Errorf("AdjustBound(%d, %d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.low, tt.high, tt.extent, tt.ln, low, high, tt.wantLow, tt.wantHigh)
			}
		})
	}
}

func TestMakeSquare(t *testing.T) {
	got := MakeSquare(image.Rect(70, 70, 130, 130), 200, 200, 100)
	want := image.Rect(50, 50, 150, 150)
	if got != want {
		t.Errorf("MakeSquare() = %v, want %v", got, want)
	}
	got = MakeSquare(image.Rect(0, 180, 20, 200), 300, 200, 80)
	if got.Dx() != 80 || got.Dy() != 80 || !got.In(image.Rect(0, 0, 300, 200)) {
		t.Errorf("MakeSquare() at corner = %v, want 80x80 inside the image", got)
	}
}

func TestScaleBound(t *testing.T) {
	tests := []struct {
		name   string
		in     image.Rectangle
		factor int
		want   image.Rectangle
	}{
		{"identity", image.Rect(1, 2, 3, 4), 1, image.Rect(1, 2, 3, 4)},
		{"doubled", image.Rect(10, 20, 30, 40), 2, image.Rect(20, 40, 60, 80)},
		{"clamped", image.Rect(40, 40, 51, 51), 2, image.Rect(80, 80, 100, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScaleBound(tt.in, tt.factor, 100, 100); got != tt.want {
				t.Errorf("ScaleBound(%v, %d) = %v, want %v", tt.in, tt.factor, got, tt.want)
			}
		})
	}
}

func TestSumChannels(t *testing.T) {
	d := sumChannels([]byte{10, 20, 30, 255, 255, 255}, 2, 1, 3, 60)
	if d.Sum[0] != 60 || d.Sum[1] != 765 {
		t.Fatalf("sumChannels() = %v, want [60 765]", d.Sum)
	}
	if d.Hit(0, 0) {
		t.Error("Hit(0, 0) = true for a sum equal to the threshold")
	}
	if !d.Hit(1, 0) {
		t.Error("Hit(1, 0) = false, want true")
	}
}

var gray = gocv.NewScalar(128, 128, 128, 0)

func solid(w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gray, h, w, gocv.MatTypeCV8UC3)
}

func TestDifferenceLocatesRedSquare(t *testing.T) {
	refImg := solid(200, 200)
	defer refImg.Close()
	ref, err := NewReference(refImg, nil, 1)
	if err != nil {
		t.Fatalf("NewReference() error = %v", err)
	}
	defer ref.Close()

	subject := solid(200, 200)
	defer subject.Close()
	gocv.Rectangle(&subject, image.Rect(70, 70, 130, 130), color.RGBA{R: 255, A: 255}, -1)

	diff, err := Difference(subject, ref, 50)
	if err != nil {
		t.Fatalf("Difference() error = %v", err)
	}
	region, err := locator.Locate(diff, locator.DefaultOptions(40))
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	want := image.Rect(70, 70, 130, 130)
	const slack = 3
	b := region.Bounds
	if abs(b.Min.X-want.Min.X) > slack || abs(b.Min.Y-want.Min.Y) > slack ||
		abs(b.Max.X-want.Max.X) > slack || abs(b.Max.Y-want.Max.Y) > slack {
		t.Errorf("Locate() bounds = %v, want about %v", b, want)
	}
}

func TestDifferenceDownscaled(t *testing.T) {
	refImg := solid(400, 400)
	defer refImg.Close()
	ref, err := NewReference(refImg, nil, 2)
	if err != nil {
		t.Fatalf("NewReference() error = %v", err)
	}
	defer ref.Close()

	subject := solid(400, 400)
	defer subject.Close()
	gocv.Rectangle(&subject, image.Rect(140, 140, 260, 260), color.RGBA{R: 255, A: 255}, -1)

	diff, err := Difference(subject, ref, 50)
	if err != nil {
		t.Fatalf("Difference() error = %v", err)
	}
	if diff.Width != 200 || diff.Height != 200 {
		t.Fatalf("Difference() size = %dx%d, want 200x200", diff.Width, diff.Height)
	}
	region, err := locator.Locate(diff, locator.DefaultOptions(40))
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	full := ScaleBound(region.Bounds, 2, 400, 400)
	if !full.Overlaps(image.Rect(140, 140, 260, 260)) {
		t.Errorf("ScaleBound(%v) = %v, want it over the square", region.Bounds, full)
	}
}

func TestDifferenceDimensionMismatch(t *testing.T) {
	refImg := solid(200, 200)
	defer refImg.Close()
	ref, err := NewReference(refImg, nil, 1)
	if err != nil {
		t.Fatalf("NewReference() error = %v", err)
	}
	defer ref.Close()

	subject := solid(200, 150)
	defer subject.Close()
	if _, err := Difference(subject, ref, 50); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Difference() error = %v, want %v", err, ErrDimensionMismatch)
	}
}

func TestMaskHidesOutsideRegion(t *testing.T) {
	maskImg := solid(200, 200)
	defer maskImg.Close()
	// only the left half is compared
	gocv.Rectangle(&maskImg, image.Rect(0, 0, 100, 200), color.RGBA{R: 255, A: 255}, -1)
	mask := NewMask(maskImg)
	if got := mask.Kept(); got != 100*200 {
		t.Fatalf("Kept() = %d, want %d", got, 100*200)
	}

	refImg := solid(200, 200)
	defer refImg.Close()
	ref, err := NewReference(refImg, mask, 1)
	if err != nil {
		t.Fatalf("NewReference() error = %v", err)
	}
	defer ref.Close()

	subject := solid(200, 200)
	defer subject.Close()
	gocv.Rectangle(&subject, image.Rect(120, 20, 180, 80), color.RGBA{G: 255, A: 255}, -1)
	gocv.Rectangle(&subject, image.Rect(20, 120, 80, 180), color.RGBA{G: 255, A: 255}, -1)

	diff, err := Difference(subject, ref, 50)
	if err != nil {
		t.Fatalf("Difference() error = %v", err)
	}
	if diff.Hit(150, 50) {
		t.Error("Hit(150, 50) = true inside the masked-out half")
	}
	if !diff.Hit(50, 150) {
		t.Error("Hit(50, 150) = false inside the compared half")
	}
}

func TestWriteCropIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	img := solid(100, 100)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(30, 30, 60, 60), color.RGBA{B: 255, A: 255}, -1)

	path := filepath.Join(dir, "roll.png")
	bound := image.Rect(20, 20, 70, 70)
	if err := WriteCrop(img, bound, path); err != nil {
		t.Fatalf("WriteCrop() error = %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteCrop(img, bound, path); err != nil {
		t.Fatalf("WriteCrop() second error = %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("WriteCrop() output differs between identical runs")
	}
	if _, err := os.Stat(filepath.Join(dir, PartialPrefix+"roll.png")); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}

	crop := gocv.IMRead(path, gocv.IMReadColor)
	defer crop.Close()
	if crop.Cols() != 50 || crop.Rows() != 50 {
		t.Errorf("crop size = %dx%d, want 50x50", crop.Cols(), crop.Rows())
	}
}

func TestWriteCropRejectsOutOfBounds(t *testing.T) {
	img := solid(100, 100)
	defer img.Close()
	if err := WriteCrop(img, image.Rect(80, 80, 120, 120), filepath.Join(t.TempDir(), "x.png")); err == nil {
		t.Error("WriteCrop() outside the image succeeded")
	}
}

func TestRegistry(t *testing.T) {
	r := NewImageLoaderRegistry()
	tests := []struct {
		path string
		want bool
	}{
		{"IMG_0001.JPG", true},
		{"roll.png", true},
		{"notes.txt", false},
		{"raw.CR3", false},
	}
	for _, tt := range tests {
		if got := r.CanLoadFile(tt.path); got != tt.want {
			t.Errorf("CanLoadFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if _, err := r.LoadImage(filepath.Join(t.TempDir(), "missing.jpg")); !errors.Is(err, ErrImageLoad) {
		t.Errorf("LoadImage(missing) error = %v, want %v", err, ErrImageLoad)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
