package imageprocessor

import (
	"fmt"

	"gocv.io/x/gocv"
)

// MaskFill is the BGR background painted over masked-out pixels
var MaskFill = gocv.NewScalar(175, 175, 185, 0)

// Pure red in BGR, with some slack for JPEG colorspace bleed
var (
	maskRedLower = gocv.NewScalar(0, 0, 251, 0)
	maskRedUpper = gocv.NewScalar(39, 39, 255, 0)
)

// Mask marks the pixels that take part in differencing. Red pixels of the
// mask photograph are kept; everything else is replaced by MaskFill.
type Mask struct {
	keep gocv.Mat
}

// LoadMask reads a mask photograph and extracts its pure-red region
func LoadMask(registry *ImageLoaderRegistry, path string) (*Mask, error) {
	img, err := registry.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	defer img.Close()
	return NewMask(img), nil
}

// NewMask builds a Mask from a BGR image
func NewMask(img gocv.Mat) *Mask {
	keep := gocv.NewMat()
	gocv.InRangeWithScalar(img, maskRedLower, maskRedUpper, &keep)
	return &Mask{keep: keep}
}

// Width of the mask in pixels
func (m *Mask) Width() int { return m.keep.Cols() }

// Height of the mask in pixels
func (m *Mask) Height() int { return m.keep.Rows() }

// Kept returns the number of pixels that are compared
func (m *Mask) Kept() int {
	return gocv.CountNonZero(m.keep)
}

// Apply composites img over MaskFill through the mask, in place
func (m *Mask) Apply(img *gocv.Mat) {
	composite := gocv.NewMatWithSizeFromScalar(MaskFill, img.Rows(), img.Cols(), img.Type())
	img.CopyToWithMask(&composite, m.keep)
	img.Close()
	*img = composite
}

// Close releases the mask
func (m *Mask) Close() error {
	return m.keep.Close()
}
