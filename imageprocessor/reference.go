package imageprocessor

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/markfickett/dicehistogram/logging"
	"gocv.io/x/gocv"
)

// ErrDimensionMismatch is returned when a photograph is not the size of the reference
var ErrDimensionMismatch = errors.New("image dimensions do not match reference")

// Reference is the empty-scene photograph of a run, masked and scaled once
// and then shared read-only by every crop worker.
type Reference struct {
	// Width and Height are the full-resolution dimensions.
	Width, Height int
	// Downscale divides both dimensions for analysis.
	Downscale int

	full     gocv.Mat
	analysis gocv.Mat
	mask     *Mask
}

// LoadReference loads the reference photograph and, when maskPath names an
// existing file, the mask of the region to compare. maskPath may be empty.
func LoadReference(registry *ImageLoaderRegistry, refPath, maskPath string, downscale int) (*Reference, error) {
	if downscale < 1 {
		return nil, fmt.Errorf("downscale must be at least 1, got %d", downscale)
	}
	img, err := registry.LoadImage(refPath)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	var mask *Mask
	if maskPath != "" {
		if _, statErr := os.Stat(maskPath); statErr == nil {
			mask, err = LoadMask(registry, maskPath)
			if err != nil {
				img.Close()
				return nil, err
			}
		} else {
			logging.DebugLog("No mask at %s, comparing the whole frame", maskPath)
		}
	}

	ref, err := NewReference(img, mask, downscale)
	img.Close()
	if err != nil && mask != nil {
		mask.Close()
	}
	return ref, err
}

// NewReference builds a Reference from an already loaded BGR image. The image
// is copied; the caller keeps ownership of img. Ownership of mask passes to
// the Reference.
func NewReference(img gocv.Mat, mask *Mask, downscale int) (*Reference, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty reference", ErrImageLoad)
	}
	if downscale < 1 {
		return nil, fmt.Errorf("downscale must be at least 1, got %d", downscale)
	}
	w, h := img.Cols(), img.Rows()
	if mask != nil && (mask.Width() != w || mask.Height() != h) {
		return nil, fmt.Errorf("%w: mask is %dx%d, reference is %dx%d",
			ErrDimensionMismatch, mask.Width(), mask.Height(), w, h)
	}

	r := &Reference{
		Width:     w,
		Height:    h,
		Downscale: downscale,
		full:      img.Clone(),
		mask:      mask,
	}
	if mask != nil {
		mask.Apply(&r.full)
	}
	r.analysis = r.scaled(r.full)
	logging.LogInfo("Reference %dx%d, analysis %dx%d, mask=%v",
		w, h, r.analysis.Cols(), r.analysis.Rows(), mask != nil)
	return r, nil
}

// AnalysisSize is the width and height used for differencing
func (r *Reference) AnalysisSize() image.Point {
	return image.Pt(r.Width/r.Downscale, r.Height/r.Downscale)
}

// Full returns the masked full-resolution reference. The Mat is owned by r.
func (r *Reference) Full() gocv.Mat {
	return r.full
}

// HasMask reports whether a mask was applied
func (r *Reference) HasMask() bool {
	return r.mask != nil
}

// scaled returns a new Mat at analysis resolution
func (r *Reference) scaled(src gocv.Mat) gocv.Mat {
	if r.Downscale == 1 {
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, r.AnalysisSize(), 0, 0, gocv.InterpolationArea)
	return dst
}

// Close releases the OpenCV memory held by the reference
func (r *Reference) Close() error {
	r.full.Close()
	r.analysis.Close()
	if r.mask != nil {
		r.mask.Close()
	}
	return nil
}
