package imageprocessor

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// PartialPrefix marks crops that are still being written
const PartialPrefix = ".partial-"

// AdjustBound grows [low, high) symmetrically until it spans length, clamped
// to [0, extent], then fixes up the high end so the span is exactly length.
// length must not exceed extent.
func AdjustBound(low, high, extent, length int) (int, int) {
	for high-low < length {
		if low == 0 && high >= extent {
			break
		}
		low = max(0, low-1)
		high = min(extent, high+1)
	}
	high += length - (high - low)
	return low, high
}

// MakeSquare turns a region bound into a length x length square inside a
// w x h image
func MakeSquare(r image.Rectangle, w, h, length int) image.Rectangle {
	x0, x1 := AdjustBound(r.Min.X, r.Max.X, w, length)
	y0, y1 := AdjustBound(r.Min.Y, r.Max.Y, h, length)
	return image.Rect(x0, y0, x1, y1)
}

// ScaleBound maps a bound from analysis to full resolution, clamped to the
// w x h image
func ScaleBound(r image.Rectangle, factor, w, h int) image.Rectangle {
	scaled := image.Rect(r.Min.X*factor, r.Min.Y*factor, r.Max.X*factor, r.Max.Y*factor)
	return scaled.Intersect(image.Rect(0, 0, w, h))
}

// WriteCrop writes the bound of img to path. The file appears only once it
// is complete: it is encoded next to the target and renamed into place.
func WriteCrop(img gocv.Mat, bound image.Rectangle, path string) error {
	if !bound.In(image.Rect(0, 0, img.Cols(), img.Rows())) {
		return fmt.Errorf("crop %v outside %dx%d image", bound, img.Cols(), img.Rows())
	}
	region := img.Region(bound)
	defer region.Close()
	return writeAtomic(region, path)
}

// writeAtomic encodes img to a partial file in the target directory and renames it
func writeAtomic(img gocv.Mat, path string) error {
	dir, name := filepath.Split(path)
	partial := filepath.Join(dir, PartialPrefix+name)
	if ok := gocv.IMWrite(partial, img); !ok {
		os.Remove(partial)
		return fmt.Errorf("failed to encode %s", partial)
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to move crop into place: %w", err)
	}
	return nil
}

// WriteImage writes a whole image atomically
func WriteImage(img gocv.Mat, path string) error {
	return writeAtomic(img, path)
}
