package imageprocessor

import (
	"fmt"

	"gocv.io/x/gocv"
)

// DiffImage holds the per-pixel sum across channels of the absolute
// difference between a photograph and the reference, at analysis resolution.
type DiffImage struct {
	Width     int
	Height    int
	Sum       []uint16
	Threshold int
}

// Size implements locator.HitMap
func (d *DiffImage) Size() (int, int) {
	return d.Width, d.Height
}

// Hit implements locator.HitMap: the channel sum exceeds the threshold
func (d *DiffImage) Hit(x, y int) bool {
	return int(d.Sum[y*d.Width+x]) > d.Threshold
}

// Difference compares a full-resolution BGR photograph against the reference.
// The subject Mat is not modified.
func Difference(subject gocv.Mat, ref *Reference, threshold int) (*DiffImage, error) {
	if subject.Cols() != ref.Width || subject.Rows() != ref.Height {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d",
			ErrDimensionMismatch, subject.Cols(), subject.Rows(), ref.Width, ref.Height)
	}
	if subject.Channels() != ref.analysis.Channels() {
		return nil, fmt.Errorf("%w: %d channels vs %d",
			ErrDimensionMismatch, subject.Channels(), ref.analysis.Channels())
	}

	img := subject.Clone()
	defer img.Close()
	if ref.mask != nil {
		ref.mask.Apply(&img)
	}
	small := ref.scaled(img)
	defer small.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(small, ref.analysis, &diff)

	return sumChannels(diff.ToBytes(), diff.Cols(), diff.Rows(), diff.Channels(), threshold), nil
}

// sumChannels folds interleaved channel bytes into one sum per pixel
func sumChannels(data []byte, w, h, channels, threshold int) *DiffImage {
	d := &DiffImage{
		Width:     w,
		Height:    h,
		Sum:       make([]uint16, w*h),
		Threshold: threshold,
	}
	for i := range d.Sum {
		var s uint16
		for c := 0; c < channels; c++ {
			s += uint16(data[i*channels+c])
		}
		d.Sum[i] = s
	}
	return d
}
