// Package features turns cropped die images into comparable units and scores
// how well two of them match.
//
// Two strategies implement Comparable. FeatureComparison detects binary
// keypoint descriptors and fits a homography between matched keypoints.
// PipCounter counts the dark (or light) spots on the face and matches on
// equal counts.
package features

import (
	"errors"
	"image"

	"github.com/markfickett/dicehistogram/types"
	"gocv.io/x/gocv"
)

var (
	// ErrNoFeatures is returned for an image with zero descriptors
	ErrNoFeatures = errors.New("no features detected")
	// ErrStrategyMismatch is returned when comparing units of different strategies
	ErrStrategyMismatch = errors.New("cannot compare units of different strategies")
)

// ThumbnailSize is the edge length of the summary thumbnail
const ThumbnailSize = 90

// Comparable is one cropped image prepared for clustering
type Comparable interface {
	// Name is the crop's base filename
	Name() string
	// Compare scores how well candidate matches this unit. Results are not
	// symmetric: a.Compare(b) may differ from b.Compare(a).
	Compare(candidate Comparable) (types.MatchResult, error)
	// Accepts reports whether a result completes a match under t
	Accepts(r types.MatchResult, t types.Thresholds) bool
	// Details are lines of text drawn over the thumbnail in summaries
	Details(best types.MatchResult) []string
	// Thumbnail is a ThumbnailSize square BGR image, owned by the unit
	Thumbnail() gocv.Mat
	// Close releases OpenCV memory
	Close() error
}

// Extractor builds Comparables from crop files. Extractors are not safe for
// concurrent use; run one per goroutine.
type Extractor interface {
	Extract(path string) (Comparable, error)
	Close() error
}

// ExtractorFactory makes a fresh Extractor for a worker
type ExtractorFactory func() (Extractor, error)

// thumbnail resizes a BGR image to the summary tile size
func thumbnail(img gocv.Mat) gocv.Mat {
	thumb := gocv.NewMat()
	gocv.Resize(img, &thumb, image.Pt(ThumbnailSize, ThumbnailSize), 0, 0, gocv.InterpolationArea)
	return thumb
}
