package features

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/markfickett/dicehistogram/imageprocessor"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/types"
	"gocv.io/x/gocv"
)

// Detector names accepted by NewFeatureExtractor
const (
	DetectorAKAZE = "akaze"
	DetectorORB   = "orb"
	DetectorBRISK = "brisk"
)

// Detectors lists the supported keypoint detectors
var Detectors = []string{DetectorAKAZE, DetectorORB, DetectorBRISK}

// detector is the part of the OpenCV feature detectors we use
type detector interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	Close() error
}

func newDetector(name string) (detector, error) {
	switch strings.ToLower(name) {
	case DetectorAKAZE:
		d := gocv.NewAKAZE()
		return &d, nil
	case DetectorORB:
		d := gocv.NewORB()
		return &d, nil
	case DetectorBRISK:
		d := gocv.NewBRISK()
		return &d, nil
	}
	return nil, fmt.Errorf("unknown detector %q (want one of %s)", name, strings.Join(Detectors, ", "))
}

// FeatureComparison holds the keypoints and descriptors of one crop
type FeatureComparison struct {
	name        string
	keypoints   []gocv.KeyPoint
	descriptors gocv.Mat
	thumb       gocv.Mat
	matcher     *Matcher
}

// NewFeatureComparison wraps precomputed features. It takes ownership of
// descriptors and thumb.
func NewFeatureComparison(name string, kps []gocv.KeyPoint, descriptors, thumb gocv.Mat, matcher *Matcher) (*FeatureComparison, error) {
	if descriptors.Empty() || len(kps) == 0 {
		descriptors.Close()
		thumb.Close()
		return nil, fmt.Errorf("%w in %s", ErrNoFeatures, name)
	}
	return &FeatureComparison{
		name:        name,
		keypoints:   kps,
		descriptors: descriptors,
		thumb:       thumb,
		matcher:     matcher,
	}, nil
}

// Name returns the crop filename
func (f *FeatureComparison) Name() string { return f.name }

// FeatureCount is the number of detected keypoints
func (f *FeatureComparison) FeatureCount() int { return len(f.keypoints) }

// Compare matches the candidate's descriptors against this unit's
func (f *FeatureComparison) Compare(candidate Comparable) (types.MatchResult, error) {
	other, ok := candidate.(*FeatureComparison)
	if !ok {
		return types.NoMatch, fmt.Errorf("%w: %T against %T", ErrStrategyMismatch, candidate, f)
	}
	count, scale := f.matcher.Match(other.keypoints, other.descriptors, f.keypoints, f.descriptors)
	result := types.MatchResult{
		Count:             count,
		Scale:             scale,
		FeatureProportion: FeatureProportion(len(f.keypoints), len(other.keypoints)),
	}
	logging.DebugLog("%s (%d) match %s (%d) => %d inl / %.2f sh / %.2f fp",
		other.name, len(other.keypoints), f.name, len(f.keypoints),
		result.Count, result.Scale, result.FeatureProportion)
	return result, nil
}

// Accepts requires enough inliers, bounded distortion and similar feature counts
func (f *FeatureComparison) Accepts(r types.MatchResult, t types.Thresholds) bool {
	return r.Count >= t.Match && r.Scale <= t.Scale && r.FeatureProportion < t.Feature
}

// Details lists the feature count and best-match scores
func (f *FeatureComparison) Details(best types.MatchResult) []string {
	return []string{
		fmt.Sprintf("features: %d", len(f.keypoints)),
		fmt.Sprintf("matches: %d", best.Count),
		fmt.Sprintf("  sh: %.2f", best.Scale),
		fmt.Sprintf("  fp: %.2f", best.FeatureProportion),
	}
}

// Thumbnail returns the summary tile
func (f *FeatureComparison) Thumbnail() gocv.Mat { return f.thumb }

// Close releases the descriptors and thumbnail
func (f *FeatureComparison) Close() error {
	f.descriptors.Close()
	f.thumb.Close()
	return nil
}

// FeatureExtractor detects keypoints in crops, consulting an optional cache
type FeatureExtractor struct {
	name     string
	detector detector
	matcher  *Matcher
	registry *imageprocessor.ImageLoaderRegistry
	cache    FeatureCache
}

// NewFeatureExtractor creates an extractor for one detector. cache may be nil.
func NewFeatureExtractor(detectorName string, matcher *Matcher, cache FeatureCache) (*FeatureExtractor, error) {
	d, err := newDetector(detectorName)
	if err != nil {
		return nil, err
	}
	return &FeatureExtractor{
		name:     strings.ToLower(detectorName),
		detector: d,
		matcher:  matcher,
		registry: imageprocessor.NewImageLoaderRegistry(),
		cache:    cache,
	}, nil
}

// Extract loads a crop and computes (or restores) its features
func (e *FeatureExtractor) Extract(path string) (Comparable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	img, err := e.registry.LoadImage(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	name := filepath.Base(path)
	thumb := thumbnail(img)

	if e.cache != nil {
		if data, ok, err := e.cache.LoadFeatures(path, e.name, info.ModTime()); err != nil {
			logging.LogWarning("Feature cache read for %s failed: %v", path, err)
		} else if ok {
			kps, descriptors, err := DecodeFeatures(data)
			if err == nil {
				return NewFeatureComparison(name, kps, descriptors, thumb, e.matcher)
			}
			logging.LogWarning("Discarding cached features for %s: %v", path, err)
		}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	noMask := gocv.NewMat()
	defer noMask.Close()
	kps, descriptors := e.detector.DetectAndCompute(gray, noMask)

	if e.cache != nil && !descriptors.Empty() {
		if data, err := EncodeFeatures(kps, descriptors); err != nil {
			logging.LogWarning("Encoding features for %s: %v", path, err)
		} else if err := e.cache.SaveFeatures(path, e.name, info.ModTime(), len(kps), data); err != nil {
			logging.LogWarning("Feature cache write for %s failed: %v", path, err)
		}
	}
	return NewFeatureComparison(name, kps, descriptors, thumb, e.matcher)
}

// Close releases the detector
func (e *FeatureExtractor) Close() error {
	return e.detector.Close()
}
