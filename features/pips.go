package features

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/markfickett/dicehistogram/imageprocessor"
	"github.com/markfickett/dicehistogram/locator"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/types"
	"gocv.io/x/gocv"
)

const (
	// pipNoiseFloor is the pixel count at or below which a component is ignored
	pipNoiseFloor   = 100
	pipStrictMinPx  = 600
	pipStrictMaxPx  = 1500
	pipStrictMaxEcc = 1.65
	pipStrictFill   = 0.68
)

var pipOutline = color.RGBA{R: 254, G: 254, B: 100, A: 255}

// PipOptions controls pip segmentation
type PipOptions struct {
	// White pips on a dark face instead of dark pips on a light face
	White bool
	// Strict also filters components by area, aspect and fill
	Strict bool
	// ThresholdAdjust shifts the Otsu threshold; negative shrinks dark pips
	ThresholdAdjust int
}

// binaryMap adapts a thresholded 8-bit image to locator.HitMap
type binaryMap struct {
	w, h int
	px   []byte
}

func (b *binaryMap) Size() (int, int)  { return b.w, b.h }
func (b *binaryMap) Hit(x, y int) bool { return b.px[y*b.w+x] != 0 }

// CountPips segments a grayscale crop and returns the bounds of the pips
func CountPips(gray gocv.Mat, opts PipOptions) []image.Rectangle {
	mode := gocv.ThresholdBinaryInv
	adjust := opts.ThresholdAdjust
	if opts.White {
		mode = gocv.ThresholdBinary
		adjust = -adjust
	}

	scratch := gocv.NewMat()
	defer scratch.Close()
	otsu := gocv.Threshold(gray, &scratch, 0, 255, mode+gocv.ThresholdOtsu)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, otsu+float32(adjust), 255, mode)

	return pipComponents(&binaryMap{w: binary.Cols(), h: binary.Rows(), px: binary.ToBytes()}, opts.Strict)
}

// pipComponents finds 8-connected components clear of the border that look like pips
func pipComponents(m locator.HitMap, strict bool) []image.Rectangle {
	w, h := m.Size()
	visited := make([]bool, w*h)
	var pips []image.Rectangle
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if visited[y*w+x] || !m.Hit(x, y) {
				continue
			}
			bounds, pixels, _ := locator.Fill(m, visited, []image.Point{{X: x, Y: y}}, 0)
			if bounds.Min.X == 0 || bounds.Min.Y == 0 || bounds.Max.X == w || bounds.Max.Y == h {
				continue
			}
			if pixels <= pipNoiseFloor {
				continue
			}
			if strict && !strictPip(bounds, pixels) {
				continue
			}
			pips = append(pips, bounds)
		}
	}
	return pips
}

func strictPip(bounds image.Rectangle, pixels int) bool {
	if pixels <= pipStrictMinPx || pixels >= pipStrictMaxPx {
		return false
	}
	region := locator.Region{Bounds: bounds, Pixels: pixels}
	fill := float64(pixels) / float64(region.Area())
	return region.Eccentricity() < pipStrictMaxEcc && fill > pipStrictFill
}

// PipCounter is a crop reduced to its number of pips
type PipCounter struct {
	name  string
	pips  int
	thumb gocv.Mat
}

// NewPipCounter wraps a pip count. It takes ownership of thumb.
func NewPipCounter(name string, pips int, thumb gocv.Mat) *PipCounter {
	return &PipCounter{name: name, pips: pips, thumb: thumb}
}

// Name returns the crop filename
func (p *PipCounter) Name() string { return p.name }

// Pips is the counted number of pips
func (p *PipCounter) Pips() int { return p.pips }

// Compare matches only on an equal pip count
func (p *PipCounter) Compare(candidate Comparable) (types.MatchResult, error) {
	other, ok := candidate.(*PipCounter)
	if !ok {
		return types.NoMatch, fmt.Errorf("%w: %T against %T", ErrStrategyMismatch, candidate, p)
	}
	result := types.MatchResult{Scale: 1, FeatureProportion: 1}
	if other.pips == p.pips {
		result.Count = 1
	}
	return result, nil
}

// Accepts any equal-count result; thresholds do not apply to pips
func (p *PipCounter) Accepts(r types.MatchResult, _ types.Thresholds) bool {
	return r.Count > 0
}

// Details shows the pip count
func (p *PipCounter) Details(types.MatchResult) []string {
	return []string{fmt.Sprintf("%d", p.pips)}
}

// Thumbnail returns the summary tile with pips outlined
func (p *PipCounter) Thumbnail() gocv.Mat { return p.thumb }

// Close releases the thumbnail
func (p *PipCounter) Close() error {
	return p.thumb.Close()
}

// PipExtractor counts pips in crop files
type PipExtractor struct {
	opts     PipOptions
	registry *imageprocessor.ImageLoaderRegistry
}

// NewPipExtractor creates a pip-counting extractor
func NewPipExtractor(opts PipOptions) *PipExtractor {
	return &PipExtractor{opts: opts, registry: imageprocessor.NewImageLoaderRegistry()}
}

// Extract loads a crop and counts its pips
func (e *PipExtractor) Extract(path string) (Comparable, error) {
	img, err := e.registry.LoadImage(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	pips := CountPips(gray, e.opts)
	for _, b := range pips {
		gocv.Rectangle(&img, b, pipOutline, max(1, img.Cols()/200))
	}
	name := filepath.Base(path)
	logging.DebugLog("%s = %d pips", name, len(pips))
	return NewPipCounter(name, len(pips), thumbnail(img)), nil
}

// Close is a no-op; the extractor holds no OpenCV state
func (e *PipExtractor) Close() error { return nil }
