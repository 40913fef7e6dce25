// Package locator finds the single large blob of changed pixels in a
// difference image.
//
// Horizontal scan lines are walked scan distance apart. A sliding window on
// each line triggers a flood fill once enough of its trailing half is hits,
// and the filled region is accepted only when its size and shape are
// plausible for one die.
package locator

import (
	"errors"
	"fmt"
	"image"

	"github.com/markfickett/dicehistogram/logging"
)

var (
	// ErrNoRegionFound means the scan finished without a plausible region.
	ErrNoRegionFound = errors.New("no region found")
	// ErrTooMuchArea means a fill grew far beyond the target area, which
	// points at a wrong reference or threshold rather than a missing die.
	ErrTooMuchArea = errors.New("too much differing area")
)

// HitMap is a grid of pixels that are or are not above the difference threshold
type HitMap interface {
	Size() (width, height int)
	Hit(x, y int) bool
}

// Options controls scanning and validation
type Options struct {
	ScanDistance     int
	AbortMultiplier  float64
	MinAreaMultiple  float64
	MaxAreaMultiple  float64
	MaxEccentricity  float64
	MinPixelMultiple float64
}

// DefaultOptions returns the standard validation limits for a scan distance
func DefaultOptions(scanDistance int) Options {
	return Options{
		ScanDistance:     scanDistance,
		AbortMultiplier:  8,
		MinAreaMultiple:  2,
		MaxAreaMultiple:  6,
		MaxEccentricity:  2.0,
		MinPixelMultiple: 1.5,
	}
}

// TargetArea is the expected pixel area of a die, scan distance squared
func (o Options) TargetArea() int {
	return o.ScanDistance * o.ScanDistance
}

// Validate checks that the options describe a usable scan
func (o Options) Validate() error {
	if o.ScanDistance < 2 {
		return fmt.Errorf("scan distance %d is too small", o.ScanDistance)
	}
	if o.MinAreaMultiple <= 0 || o.MaxAreaMultiple < o.MinAreaMultiple {
		return fmt.Errorf("invalid area multiples [%g, %g]", o.MinAreaMultiple, o.MaxAreaMultiple)
	}
	if o.MaxEccentricity < 1 {
		return fmt.Errorf("max eccentricity %g is below 1", o.MaxEccentricity)
	}
	if o.AbortMultiplier < o.MaxAreaMultiple {
		return fmt.Errorf("abort multiplier %g is below the max area multiple %g", o.AbortMultiplier, o.MaxAreaMultiple)
	}
	return nil
}

// Region is a located blob
type Region struct {
	// Bounds is the bounding box, Max exclusive.
	Bounds image.Rectangle
	// Pixels is the number of hit pixels in the blob.
	Pixels int
}

// Area is the bounding-box area
func (r Region) Area() int {
	return r.Bounds.Dx() * r.Bounds.Dy()
}

// Eccentricity is the long side over the short side of the bounding box
func (r Region) Eccentricity() float64 {
	dx, dy := r.Bounds.Dx(), r.Bounds.Dy()
	if dx == 0 || dy == 0 {
		return 0
	}
	if dx < dy {
		dx, dy = dy, dx
	}
	return float64(dx) / float64(dy)
}

// State is a step of the locator state machine
type State int

const (
	Scanning State = iota
	Candidate
	FloodFilling
	Validating
	Done
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Candidate:
		return "candidate"
	case FloodFilling:
		return "flood-filling"
	case Validating:
		return "validating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Locator runs one search over a HitMap
type Locator struct {
	m       HitMap
	opts    Options
	width   int
	height  int
	visited []bool
	state   State

	// scan position
	x, y   int
	window *window

	seeds    []image.Point
	fill     fillResult
	region   Region
	rejected []Region
}

// New prepares a locator; Locate runs it
func New(m HitMap, opts Options) *Locator {
	w, h := m.Size()
	return &Locator{
		m:       m,
		opts:    opts,
		width:   w,
		height:  h,
		visited: make([]bool, w*h),
		state:   Scanning,
		window:  newWindow(opts.ScanDistance),
	}
}

// Locate is a convenience wrapper around New(m, opts).Locate()
func Locate(m HitMap, opts Options) (Region, error) {
	return New(m, opts).Locate()
}

// Locate scans until a valid region is found or the scan is exhausted
func (l *Locator) Locate() (Region, error) {
	if err := l.opts.Validate(); err != nil {
		return Region{}, err
	}
	if l.width == 0 || l.height == 0 {
		l.state = Failed
		return Region{}, ErrNoRegionFound
	}

	target := l.opts.TargetArea()
	abortLimit := int(l.opts.AbortMultiplier * float64(target))

	for {
		switch l.state {
		case Scanning:
			l.scan()

		case Candidate:
			l.seeds = l.window.seeds()
			l.state = FloodFilling

		case FloodFilling:
			// Each seed's component is filled on its own, newest seed first.
			if len(l.seeds) == 0 {
				l.nextPosition()
				continue
			}
			seed := l.seeds[len(l.seeds)-1]
			l.seeds = l.seeds[:len(l.seeds)-1]
			l.fill = fill(l.m, l.visited, []image.Point{seed}, abortLimit)
			if l.fill.aborted {
				l.state = Aborted
				continue
			}
			if l.fill.pixels == 0 {
				continue
			}
			l.state = Validating

		case Validating:
			candidate := Region{Bounds: l.fill.bounds, Pixels: l.fill.pixels}
			if reason := l.reject(candidate); reason != "" {
				logging.DebugLog("locator: rejected region %v (%d px) at line y=%d: %s",
					candidate.Bounds, candidate.Pixels, l.y, reason)
				l.rejected = append(l.rejected, candidate)
				l.state = FloodFilling
				continue
			}
			l.region = candidate
			l.state = Done

		case Done:
			return l.region, nil

		case Failed:
			return Region{}, ErrNoRegionFound

		case Aborted:
			return Region{}, fmt.Errorf("%w: region exceeded %d px (%gx target %d) from line y=%d",
				ErrTooMuchArea, abortLimit, l.opts.AbortMultiplier, target, l.y)
		}
	}
}

// nextPosition resumes scanning after the position that triggered
func (l *Locator) nextPosition() {
	l.window.reset()
	l.x++
	l.state = Scanning
}

// scan walks the scan lines from the current position until the window
// triggers or the image is exhausted
func (l *Locator) scan() {
	sd := l.opts.ScanDistance
	for ; l.y < l.height; l.y += sd {
		for ; l.x < l.width; l.x++ {
			idx := l.y*l.width + l.x
			hit := !l.visited[idx] && l.m.Hit(l.x, l.y)
			if l.window.push(image.Pt(l.x, l.y), hit) {
				l.state = Candidate
				return
			}
		}
		l.x = 0
		l.window.reset()
	}
	l.state = Failed
}

// reject returns why a candidate is not a die, or "" when it is acceptable
func (l *Locator) reject(r Region) string {
	target := float64(l.opts.TargetArea())
	area := float64(r.Area())
	switch {
	case r.Pixels == 0:
		return "empty"
	case area < l.opts.MinAreaMultiple*target:
		return fmt.Sprintf("area %g below %gx target", area, l.opts.MinAreaMultiple)
	case area > l.opts.MaxAreaMultiple*target:
		return fmt.Sprintf("area %g above %gx target", area, l.opts.MaxAreaMultiple)
	case r.Eccentricity() > l.opts.MaxEccentricity:
		return fmt.Sprintf("eccentricity %.2f above %.2f", r.Eccentricity(), l.opts.MaxEccentricity)
	case float64(r.Pixels) < l.opts.MinPixelMultiple*target:
		return fmt.Sprintf("%d px below %gx target", r.Pixels, l.opts.MinPixelMultiple)
	}
	return ""
}

// State returns where the state machine stopped
func (l *Locator) State() State {
	return l.state
}

// Visited reports whether a pixel was part of any flood fill
func (l *Locator) Visited(x, y int) bool {
	if x < 0 || y < 0 || x >= l.width || y >= l.height {
		return false
	}
	return l.visited[y*l.width+x]
}

// Rejected returns the regions filled but rejected by validation
func (l *Locator) Rejected() []Region {
	return l.rejected
}
