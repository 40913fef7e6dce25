package scanner

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/markfickett/dicehistogram/cluster"
	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/locator"
	"github.com/markfickett/dicehistogram/types"
	"github.com/schollz/progressbar/v3"
)

var (
	// ErrTooManyAborts ends a crop run whose frames keep differing almost everywhere.
	ErrTooManyAborts = errors.New("too many frames with excessive differing area; check the reference image and diff threshold")
	// ErrNoClusters means the group stage produced nothing usable.
	ErrNoClusters = errors.New("no clusters found")
)

// CropOptions defines the options for the crop stage
type CropOptions struct {
	CaptureDir    string
	CropDir       string
	ReferenceName string
	MaskName      string
	// ScanDistance is in full-resolution pixels.
	ScanDistance  int
	DiffThreshold int
	CropSize      int
	Downscale     int
	// Locator carries the validation limits; its scan distance is derived.
	Locator      locator.Options
	ForceRewrite bool
	DebugMode    bool
	// Number stops the run after this many crops are written; 0 means all.
	Number       int
	MaxWorkers   int
	MaxAborts    int
	SummaryImage string
	Quiet        bool
}

// analysisLocator returns the locator options in analysis pixels
func (o CropOptions) analysisLocator() locator.Options {
	lo := o.Locator
	lo.ScanDistance = o.ScanDistance / max(1, o.Downscale)
	return lo
}

// CropResult holds the result of cropping one photograph
type CropResult struct {
	Name     string
	Status   types.CropStatus
	Bound    image.Rectangle
	Error    error
	Modified time.Time
}

// CropReport aggregates a crop run
type CropReport struct {
	RunID       string
	Processed   int
	Cropped     int
	Skipped     int
	NotFound    int
	Failed      int
	Aborted     int
	FailedFiles []string
	Bounds      []image.Rectangle
	Cancelled   bool
	Elapsed     time.Duration
}

// GroupOptions defines the options for the group stage
type GroupOptions struct {
	CropDir          string
	Thresholds       types.Thresholds
	Detector         string
	CountPips        bool
	Pips             features.PipOptions
	SummaryImage     string
	SnapshotImage    string
	SummaryData      string
	SummaryMaxMember int
	MaxWorkers       int
	NoCache          bool
	Quiet            bool
}

// GroupReport aggregates a group run
type GroupReport struct {
	RunID       string
	Images      int
	Grouping    cluster.Grouping
	NeedsReview []bool
	FailedFiles []string
	Combine     cluster.CombineStats
	Cancelled   bool
	Elapsed     time.Duration
}

// extractResult is the outcome of feature extraction for one crop
type extractResult struct {
	name string
	item features.Comparable
	err  error
}

// ProgressTracker tracks progress of a stage and streams per-item failures
type ProgressTracker struct {
	bar       *progressbar.ProgressBar
	mu        sync.Mutex
	processed int
	errors    int
	failed    []string
	counts    map[types.CropStatus]int
}
