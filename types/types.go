package types

import "math"

// CropStatus is the outcome of cropping one photograph
type CropStatus string

const (
	CropStatusCropped  CropStatus = "cropped"
	CropStatusSkipped  CropStatus = "skipped"
	CropStatusNotFound CropStatus = "not_found"
	CropStatusFailed   CropStatus = "failed"
	CropStatusAborted  CropStatus = "aborted"
)

// CropRecord holds the ledger entry for one photograph of a crop run
type CropRecord struct {
	Path       string     `json:"path"`
	RunID      string     `json:"run_id"`
	Status     CropStatus `json:"status"`
	XMin       int        `json:"x_min"`
	YMin       int        `json:"y_min"`
	XMax       int        `json:"x_max"`
	YMax       int        `json:"y_max"`
	Message    string     `json:"message,omitempty"`
	ModifiedAt string     `json:"modified_at"`
}

// MatchResult holds the comparison of one cropped image against another
type MatchResult struct {
	// Count is the number of RANSAC inliers (or 1/0 for pip equality).
	Count int
	// Scale is 1.0 for a rigid transform and grows with projective distortion.
	Scale float64
	// FeatureProportion is the ratio of total feature counts, always >= 1.
	FeatureProportion float64
}

// NoMatch is the result before any comparison has been made
var NoMatch = MatchResult{Count: 0, Scale: math.Inf(1), FeatureProportion: math.Inf(1)}

// Thresholds decide when a match is good enough to join a cluster
type Thresholds struct {
	Match   int     `json:"match"`
	Scale   float64 `json:"scale"`
	Feature float64 `json:"feature"`
}

// LabeledRoll is one roll with its face label and position in capture order
type LabeledRoll struct {
	Filename string `json:"filename"`
	Label    int    `json:"label"`
	Position int    `json:"position"`
}

// HistogramRow is a per-label probability with a confidence interval
type HistogramRow struct {
	Label int
	P     float64
	Low   float64
	High  float64
}
