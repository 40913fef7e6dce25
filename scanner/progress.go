package scanner

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/types"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NewProgressTracker initializes the progress tracker
func NewProgressTracker(total int, description string, quiet bool) *ProgressTracker {
	var out io.Writer = os.Stderr
	if quiet {
		out = io.Discard
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
	return &ProgressTracker{bar: bar, counts: make(map[types.CropStatus]int)}
}

// Record counts one finished item. A non-nil err is printed above the bar
// and logged.
func (p *ProgressTracker) Record(name string, status types.CropStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	if status != "" {
		p.counts[status]++
	}
	if err != nil {
		p.errors++
		p.failed = append(p.failed, name)
		p.bar.Clear()
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		logging.LogImageProcessed(name, false, err.Error())
	} else {
		logging.LogImageProcessed(name, true, string(status))
	}
	p.bar.Add(1)
}

// Count returns how many items ended with status
func (p *ProgressTracker) Count(status types.CropStatus) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[status]
}

// Failed returns the names of the items that ended with an error
func (p *ProgressTracker) Failed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}

// Stop ends the progress display
func (p *ProgressTracker) Stop() {
	p.bar.Finish()
	fmt.Fprintln(os.Stderr)
}

// PrintCropStats displays statistics after a crop run
func PrintCropStats(w io.Writer, r *CropReport) {
	pr := message.NewPrinter(language.English)
	if r.Cancelled {
		pr.Fprintf(w, "Interrupted; partial results follow.\n")
	}
	pr.Fprintf(w, "Processed %d images in %v.\n", r.Processed, r.Elapsed.Round(time.Second))
	pr.Fprintf(w, "Cropped: %d, skipped: %d, not found: %d, failed: %d, aborted: %d\n",
		r.Cropped, r.Skipped, r.NotFound, r.Failed, r.Aborted)
	if len(r.FailedFiles) > 0 {
		pr.Fprintf(w, "Unprocessed files (%d):\n", len(r.FailedFiles))
		for _, name := range r.FailedFiles {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}

// PrintGroupStats displays statistics after a group run
func PrintGroupStats(w io.Writer, r *GroupReport) {
	pr := message.NewPrinter(language.English)
	if r.Cancelled {
		pr.Fprintf(w, "Interrupted; partial results follow.\n")
	}
	pr.Fprintf(w, "Grouped %d images into %d clusters in %v.\n", r.Images, len(r.Grouping), r.Elapsed.Round(time.Second))
	pr.Fprintf(w, "Combine: %d main, %d tail, %d reparented\n", r.Combine.Main, r.Combine.Tail, r.Combine.Reparented)
	for i, names := range r.Grouping {
		review := ""
		if i < len(r.NeedsReview) && r.NeedsReview[i] {
			review = " (review)"
		}
		pr.Fprintf(w, "  %3d: %d images, %s%s\n", i, len(names), names[0], review)
	}
	if len(r.FailedFiles) > 0 {
		pr.Fprintf(w, "Failed files (%d):\n", len(r.FailedFiles))
		for _, name := range r.FailedFiles {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}
