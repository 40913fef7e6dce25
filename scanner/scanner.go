package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markfickett/dicehistogram/database"
	"github.com/markfickett/dicehistogram/imageprocessor"
	"github.com/markfickett/dicehistogram/locator"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/signalhandler"
	"github.com/markfickett/dicehistogram/types"
)

// CropFolder crops the die out of every photograph in the capture directory.
// db may be nil, in which case no ledger is kept. Cancelling ctx stops
// handing out work; results already produced are still reported.
func CropFolder(ctx context.Context, db *sql.DB, options CropOptions) (*CropReport, error) {
	startTime := time.Now()
	registry := imageprocessor.NewImageLoaderRegistry()

	if err := options.analysisLocator().Validate(); err != nil {
		return nil, fmt.Errorf("invalid locator options: %w", err)
	}

	names, err := listCaptures(registry, options)
	if err != nil {
		return nil, err
	}

	refPath := filepath.Join(options.CaptureDir, options.ReferenceName)
	maskPath := ""
	if options.MaskName != "" {
		maskPath = filepath.Join(options.CaptureDir, options.MaskName)
	}
	ref, err := imageprocessor.LoadReference(registry, refPath, maskPath, options.Downscale)
	if err != nil {
		return nil, err
	}
	defer ref.Close()
	if options.CropSize > min(ref.Width, ref.Height) {
		return nil, fmt.Errorf("crop size %d exceeds reference dimensions %dx%d",
			options.CropSize, ref.Width, ref.Height)
	}
	if ref.HasMask() {
		logging.LogInfo("Using mask %s", maskPath)
	}

	if err := ensureDir(options.CropDir); err != nil {
		return nil, err
	}
	removePartials(options.CropDir)
	if options.DebugMode {
		if err := ensureDir(filepath.Join(options.CropDir, "debug")); err != nil {
			return nil, err
		}
	}

	var runID string
	if db != nil {
		if runID, err = database.StartRun(db, "crop", options.CaptureDir); err != nil {
			return nil, err
		}
	}

	report := &CropReport{RunID: runID}
	tracker := NewProgressTracker(len(names), "Cropping", options.Quiet)

	// Skips are decided up front so workers only see real work.
	var pending []string
	for _, name := range names {
		src := filepath.Join(options.CaptureDir, name)
		skip, err := checkAndSkipIfUnchanged(db, src, filepath.Join(options.CropDir, name), options)
		if err != nil {
			logging.LogWarning("%v", err)
		}
		if skip {
			tracker.Record(name, types.CropStatusSkipped, nil)
			report.Skipped++
			continue
		}
		pending = append(pending, name)
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	quota := newCropQuota(options.Number)
	numWorkers := signalhandler.WorkerCount(options.MaxWorkers)
	jobs := make(chan string)
	results := make(chan CropResult, numWorkers)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				results <- cropOneSafely(workCtx, ref, registry, quota, name, options)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, name := range pending {
			select {
			case <-workCtx.Done():
				return
			case jobs <- name:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var runErr error
	for result := range results {
		if result.Status == types.CropStatusSkipped {
			// Located after the run stopped; nothing was written.
			continue
		}
		src := filepath.Join(options.CaptureDir, result.Name)
		recordCrop(db, runID, src, result)

		var itemErr error
		switch result.Status {
		case types.CropStatusCropped:
			report.Cropped++
			report.Bounds = append(report.Bounds, result.Bound)
		case types.CropStatusNotFound:
			report.NotFound++
			itemErr = result.Error
		case types.CropStatusAborted:
			report.Aborted++
			itemErr = result.Error
		default:
			report.Failed++
			itemErr = result.Error
		}
		tracker.Record(result.Name, result.Status, itemErr)

		if options.Number > 0 && report.Cropped >= options.Number && workCtx.Err() == nil {
			logging.LogInfo("Reached %d crops, stopping", options.Number)
			cancel()
		}
		if options.MaxAborts > 0 && report.Aborted >= options.MaxAborts && runErr == nil {
			runErr = ErrTooManyAborts
			cancel()
		}
	}
	tracker.Stop()

	report.Processed = report.Cropped + report.Skipped + report.NotFound + report.Failed + report.Aborted
	report.FailedFiles = tracker.Failed()
	report.Cancelled = ctx.Err() != nil
	report.Elapsed = time.Since(startTime)

	if options.SummaryImage != "" && len(report.Bounds) > imageprocessor.MinCropsForSummary {
		if err := imageprocessor.WriteCropSummary(ref, report.Bounds, options.SummaryImage); err != nil {
			logging.LogWarning("Cannot write crop summary: %v", err)
		}
	}

	finishRun(db, runID, report.Cancelled, runErr,
		fmt.Sprintf("%d cropped, %d skipped, %d not found, %d failed, %d aborted",
			report.Cropped, report.Skipped, report.NotFound, report.Failed, report.Aborted))
	return report, runErr
}

// cropQuota hands out at most limit crop writes across workers; a zero limit
// is unlimited
type cropQuota struct {
	limit int64
	used  atomic.Int64
}

func newCropQuota(limit int) *cropQuota {
	return &cropQuota{limit: int64(limit)}
}

func (q *cropQuota) claim() bool {
	if q.limit <= 0 {
		return true
	}
	return q.used.Add(1) <= q.limit
}

// cropOneSafely converts a panic inside OpenCV into a failed result
func cropOneSafely(ctx context.Context, ref *imageprocessor.Reference, registry *imageprocessor.ImageLoaderRegistry, quota *cropQuota, name string, options CropOptions) (result CropResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogError("Recovered from panic while cropping %s: %v", name, r)
			result = CropResult{Name: name, Status: types.CropStatusFailed, Error: fmt.Errorf("internal error: %v", r)}
		}
	}()
	return cropOne(ctx, ref, registry, quota, name, options)
}

// cropOne locates the die in one photograph and writes its crop. Once ctx is
// done or the quota is spent the crop is not written and the result is
// skipped.
func cropOne(ctx context.Context, ref *imageprocessor.Reference, registry *imageprocessor.ImageLoaderRegistry, quota *cropQuota, name string, options CropOptions) CropResult {
	src := filepath.Join(options.CaptureDir, name)
	result := CropResult{Name: name}
	if info, err := os.Stat(src); err == nil {
		result.Modified = info.ModTime()
	}

	img, err := registry.LoadImage(src)
	if err != nil {
		result.Status, result.Error = types.CropStatusFailed, err
		return result
	}
	defer img.Close()

	diff, err := imageprocessor.Difference(img, ref, options.DiffThreshold)
	if err != nil {
		result.Status, result.Error = types.CropStatusFailed, err
		return result
	}

	loc := locator.New(diff, options.analysisLocator())
	region, err := loc.Locate()
	if options.DebugMode {
		var accepted *locator.Region
		if err == nil {
			accepted = &region
		}
		writeLocatorDebug(loc, accepted, debugPath(options.CropDir, name))
	}
	switch {
	case errors.Is(err, locator.ErrTooMuchArea):
		result.Status, result.Error = types.CropStatusAborted, err
		return result
	case errors.Is(err, locator.ErrNoRegionFound):
		result.Status, result.Error = types.CropStatusNotFound, err
		return result
	case err != nil:
		result.Status, result.Error = types.CropStatusFailed, err
		return result
	}

	full := imageprocessor.ScaleBound(region.Bounds, options.Downscale, ref.Width, ref.Height)
	bound := imageprocessor.MakeSquare(full, ref.Width, ref.Height, options.CropSize)
	if ctx.Err() != nil || !quota.claim() {
		result.Status = types.CropStatusSkipped
		return result
	}
	if err := imageprocessor.WriteCrop(img, bound, filepath.Join(options.CropDir, name)); err != nil {
		result.Status, result.Error = types.CropStatusFailed, err
		return result
	}
	logging.DebugLog("%s: region %v (%d px) -> crop %v", name, region.Bounds, region.Pixels, bound)
	result.Status, result.Bound = types.CropStatusCropped, bound
	return result
}

// writeLocatorDebug dumps the locator state as a PPM image
func writeLocatorDebug(loc *locator.Locator, accepted *locator.Region, path string) {
	f, err := os.Create(path)
	if err != nil {
		logging.LogWarning("Cannot create debug image %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := loc.WriteDebug(f, accepted); err != nil {
		logging.LogWarning("Cannot write debug image %s: %v", path, err)
	}
}
