package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/markfickett/dicehistogram/cluster"
	"github.com/markfickett/dicehistogram/database"
	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/imageprocessor"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/signalhandler"
	"golang.org/x/sync/errgroup"
)

// GroupFolder clusters the crops in the crop directory by face. Features are
// extracted in parallel and assigned in filename order. An interrupt ends
// the running phase and the partial clustering is still saved.
func GroupFolder(ctx context.Context, db *sql.DB, token *signalhandler.Token, options GroupOptions) (*GroupReport, error) {
	startTime := time.Now()
	registry := imageprocessor.NewImageLoaderRegistry()

	names, err := listCrops(registry, options.CropDir)
	if err != nil {
		return nil, err
	}

	var runID string
	if db != nil {
		if runID, err = database.StartRun(db, "group", options.CropDir); err != nil {
			return nil, err
		}
	}
	report := &GroupReport{RunID: runID}

	var cache features.FeatureCache
	if db != nil && !options.NoCache {
		cache = database.FeatureStore{DB: db}
	}
	matcher := features.NewMatcher()
	defer matcher.Close()
	factory := newExtractorFactory(options, matcher, cache)

	engine := cluster.New(options.Thresholds)
	defer engine.Close()

	assignCtx, endAssign := stageContext(ctx, token)
	tracker := NewProgressTracker(len(names), "Grouping", options.Quiet)
	err = assignAll(assignCtx, engine, token, factory, names, tracker, options)
	tracker.Stop()
	report.Cancelled = assignCtx.Err() != nil
	endAssign()
	if err != nil {
		finishRun(db, runID, report.Cancelled, err, "")
		return nil, err
	}
	report.FailedFiles = tracker.Failed()

	combineCtx, endCombine := stageContext(ctx, token)
	report.Combine, err = engine.Combine(combineCtx)
	endCombine()
	if err != nil {
		finishRun(db, runID, report.Cancelled, err, "")
		return nil, err
	}
	report.Cancelled = report.Cancelled || report.Combine.Cancelled

	groups := engine.Groups()
	report.Images = engine.ImageCount()
	report.Grouping = cluster.BuildGrouping(groups)
	report.NeedsReview = make([]bool, len(groups))
	for i, g := range groups {
		report.NeedsReview[i] = g.NeedsReview
	}
	report.Elapsed = time.Since(startTime)

	if len(groups) == 0 {
		finishRun(db, runID, report.Cancelled, ErrNoClusters, "")
		return report, ErrNoClusters
	}

	if err := saveGroupOutputs(db, runID, groups, report, options); err != nil {
		finishRun(db, runID, report.Cancelled, err, "")
		return report, err
	}
	finishRun(db, runID, report.Cancelled, nil,
		fmt.Sprintf("%d images in %d clusters, %d failed", report.Images, len(groups), len(report.FailedFiles)))
	return report, nil
}

// newExtractorFactory returns the constructor for the configured strategy
func newExtractorFactory(options GroupOptions, matcher *features.Matcher, cache features.FeatureCache) features.ExtractorFactory {
	if options.CountPips {
		return func() (features.Extractor, error) {
			return features.NewPipExtractor(options.Pips), nil
		}
	}
	return func() (features.Extractor, error) {
		return features.NewFeatureExtractor(options.Detector, matcher, cache)
	}
}

// stageContext scopes interrupts to one phase when a token is available
func stageContext(ctx context.Context, token *signalhandler.Token) (context.Context, context.CancelFunc) {
	if token == nil {
		return context.WithCancel(ctx)
	}
	return token.StageContext(ctx)
}

// assignAll extracts every crop in parallel and feeds the results to the
// engine in order. Extraction failures are recorded, not returned.
func assignAll(ctx context.Context, engine *cluster.Engine, token *signalhandler.Token,
	factory features.ExtractorFactory, names []string, tracker *ProgressTracker, options GroupOptions) error {

	numWorkers := signalhandler.WorkerCount(options.MaxWorkers)
	extractors := make(chan features.Extractor, numWorkers)
	for i := 0; i < numWorkers; i++ {
		ex, err := factory()
		if err != nil {
			close(extractors)
			for ex := range extractors {
				ex.Close()
			}
			return err
		}
		extractors <- ex
	}
	defer func() {
		close(extractors)
		for ex := range extractors {
			ex.Close()
		}
	}()

	extractCtx, stopExtract := context.WithCancel(ctx)
	defer stopExtract()

	// One buffered slot per crop keeps assignment in filename order.
	slots := make([]chan extractResult, len(names))
	for i := range slots {
		slots[i] = make(chan extractResult, 1)
	}

	g, gctx := errgroup.WithContext(extractCtx)
	g.SetLimit(numWorkers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, name := range names {
			i, name := i, name
			if gctx.Err() != nil {
				return
			}
			g.Go(func() error {
				ex := <-extractors
				defer func() { extractors <- ex }()
				slots[i] <- extractSafely(ex, filepath.Join(options.CropDir, name), name)
				return nil
			})
		}
	}()

	consumed := 0
	for i := range names {
		var r extractResult
		select {
		case <-ctx.Done():
		case r = <-slots[i]:
		}
		if ctx.Err() != nil && r.name == "" {
			logging.LogInfo("Interrupted after assigning %d of %d images", consumed, len(names))
			break
		}
		consumed = i + 1

		if r.err != nil {
			tracker.Record(r.name, "", r.err)
		} else if ci, err := engine.Assign(r.item); err != nil {
			r.item.Close()
			tracker.Record(r.name, "", err)
		} else {
			logging.DebugLog("%s -> cluster %d", r.name, ci)
			tracker.Record(r.name, "", nil)
		}

		if token != nil && token.SnapshotRequested() && options.SnapshotImage != "" {
			writeSnapshot(engine, options)
		}
	}

	stopExtract()
	<-launched
	// Every started extraction has sent by the time Wait returns.
	g.Wait()
	for _, slot := range slots[consumed:] {
		select {
		case r := <-slot:
			if r.item != nil {
				r.item.Close()
			}
		default:
		}
	}
	return nil
}

// extractSafely converts a panic inside OpenCV into a per-image error
func extractSafely(ex features.Extractor, path, name string) (r extractResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.LogError("Recovered from panic while extracting %s: %v", name, rec)
			r = extractResult{name: name, err: fmt.Errorf("internal error: %v", rec)}
		}
	}()
	item, err := ex.Extract(path)
	if err != nil {
		if errors.Is(err, features.ErrNoFeatures) {
			logging.LogWarning("%s: %v", name, err)
		}
		return extractResult{name: name, err: err}
	}
	return extractResult{name: name, item: item}
}

// writeSnapshot renders the current clusters without stopping the run
func writeSnapshot(engine *cluster.Engine, options GroupOptions) {
	if err := cluster.WriteSummary(engine.Groups(), options.SummaryMaxMember, options.SnapshotImage); err != nil {
		logging.LogWarning("Cannot write snapshot: %v", err)
		return
	}
	logging.LogInfo("Wrote snapshot of %d clusters to %s", engine.Len(), options.SnapshotImage)
}

// saveGroupOutputs writes the grouping file, the summary image and the
// cluster rows
func saveGroupOutputs(db *sql.DB, runID string, groups []cluster.Group, report *GroupReport, options GroupOptions) error {
	if options.SummaryData != "" {
		if err := cluster.SaveGrouping(options.SummaryData, report.Grouping); err != nil {
			return fmt.Errorf("cannot save %s: %w", options.SummaryData, err)
		}
		logging.LogInfo("Wrote %s", options.SummaryData)
	}
	if options.SummaryImage != "" {
		if err := cluster.WriteSummary(groups, options.SummaryMaxMember, options.SummaryImage); err != nil {
			logging.LogWarning("Cannot write summary image: %v", err)
		}
	}
	if db != nil {
		if err := database.StoreClusters(db, runID, report.Grouping, report.NeedsReview); err != nil {
			logging.LogError("Cannot store clusters: %v", err)
		}
	}
	return nil
}
