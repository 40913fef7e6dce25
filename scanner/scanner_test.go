package scanner

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/markfickett/dicehistogram/cluster"
	"github.com/markfickett/dicehistogram/database"
	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/locator"
	"github.com/markfickett/dicehistogram/types"
	"gocv.io/x/gocv"
)

var gray = gocv.NewScalar(128, 128, 128, 0)

// writeScene writes a w×h BGR image filled with bg, with optional filled
// red squares on top
func writeScene(t *testing.T, path string, w, h int, bg gocv.Scalar, squares ...image.Rectangle) {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(bg, h, w, gocv.MatTypeCV8UC3)
	defer img.Close()
	for _, sq := range squares {
		gocv.Rectangle(&img, sq, color.RGBA{R: 255, A: 255}, -1)
	}
	if !gocv.IMWrite(path, img) {
		t.Fatalf("IMWrite(%s) failed", path)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.InitDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func cropFixture(t *testing.T) CropOptions {
	t.Helper()
	dir := t.TempDir()
	capture := filepath.Join(dir, "capture")
	if err := os.Mkdir(capture, 0o755); err != nil {
		t.Fatal(err)
	}
	writeScene(t, filepath.Join(capture, "reference.png"), 200, 200, gray)
	writeScene(t, filepath.Join(capture, "roll_001.png"), 200, 200, gray, image.Rect(70, 70, 130, 130))
	writeScene(t, filepath.Join(capture, "roll_002.png"), 200, 200, gray, image.Rect(20, 110, 80, 170))
	writeScene(t, filepath.Join(capture, "roll_003.png"), 200, 200, gray)

	return CropOptions{
		CaptureDir:    capture,
		CropDir:       filepath.Join(dir, "crop"),
		ReferenceName: "reference.png",
		MaskName:      "mask.png",
		ScanDistance:  40,
		DiffThreshold: 50,
		CropSize:      80,
		Downscale:     1,
		Locator:       locator.DefaultOptions(40),
		MaxWorkers:    2,
		MaxAborts:     3,
		Quiet:         true,
	}
}

func TestCropFolder(t *testing.T) {
	opts := cropFixture(t)
	db := openDB(t)

	report, err := CropFolder(context.Background(), db, opts)
	if err != nil {
		t.Fatalf("CropFolder() error = %v", err)
	}
	if report.Cropped != 2 || report.NotFound != 1 || report.Skipped != 0 || report.Processed != 3 {
		t.Fatalf("CropFolder() = %+v, want 2 cropped and 1 not found", report)
	}
	if !reflect.DeepEqual(report.FailedFiles, []string{"roll_003.png"}) {
		t.Errorf("FailedFiles = %v, want [roll_003.png]", report.FailedFiles)
	}

	for _, b := range report.Bounds {
		if b.Dx() != opts.CropSize || b.Dy() != opts.CropSize || !b.In(image.Rect(0, 0, 200, 200)) {
			t.Errorf("crop bound %v is not an in-bounds %d square", b, opts.CropSize)
		}
	}

	crop := gocv.IMRead(filepath.Join(opts.CropDir, "roll_001.png"), gocv.IMReadColor)
	defer crop.Close()
	if crop.Cols() != opts.CropSize || crop.Rows() != opts.CropSize {
		t.Errorf("crop size = %dx%d, want %d", crop.Cols(), crop.Rows(), opts.CropSize)
	}

	stats, err := database.CropStats(db, report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if stats[types.CropStatusCropped] != 2 || stats[types.CropStatusNotFound] != 1 {
		t.Errorf("ledger stats = %v", stats)
	}
	run, err := database.GetRun(db, report.RunID)
	if err != nil || run.Status != "done" {
		t.Errorf("GetRun() = %+v, %v, want done", run, err)
	}
}

func TestCropFolderIsIdempotent(t *testing.T) {
	opts := cropFixture(t)
	db := openDB(t)

	if _, err := CropFolder(context.Background(), db, opts); err != nil {
		t.Fatalf("first CropFolder() error = %v", err)
	}
	first, err := os.ReadFile(filepath.Join(opts.CropDir, "roll_002.png"))
	if err != nil {
		t.Fatal(err)
	}

	report, err := CropFolder(context.Background(), db, opts)
	if err != nil {
		t.Fatalf("second CropFolder() error = %v", err)
	}
	if report.Skipped != 2 || report.Cropped != 0 {
		t.Errorf("rerun = %+v, want 2 skipped and 0 cropped", report)
	}

	opts.ForceRewrite = true
	report, err = CropFolder(context.Background(), db, opts)
	if err != nil {
		t.Fatalf("forced CropFolder() error = %v", err)
	}
	if report.Skipped != 0 || report.Cropped != 2 {
		t.Errorf("forced rerun = %+v, want 2 cropped", report)
	}
	again, err := os.ReadFile(filepath.Join(opts.CropDir, "roll_002.png"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, again) {
		t.Error("forced rerun produced a different crop")
	}
}

func TestCropFolderWithoutDatabase(t *testing.T) {
	opts := cropFixture(t)
	opts.DebugMode = true
	report, err := CropFolder(context.Background(), nil, opts)
	if err != nil {
		t.Fatalf("CropFolder() error = %v", err)
	}
	if report.RunID != "" || report.Cropped != 2 {
		t.Errorf("CropFolder() = %+v", report)
	}
	if _, err := os.Stat(debugPath(opts.CropDir, "roll_001.png")); err != nil {
		t.Errorf("debug image missing: %v", err)
	}
}

func TestCropFolderTooManyAborts(t *testing.T) {
	opts := cropFixture(t)
	for _, name := range []string{"roll_001.png", "roll_002.png", "roll_003.png"} {
		writeScene(t, filepath.Join(opts.CaptureDir, name), 200, 200, gocv.NewScalar(0, 0, 255, 0))
	}
	opts.MaxAborts = 2
	opts.MaxWorkers = 1

	report, err := CropFolder(context.Background(), nil, opts)
	if !errors.Is(err, ErrTooManyAborts) {
		t.Fatalf("CropFolder() error = %v, want %v", err, ErrTooManyAborts)
	}
	if report.Aborted < 2 || report.Cropped != 0 {
		t.Errorf("CropFolder() = %+v, want at least 2 aborted", report)
	}
}

func TestCropFolderDimensionMismatch(t *testing.T) {
	opts := cropFixture(t)
	writeScene(t, filepath.Join(opts.CaptureDir, "roll_003.png"), 100, 100, gray)

	report, err := CropFolder(context.Background(), nil, opts)
	if err != nil {
		t.Fatalf("CropFolder() error = %v", err)
	}
	if report.Failed != 1 || report.Cropped != 2 {
		t.Errorf("CropFolder() = %+v, want 1 failed and 2 cropped", report)
	}
}

func TestCropFolderRejectsOversizedCrop(t *testing.T) {
	opts := cropFixture(t)
	opts.CropSize = 300
	if _, err := CropFolder(context.Background(), nil, opts); err == nil {
		t.Error("CropFolder() error = nil, want crop size error")
	}
}

func TestCropFolderNumber(t *testing.T) {
	tests := []struct {
		name    string
		workers int
	}{
		{"one worker", 1},
		{"parallel workers", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := cropFixture(t)
			writeScene(t, filepath.Join(opts.CaptureDir, "roll_004.png"), 200, 200, gray, image.Rect(120, 20, 180, 80))
			opts.Number = 1
			opts.MaxWorkers = tt.workers
			report, err := CropFolder(context.Background(), nil, opts)
			if err != nil {
				t.Fatalf("CropFolder() error = %v", err)
			}
			if report.Cropped != 1 || len(report.Bounds) != 1 {
				t.Errorf("CropFolder() = %+v, want exactly one crop", report)
			}
			entries, err := os.ReadDir(opts.CropDir)
			if err != nil {
				t.Fatal(err)
			}
			written := 0
			for _, e := range entries {
				if !e.IsDir() {
					written++
				}
			}
			if written != 1 {
				t.Errorf("%d crop files written, want 1", written)
			}
		})
	}
}

func TestCropQuota(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 5},
		{1, 1},
		{3, 3},
		{10, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.limit), func(t *testing.T) {
			q := newCropQuota(tt.limit)
			got := 0
			for i := 0; i < 5; i++ {
				if q.claim() {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("claims = %d, want %d", got, tt.want)
			}
		})
	}
}

// writePips writes a light crop with n dark round pips
func writePips(t *testing.T, path string, n int) {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(240, 240, 240, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	centers := []image.Point{{50, 50}, {150, 150}, {100, 100}, {50, 150}, {150, 50}, {100, 50}}
	for _, c := range centers[:n] {
		gocv.Circle(&img, c, 15, color.RGBA{A: 255}, -1)
	}
	if !gocv.IMWrite(path, img) {
		t.Fatalf("IMWrite(%s) failed", path)
	}
}

func groupFixture(t *testing.T) GroupOptions {
	t.Helper()
	dir := t.TempDir()
	crops := filepath.Join(dir, "crop")
	if err := os.Mkdir(crops, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, n := range map[string]int{"a.png": 2, "b.png": 3, "c.png": 2, "d.png": 3, "e.png": 3} {
		writePips(t, filepath.Join(crops, name), n)
	}
	if err := os.WriteFile(filepath.Join(crops, "f.png"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	return GroupOptions{
		CropDir:          crops,
		Thresholds:       types.Thresholds{Match: 32, Scale: 1e9, Feature: 1.2},
		CountPips:        true,
		Pips:             features.PipOptions{ThresholdAdjust: -10},
		SummaryImage:     filepath.Join(dir, "summary.jpg"),
		SummaryData:      filepath.Join(dir, "summary.json"),
		SummaryMaxMember: 35,
		MaxWorkers:       3,
		Quiet:            true,
	}
}

func TestGroupFolderCountingPips(t *testing.T) {
	opts := groupFixture(t)
	db := openDB(t)

	report, err := GroupFolder(context.Background(), db, nil, opts)
	if err != nil {
		t.Fatalf("GroupFolder() error = %v", err)
	}
	want := cluster.Grouping{{"b.png", "d.png", "e.png"}, {"a.png", "c.png"}}
	if !reflect.DeepEqual(report.Grouping, want) {
		t.Errorf("Grouping = %v, want %v", report.Grouping, want)
	}
	if report.Images != 5 {
		t.Errorf("Images = %d, want 5", report.Images)
	}
	if !reflect.DeepEqual(report.FailedFiles, []string{"f.png"}) {
		t.Errorf("FailedFiles = %v, want [f.png]", report.FailedFiles)
	}

	saved, err := cluster.LoadGrouping(opts.SummaryData)
	if err != nil {
		t.Fatalf("LoadGrouping() error = %v", err)
	}
	if !reflect.DeepEqual(saved, want) {
		t.Errorf("saved grouping = %v, want %v", saved, want)
	}
	if _, err := os.Stat(opts.SummaryImage); err != nil {
		t.Errorf("summary image missing: %v", err)
	}
	stored, err := database.LoadClusters(db, report.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cluster.Grouping(stored), want) {
		t.Errorf("stored clusters = %v, want %v", stored, want)
	}
}

func TestGroupFolderIsDeterministic(t *testing.T) {
	opts := groupFixture(t)
	opts.SummaryImage = ""
	var first cluster.Grouping
	for i := 0; i < 3; i++ {
		report, err := GroupFolder(context.Background(), nil, nil, opts)
		if err != nil {
			t.Fatalf("GroupFolder() error = %v", err)
		}
		if i == 0 {
			first = report.Grouping
		} else if !reflect.DeepEqual(report.Grouping, first) {
			t.Errorf("run %d grouping = %v, want %v", i, report.Grouping, first)
		}
	}
}

func TestGroupFolderNoClusters(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.png"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := GroupOptions{CropDir: dir, CountPips: true, Quiet: true, MaxWorkers: 1}
	if _, err := GroupFolder(context.Background(), nil, nil, opts); !errors.Is(err, ErrNoClusters) {
		t.Errorf("GroupFolder() error = %v, want %v", err, ErrNoClusters)
	}
}

func TestGroupFolderCancelled(t *testing.T) {
	opts := groupFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := GroupFolder(ctx, nil, nil, opts)
	if err != nil && !errors.Is(err, ErrNoClusters) {
		t.Fatalf("GroupFolder() error = %v", err)
	}
	if report == nil || !report.Cancelled {
		t.Errorf("GroupFolder() report = %+v, want cancelled", report)
	}
}
