package scanner

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/markfickett/dicehistogram/database"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/types"
)

// checkAndSkipIfUnchanged reports whether a photograph can be skipped because
// its crop exists and the photograph has not changed since it was cropped
func checkAndSkipIfUnchanged(db *sql.DB, srcPath, cropPath string, options CropOptions) (bool, error) {
	if options.ForceRewrite {
		return false, nil
	}
	if _, err := os.Stat(cropPath); err != nil {
		return false, nil
	}
	if db == nil {
		return true, nil
	}

	exists, status, storedModTime, err := database.CheckCropExists(db, srcPath)
	if err != nil {
		return false, err
	}
	// A crop with no ledger entry was made elsewhere; keep it.
	if !exists || status != types.CropStatusCropped || storedModTime == "" {
		return true, nil
	}

	fileInfo, err := os.Stat(srcPath)
	if err != nil {
		return false, fmt.Errorf("cannot stat file %s: %v", srcPath, err)
	}
	storedTime, err := time.Parse(time.RFC3339, storedModTime)
	if err != nil {
		return false, fmt.Errorf("cannot parse stored time for %s: %v", srcPath, err)
	}
	if fileInfo.ModTime().Truncate(time.Second).After(storedTime) {
		logging.DebugLog("Re-cropping changed image: %s", srcPath)
		return false, nil
	}
	if options.DebugMode {
		logging.DebugLog("Skipping unchanged image: %s", srcPath)
	}
	return true, nil
}

// recordCrop stores a crop result in the ledger. Skipped results keep the
// entry of the run that made the crop.
func recordCrop(db *sql.DB, runID, srcPath string, r CropResult) {
	if db == nil || r.Status == types.CropStatusSkipped {
		return
	}
	rec := types.CropRecord{
		Path:   srcPath,
		RunID:  runID,
		Status: r.Status,
		XMin:   r.Bound.Min.X,
		YMin:   r.Bound.Min.Y,
		XMax:   r.Bound.Max.X,
		YMax:   r.Bound.Max.Y,
	}
	if !r.Modified.IsZero() {
		rec.ModifiedAt = r.Modified.UTC().Format(time.RFC3339)
	}
	if r.Error != nil {
		rec.Message = r.Error.Error()
	}
	if err := database.StoreCropRecord(db, rec); err != nil {
		logging.LogError("Ledger write for %s failed: %v", srcPath, err)
	}
}

// finishRun closes the ledger entry of a run
func finishRun(db *sql.DB, runID string, cancelled bool, err error, summary string) {
	if db == nil || runID == "" {
		return
	}
	status := "done"
	switch {
	case err != nil:
		status = "failed"
		summary = err.Error()
	case cancelled:
		status = "interrupted"
	}
	if ferr := database.FinishRun(db, runID, status, summary); ferr != nil {
		logging.LogError("%v", ferr)
	}
}
