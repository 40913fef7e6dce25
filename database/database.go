package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/types"

	_ "github.com/mattn/go-sqlite3"
)

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// Workers record results through the controller; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	// Create tables if they don't exist
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		data_dir TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT,
		summary TEXT
	);
	CREATE TABLE IF NOT EXISTS crops (
		path TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		x_min INTEGER,
		y_min INTEGER,
		x_max INTEGER,
		y_max INTEGER,
		message TEXT,
		modified_at TEXT,
		updated_at TEXT
	);
	CREATE TABLE IF NOT EXISTS features (
		path TEXT NOT NULL,
		detector TEXT NOT NULL,
		modified_at TEXT NOT NULL,
		keypoint_count INTEGER,
		payload BLOB,
		PRIMARY KEY(path, detector)
	);
	CREATE TABLE IF NOT EXISTS clusters (
		run_id TEXT NOT NULL,
		cluster_index INTEGER NOT NULL,
		position INTEGER NOT NULL,
		path TEXT NOT NULL,
		is_representative INTEGER NOT NULL,
		needs_review INTEGER NOT NULL,
		PRIMARY KEY(run_id, cluster_index, position)
	);
	CREATE INDEX IF NOT EXISTS idx_crops_run ON crops(run_id);
	CREATE INDEX IF NOT EXISTS idx_crops_status ON crops(status);`

	_, err = db.Exec(createTableSQL)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// StartRun records the start of a stage and returns its run id
func StartRun(db *sql.DB, stage, dataDir string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (id, stage, data_dir, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		id, stage, dataDir, time.Now().Format(time.RFC3339), "running")
	if err != nil {
		return "", fmt.Errorf("cannot record %s run: %v", stage, err)
	}
	logging.DebugLog("Started %s run %s for %s", stage, id, dataDir)
	return id, nil
}

// FinishRun marks a run as finished with a status and a one-line summary
func FinishRun(db *sql.DB, runID, status, summary string) error {
	_, err := db.Exec(`UPDATE runs SET finished_at = ?, status = ?, summary = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339), status, summary, runID)
	if err != nil {
		return fmt.Errorf("cannot finish run %s: %v", runID, err)
	}
	return nil
}

// RunInfo is a row of the runs table
type RunInfo struct {
	ID         string
	Stage      string
	DataDir    string
	StartedAt  string
	FinishedAt string
	Status     string
	Summary    string
}

// GetRun returns one run by id
func GetRun(db *sql.DB, runID string) (*RunInfo, error) {
	var r RunInfo
	var finished, status, summary sql.NullString
	err := db.QueryRow(`SELECT id, stage, data_dir, started_at, finished_at, status, summary FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Stage, &r.DataDir, &r.StartedAt, &finished, &status, &summary)
	if err != nil {
		return nil, fmt.Errorf("cannot get run %s: %v", runID, err)
	}
	r.FinishedAt, r.Status, r.Summary = finished.String, status.String, summary.String
	return &r, nil
}

// CheckCropExists returns the recorded status and source modification time
// of a photograph, if it has a ledger entry
func CheckCropExists(db *sql.DB, path string) (bool, types.CropStatus, string, error) {
	var status, modifiedAt string
	err := db.QueryRow("SELECT status, modified_at FROM crops WHERE path = ?", path).Scan(&status, &modifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", "", nil
	}
	if err != nil {
		return false, "", "", fmt.Errorf("database error for %s: %v", path, err)
	}
	return true, types.CropStatus(status), modifiedAt, nil
}

// StoreCropRecord inserts or replaces the ledger entry of a photograph
func StoreCropRecord(db *sql.DB, rec types.CropRecord) error {
	stmt, err := db.Prepare(`
		INSERT OR REPLACE INTO crops (
			path, run_id, status, x_min, y_min, x_max, y_max, message, modified_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("cannot prepare statement for %s: %v", rec.Path, err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		rec.Path,
		rec.RunID,
		string(rec.Status),
		rec.XMin,
		rec.YMin,
		rec.XMax,
		rec.YMax,
		rec.Message,
		rec.ModifiedAt,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("cannot insert crop record for %s: %v", rec.Path, err)
	}
	return nil
}

// CropStats counts a run's ledger entries by status
func CropStats(db *sql.DB, runID string) (map[types.CropStatus]int, error) {
	rows, err := db.Query("SELECT status, COUNT(*) FROM crops WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get crop stats: %v", err)
	}
	defer rows.Close()

	stats := make(map[types.CropStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[types.CropStatus(status)] = n
	}
	return stats, rows.Err()
}

// StoreClusters replaces the cluster rows of a run. groups lists filenames,
// representative first; needsReview is parallel to groups.
func StoreClusters(db *sql.DB, runID string, groups [][]string, needsReview []bool) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM clusters WHERE run_id = ?", runID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO clusters (run_id, cluster_index, position, path, is_representative, needs_review)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cannot prepare cluster insert: %v", err)
	}
	defer stmt.Close()

	for i, names := range groups {
		review := i < len(needsReview) && needsReview[i]
		for pos, name := range names {
			if _, err := stmt.Exec(runID, i, pos, name, pos == 0, review); err != nil {
				return fmt.Errorf("cannot store cluster %d: %v", i, err)
			}
		}
	}
	return tx.Commit()
}

// LoadClusters returns a run's groups in order
func LoadClusters(db *sql.DB, runID string) ([][]string, error) {
	rows, err := db.Query(`SELECT cluster_index, path FROM clusters WHERE run_id = ? ORDER BY cluster_index, position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups [][]string
	for rows.Next() {
		var idx int
		var path string
		if err := rows.Scan(&idx, &path); err != nil {
			return nil, err
		}
		for len(groups) <= idx {
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], path)
	}
	return groups, rows.Err()
}

// FeatureStore caches encoded feature sets in the features table
type FeatureStore struct {
	DB *sql.DB
}

// LoadFeatures returns the cached payload when it was computed from a file
// with the same modification time
func (s FeatureStore) LoadFeatures(path, detector string, modified time.Time) ([]byte, bool, error) {
	var payload []byte
	var storedModTime string
	err := s.DB.QueryRow("SELECT modified_at, payload FROM features WHERE path = ? AND detector = ?", path, detector).
		Scan(&storedModTime, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("database error for %s: %v", path, err)
	}
	if storedModTime != modified.UTC().Format(time.RFC3339Nano) {
		logging.DebugLog("Cached %s features for %s are stale", detector, path)
		return nil, false, nil
	}
	return payload, true, nil
}

// SaveFeatures stores an encoded feature set
func (s FeatureStore) SaveFeatures(path, detector string, modified time.Time, keypoints int, payload []byte) error {
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO features (path, detector, modified_at, keypoint_count, payload)
		VALUES (?, ?, ?, ?, ?)`, path, detector, modified.UTC().Format(time.RFC3339Nano), keypoints, payload)
	if err != nil {
		return fmt.Errorf("cannot store features for %s: %v", path, err)
	}
	return nil
}
