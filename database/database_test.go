package database

import (
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/markfickett/dicehistogram/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDatabase(filepath.Join(t.TempDir(), "dice.db"))
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitDatabaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dice.db")
	for i := 0; i < 2; i++ {
		db, err := InitDatabase(path)
		if err != nil {
			t.Fatalf("InitDatabase() pass %d error = %v", i, err)
		}
		db.Close()
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	id, err := StartRun(db, "crop", "/data/d20")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if err := FinishRun(db, id, "done", "3 cropped"); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	run, err := GetRun(db, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Stage != "crop" || run.Status != "done" || run.Summary != "3 cropped" || run.FinishedAt == "" {
		t.Errorf("GetRun() = %+v", run)
	}
}

func TestCropRecords(t *testing.T) {
	db := openTestDB(t)
	exists, _, _, err := CheckCropExists(db, "capture/a.jpg")
	if err != nil || exists {
		t.Fatalf("CheckCropExists(missing) = %v, %v, want false, nil", exists, err)
	}

	records := []types.CropRecord{
		{Path: "capture/a.jpg", RunID: "r1", Status: types.CropStatusCropped, XMin: 1, YMin: 2, XMax: 661, YMax: 662, ModifiedAt: "2024-01-02T03:04:05Z"},
		{Path: "capture/b.jpg", RunID: "r1", Status: types.CropStatusNotFound, Message: "no region found"},
		{Path: "capture/c.jpg", RunID: "r1", Status: types.CropStatusCropped},
		// replaced by a later run
		{Path: "capture/c.jpg", RunID: "r2", Status: types.CropStatusFailed},
	}
	for _, rec := range records {
		if err := StoreCropRecord(db, rec); err != nil {
			t.Fatalf("StoreCropRecord(%s) error = %v", rec.Path, err)
		}
	}

	exists, status, modified, err := CheckCropExists(db, "capture/a.jpg")
	if err != nil || !exists || status != types.CropStatusCropped || modified != "2024-01-02T03:04:05Z" {
		t.Errorf("CheckCropExists(a) = %v, %v, %q, %v", exists, status, modified, err)
	}

	stats, err := CropStats(db, "r1")
	if err != nil {
		t.Fatalf("CropStats() error = %v", err)
	}
	want := map[types.CropStatus]int{types.CropStatusCropped: 1, types.CropStatusNotFound: 1}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("CropStats(r1) = %v, want %v", stats, want)
	}
}

func TestClusters(t *testing.T) {
	db := openTestDB(t)
	groups := [][]string{{"a.jpg", "c.jpg", "d.jpg"}, {"b.jpg"}}
	if err := StoreClusters(db, "r1", groups, []bool{false, true}); err != nil {
		t.Fatalf("StoreClusters() error = %v", err)
	}
	// storing again replaces rather than duplicates
	if err := StoreClusters(db, "r1", groups, []bool{false, true}); err != nil {
		t.Fatalf("StoreClusters() second error = %v", err)
	}
	got, err := LoadClusters(db, "r1")
	if err != nil {
		t.Fatalf("LoadClusters() error = %v", err)
	}
	if !reflect.DeepEqual(got, groups) {
		t.Errorf("LoadClusters() = %v, want %v", got, groups)
	}

	var review int
	if err := db.QueryRow("SELECT COUNT(*) FROM clusters WHERE needs_review = 1").Scan(&review); err != nil {
		t.Fatal(err)
	}
	if review != 1 {
		t.Errorf("needs_review rows = %d, want 1", review)
	}
}

func TestFeatureStore(t *testing.T) {
	store := FeatureStore{DB: openTestDB(t)}
	mod := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)

	if _, ok, err := store.LoadFeatures("a.jpg", "akaze", mod); ok || err != nil {
		t.Fatalf("LoadFeatures(empty) = %v, %v", ok, err)
	}
	if err := store.SaveFeatures("a.jpg", "akaze", mod, 3, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SaveFeatures() error = %v", err)
	}

	tests := []struct {
		name     string
		detector string
		mod      time.Time
		wantOK   bool
	}{
		{"same file", "akaze", mod, true},
		{"other detector", "orb", mod, false},
		{"file changed", "akaze", mod.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ok, err := store.LoadFeatures("a.jpg", tt.detector, tt.mod)
			if err != nil {
				t.Fatalf("LoadFeatures() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("LoadFeatures() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !reflect.DeepEqual(data, []byte{1, 2, 3}) {
				t.Errorf("LoadFeatures() = %v, want [1 2 3]", data)
			}
		})
	}
}
