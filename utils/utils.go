package utils

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Well-known names inside a data directory
const (
	CaptureDir       = "capture"
	CropDir          = "crop"
	SummaryData      = "summary.json"
	SummaryImage     = "summary.jpg"
	SnapshotImage    = "summary-snapshot.jpg"
	CropSummaryImage = "crop_summary.jpg"
	LabelsFile       = "labels.csv"
	DatabaseFile     = "dicehistogram.db"
	LogFile          = "dicehistogram.log"
)

// ListImages returns the names of the files in dir accepted by isImage, in
// sorted order, which is taken to be capture order. Names in exclude are
// skipped, compared case-insensitively.
func ListImages(dir string, isImage func(string) bool, exclude ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		if !isImage(name) {
			continue
		}
		if slices.ContainsFunc(exclude, func(e string) bool { return strings.EqualFold(e, name) }) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// ParseFloatOrInf parses a float, accepting "inf" and "infinity" in any case
func ParseFloatOrInf(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimPrefix(trimmed, "+")) {
	case "inf", "infinity":
		return math.Inf(1), nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// FormatFloatOrInf is the inverse of ParseFloatOrInf
func FormatFloatOrInf(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ResolvePath returns p when it is absolute or empty, otherwise p inside dir
func ResolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// GetDefaultDatabasePath returns the default path for the database file of a data directory
func GetDefaultDatabasePath(dataDir string) string {
	return filepath.Join(dataDir, DatabaseFile)
}

// DirExists reports whether path is an existing directory
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FileExists reports whether path is an existing regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
