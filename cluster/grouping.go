package cluster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Grouping is the on-disk form of a clustering: one list of filenames per
// group, representative first
type Grouping [][]string

// BuildGrouping converts live groups to their filenames
func BuildGrouping(groups []Group) Grouping {
	out := make(Grouping, len(groups))
	for i, g := range groups {
		out[i] = g.Names()
	}
	return out
}

// SaveGrouping writes the grouping as JSON. The file is replaced only once
// the new content is fully written.
func SaveGrouping(path string, grouping Grouping) error {
	data, err := json.Marshal(grouping)
	if err != nil {
		return fmt.Errorf("encoding grouping: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*.json")
	if err != nil {
		return fmt.Errorf("creating grouping file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing grouping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing grouping: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadGrouping reads a grouping written by SaveGrouping
func LoadGrouping(path string) (Grouping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var grouping Grouping
	if err := json.Unmarshal(data, &grouping); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return grouping, nil
}
