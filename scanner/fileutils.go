package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/markfickett/dicehistogram/imageprocessor"
	"github.com/markfickett/dicehistogram/utils"
)

// listCaptures returns the photographs to crop, in capture order
func listCaptures(registry *imageprocessor.ImageLoaderRegistry, opts CropOptions) ([]string, error) {
	return utils.ListImages(opts.CaptureDir, registry.CanLoadFile, opts.ReferenceName, opts.MaskName)
}

// listCrops returns the crops to group, in capture order
func listCrops(registry *imageprocessor.ImageLoaderRegistry, dir string) ([]string, error) {
	return utils.ListImages(dir, registry.CanLoadFile)
}

// ensureDir creates dir if it does not exist
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return nil
}

// debugPath is where the locator state of a photograph is dumped
func debugPath(cropDir, name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(cropDir, "debug", base+".ppm")
}

// removePartials deletes leftovers of interrupted atomic writes
func removePartials(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, imageprocessor.PartialPrefix+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}
