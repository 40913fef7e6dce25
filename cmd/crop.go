package cmd

import (
	"fmt"
	"os"

	"github.com/markfickett/dicehistogram/config"
	"github.com/markfickett/dicehistogram/database"
	"github.com/markfickett/dicehistogram/scanner"
	"github.com/markfickett/dicehistogram/types"
	"github.com/markfickett/dicehistogram/utils"
	"github.com/spf13/cobra"
)

var cropCmd = &cobra.Command{
	Use:   "crop <data_dir>",
	Short: "Crop the die out of every captured photograph",
	Long: `Compare each photograph in <data_dir>/capture against the reference
image of the empty scene, find the die by its differing pixels and write a
square crop of it to <data_dir>/crop.

Crops that are already up to date are skipped unless --force is given.

Examples:
  # Crop everything with the defaults
  dicehistogram crop data/d20

  # Work at half resolution and only produce 50 crops
  dicehistogram crop data/d20 --downscale 2 -n 50

  # Write locator debug images to crop/debug
  dicehistogram crop data/d20 --debug`,
	Args: cobra.ExactArgs(1),
	RunE: runCrop,
}

func init() {
	rootCmd.AddCommand(cropCmd)

	d := config.New().Crop
	f := cropCmd.Flags()
	f.IntP("scan-distance", "d", d.ScanDistance, "Pixel spacing of the scan grid; about the die's edge length")
	f.Int("diff-threshold", d.DiffThreshold, "Summed channel difference above which a pixel differs from the reference")
	f.IntP("crop-size", "c", d.CropSize, "Edge length of the square crops")
	f.Int("downscale", d.Downscale, "Analyze photographs at 1/N resolution")
	f.StringP("reference", "r", d.Reference, "Reference image of the empty scene, in the capture directory")
	f.String("mask", d.Mask, "Optional mask image, red where the die may land")
	f.BoolP("force", "f", false, "Re-crop photographs that already have a crop")
	f.IntP("number", "n", 0, "Stop after this many crops (0 = all)")
	f.Int("workers", 0, "Number of parallel workers (0 = automatic)")
	f.String("capture-dir", d.CaptureDir, "Directory of photographs, relative to the data directory")
	f.String("crop-dir", d.CropDir, "Output directory, relative to the data directory")
	f.String("summary-image", d.SummaryImage, "Image of every crop's bounds drawn on the reference (empty to skip)")
	f.Int("max-aborts", d.MaxAborts, "Stop after this many frames with too much differing area (0 = never)")
}

func applyCropFlags(cmd *cobra.Command, cfg *config.Config) error {
	c := &cfg.Crop
	setInt(cmd, "scan-distance", &c.ScanDistance)
	setInt(cmd, "diff-threshold", &c.DiffThreshold)
	setInt(cmd, "crop-size", &c.CropSize)
	setInt(cmd, "downscale", &c.Downscale)
	setString(cmd, "reference", &c.Reference)
	setString(cmd, "mask", &c.Mask)
	setBool(cmd, "force", &c.Force)
	setInt(cmd, "number", &c.Number)
	setInt(cmd, "workers", &cfg.Workers)
	setString(cmd, "capture-dir", &c.CaptureDir)
	setString(cmd, "crop-dir", &c.CropDir)
	setString(cmd, "summary-image", &c.SummaryImage)
	setInt(cmd, "max-aborts", &c.MaxAborts)
	return nil
}

// cropOptions resolves the crop settings against the data directory
func cropOptions(cfg *config.Config, dataDir string) scanner.CropOptions {
	c := cfg.Crop
	return scanner.CropOptions{
		CaptureDir:    utils.ResolvePath(dataDir, c.CaptureDir),
		CropDir:       utils.ResolvePath(dataDir, c.CropDir),
		ReferenceName: c.Reference,
		MaskName:      c.Mask,
		ScanDistance:  c.ScanDistance,
		DiffThreshold: c.DiffThreshold,
		CropSize:      c.CropSize,
		Downscale:     c.Downscale,
		Locator:       c.LocatorOptions(),
		ForceRewrite:  c.Force,
		DebugMode:     cfg.Debug,
		Number:        c.Number,
		MaxWorkers:    cfg.Workers,
		MaxAborts:     c.MaxAborts,
		SummaryImage:  utils.ResolvePath(dataDir, c.SummaryImage),
	}
}

func runCrop(cmd *cobra.Command, args []string) error {
	dataDir := args[0]
	cfg, err := loadConfig(cmd, dataDir, applyCropFlags)
	if err != nil {
		return err
	}
	options := cropOptions(cfg, dataDir)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Cropping %s into %s\n", options.CaptureDir, options.CropDir)
	fmt.Printf("Force rewrite mode: %v\n", options.ForceRewrite)

	ctx, cancel := token.StageContext(cmd.Context())
	defer cancel()

	report, err := scanner.CropFolder(ctx, db, options)
	if report != nil {
		fmt.Println()
		scanner.PrintCropStats(os.Stdout, report)
		fmt.Printf("Database: %s\n", cfg.Database)

		// Print the ledger view of this run if available
		counts, statsErr := database.CropStats(db, report.RunID)
		if statsErr == nil && len(counts) > 0 {
			fmt.Printf("\nLedger for run %s:\n", report.RunID)
			for _, status := range []types.CropStatus{
				types.CropStatusCropped, types.CropStatusNotFound,
				types.CropStatusFailed, types.CropStatusAborted,
			} {
				fmt.Printf("- %s: %d\n", status, counts[status])
			}
		}
	}
	return err
}
