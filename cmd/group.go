package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/markfickett/dicehistogram/config"
	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/scanner"
	"github.com/markfickett/dicehistogram/types"
	"github.com/markfickett/dicehistogram/utils"
	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:   "group <data_dir>",
	Short: "Cluster the crops by which face is showing",
	Long: `Extract features from every crop in <data_dir>/crop and cluster the
crops so each cluster holds one face of the die. Writes summary.json (lists
of filenames, representative first) and a summary image.

Send SIGHUP while grouping to write summary-snapshot.jpg of the clusters so
far. An interrupt stops the current phase and saves what was found.

Examples:
  # Group with AKAZE features
  dicehistogram group data/d20

  # Group a d6 by counting pips
  dicehistogram group data/d6 --count-pips

  # Require fewer matches and limit scale distortion
  dicehistogram group data/d20 -m 20 --scale-threshold 3`,
	Args: cobra.ExactArgs(1),
	RunE: runGroup,
}

func init() {
	rootCmd.AddCommand(groupCmd)

	d := config.New().Group
	f := groupCmd.Flags()
	f.IntP("match-threshold", "m", d.MatchThreshold, "Minimum good feature matches for two crops to be the same face")
	f.String("scale-threshold", d.ScaleThreshold.String(), "Maximum homography scale distortion (inf = unlimited)")
	f.Float64("feature-threshold", float64(d.FeatureThreshold), "Maximum ratio between two crops' feature counts")
	f.String("detector", d.Detector, "Feature detector: "+strings.Join(config.Detectors, ", "))
	f.Bool("count-pips", false, "Group by counted pips instead of features")
	f.Bool("strict-pips", false, "Only count round, solid pips")
	f.Bool("white-pips", false, "Pips are lighter than the die face")
	f.Int("pip-threshold-adjust", d.PipThresholdAdjust, "Offset applied to the automatic pip threshold")
	f.String("crop-dir", d.CropDir, "Directory of crops, relative to the data directory")
	f.StringP("summary-image", "s", d.SummaryImage, "Summary image of the clusters (empty to skip)")
	f.StringP("summary-data", "d", d.SummaryData, "Grouping output file")
	f.Int("summary-max-members", d.SummaryMaxMembers, "Members shown per cluster in the summary image (<=0 = all)")
	f.Int("workers", 0, "Number of parallel extractors (0 = automatic)")
	f.Bool("no-cache", false, "Do not read or write cached features")
}

func applyGroupFlags(cmd *cobra.Command, cfg *config.Config) error {
	g := &cfg.Group
	setInt(cmd, "match-threshold", &g.MatchThreshold)
	if err := setFloatText(cmd, "scale-threshold", &g.ScaleThreshold); err != nil {
		return err
	}
	setFloat(cmd, "feature-threshold", &g.FeatureThreshold)
	setString(cmd, "detector", &g.Detector)
	setBool(cmd, "count-pips", &g.CountPips)
	setBool(cmd, "strict-pips", &g.StrictPips)
	setBool(cmd, "white-pips", &g.WhitePips)
	setInt(cmd, "pip-threshold-adjust", &g.PipThresholdAdjust)
	setString(cmd, "crop-dir", &g.CropDir)
	setString(cmd, "summary-image", &g.SummaryImage)
	setString(cmd, "summary-data", &g.SummaryData)
	setInt(cmd, "summary-max-members", &g.SummaryMaxMembers)
	setInt(cmd, "workers", &cfg.Workers)
	setBool(cmd, "no-cache", &g.NoCache)
	return nil
}

// groupOptions resolves the group settings against the data directory
func groupOptions(cfg *config.Config, dataDir string) scanner.GroupOptions {
	g := cfg.Group
	return scanner.GroupOptions{
		CropDir: utils.ResolvePath(dataDir, g.CropDir),
		Thresholds: types.Thresholds{
			Match:   g.MatchThreshold,
			Scale:   float64(g.ScaleThreshold),
			Feature: float64(g.FeatureThreshold),
		},
		Detector:  strings.ToLower(g.Detector),
		CountPips: g.CountPips,
		Pips: features.PipOptions{
			White:           g.WhitePips,
			Strict:          g.StrictPips,
			ThresholdAdjust: g.PipThresholdAdjust,
		},
		SummaryImage:     utils.ResolvePath(dataDir, g.SummaryImage),
		SnapshotImage:    utils.ResolvePath(dataDir, g.SnapshotImage),
		SummaryData:      utils.ResolvePath(dataDir, g.SummaryData),
		SummaryMaxMember: g.SummaryMaxMembers,
		MaxWorkers:       cfg.Workers,
		NoCache:          g.NoCache,
	}
}

func runGroup(cmd *cobra.Command, args []string) error {
	dataDir := args[0]
	cfg, err := loadConfig(cmd, dataDir, applyGroupFlags)
	if err != nil {
		return err
	}
	options := groupOptions(cfg, dataDir)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if options.CountPips {
		fmt.Printf("Grouping %s by pip count\n", options.CropDir)
	} else {
		fmt.Printf("Grouping %s with %s features (match >= %d, scale <= %s, feature ratio <= %s)\n",
			options.CropDir, options.Detector, options.Thresholds.Match,
			cfg.Group.ScaleThreshold, cfg.Group.FeatureThreshold)
	}

	report, err := scanner.GroupFolder(cmd.Context(), db, token, options)
	if report != nil {
		fmt.Println()
		scanner.PrintGroupStats(os.Stdout, report)
	}
	if errors.Is(err, scanner.ErrNoClusters) {
		return fmt.Errorf("%w in %s", err, options.CropDir)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", options.SummaryData)
	return nil
}
