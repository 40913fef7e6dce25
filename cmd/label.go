package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/markfickett/dicehistogram/cluster"
	"github.com/markfickett/dicehistogram/config"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/stats"
	"github.com/markfickett/dicehistogram/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <data_dir> [label]...",
	Short: "Assign a face value to each grouping",
	Long: `Give each grouping in summary.json its face value, in the order the
groupings are listed, and write labels.csv with one label per roll in
capture order.

Examples:
  # A d6 grouped into six clusters
  dicehistogram label data/d6 3 1 6 2 5 4

  # Label the first groupings and give every remaining one the label 20
  dicehistogram label data/d20 7 13 --repeat 20

  # Every grouping is the same face
  dicehistogram label data/d2 --repeat 1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLabel,
}

func init() {
	rootCmd.AddCommand(labelCmd)

	d := config.New().Label
	f := labelCmd.Flags()
	f.Int("repeat", 0, "Label for every grouping after the given labels")
	f.String("summary-data", d.SummaryData, "Grouping file written by the group stage")
	f.String("labels", d.Labels, "Labels output file")
}

func applyLabelFlags(cmd *cobra.Command, cfg *config.Config) error {
	setString(cmd, "summary-data", &cfg.Label.SummaryData)
	setString(cmd, "labels", &cfg.Label.Labels)
	return nil
}

func runLabel(cmd *cobra.Command, args []string) error {
	dataDir := args[0]
	cfg, err := loadConfig(cmd, dataDir, applyLabelFlags)
	if err != nil {
		return err
	}

	input := make([]int, 0, len(args)-1)
	for _, arg := range args[1:] {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid label %q", arg)
		}
		input = append(input, v)
	}
	var repeat *int
	if cmd.Flags().Changed("repeat") {
		v := mustGetInt(cmd, "repeat")
		repeat = &v
	}

	summaryPath := utils.ResolvePath(dataDir, cfg.Label.SummaryData)
	grouping, err := cluster.LoadGrouping(summaryPath)
	if err != nil {
		return err
	}

	labels, err := stats.ExpandLabels(input, len(grouping), repeat)
	if err != nil {
		return err
	}
	rolls, missing, err := stats.AssignLabels(grouping, labels)
	var mismatch *stats.MismatchError
	if errors.As(err, &mismatch) {
		mismatch.Describe(os.Stderr)
	}
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: labels missing from input: %v\n", missing)
		logging.LogWarning("Labels missing from input: %v", missing)
	}

	labelsPath := utils.ResolvePath(dataDir, cfg.Label.Labels)
	if err := stats.WriteLabels(labelsPath, filepath.Base(summaryPath), labels, rolls); err != nil {
		return fmt.Errorf("cannot write %s: %w", labelsPath, err)
	}
	fmt.Printf("Wrote %d labels for %d groupings to %s\n", len(rolls), len(grouping), labelsPath)
	return nil
}
