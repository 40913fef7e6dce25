package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/markfickett/dicehistogram/config"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/stats"
	"github.com/markfickett/dicehistogram/utils"
	"github.com/spf13/cobra"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <data_dir>",
	Short: "Print fairness statistics for the labeled rolls",
	Long: `Read labels.csv and print the chi-squared test against a fair die,
the spread of per-side probabilities and a histogram with bootstrapped 90%
confidence intervals. Also renders a heatmap of consecutive-roll
transitions.

Examples:
  dicehistogram summarize data/d20

  # Save the histogram and a reproducible resampling
  dicehistogram summarize data/d20 --csv d20.csv --seed 1`,
	Args: cobra.ExactArgs(1),
	RunE: runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)

	d := config.New().Summarize
	f := summarizeCmd.Flags()
	f.String("labels", d.Labels, "Labels file written by the label stage")
	f.String("sequence-graph", d.SequenceGraph, "Transition heatmap image (empty to skip)")
	f.String("csv", "", "Write the histogram as CSV")
	f.String("subsample-csv", "", "Write normalized histograms of growing random subsamples as CSV")
	f.Int("samples", d.Samples, "Bootstrap resamples")
	f.Int64("seed", 0, "Random seed (0 = from the clock)")
}

func applySummarizeFlags(cmd *cobra.Command, cfg *config.Config) error {
	s := &cfg.Summarize
	setString(cmd, "labels", &s.Labels)
	setString(cmd, "sequence-graph", &s.SequenceGraph)
	setString(cmd, "csv", &s.CSV)
	setString(cmd, "subsample-csv", &s.SubsampleCSV)
	setInt(cmd, "samples", &s.Samples)
	setInt64(cmd, "seed", &s.Seed)
	return nil
}

func runSummarize(cmd *cobra.Command, args []string) error {
	dataDir := args[0]
	cfg, err := loadConfig(cmd, dataDir, applySummarizeFlags)
	if err != nil {
		return err
	}
	s := cfg.Summarize

	seq, comments, err := stats.LoadLabels(utils.ResolvePath(dataDir, s.Labels))
	for _, c := range comments {
		fmt.Printf("# %s\n", c)
	}
	if err != nil {
		return err
	}

	if s.SequenceGraph != "" {
		path := utils.ResolvePath(dataDir, s.SequenceGraph)
		if err := stats.WriteImage(path, stats.SequenceHeatmap(seq)); err != nil {
			logging.LogWarning("Cannot write sequence graph: %v", err)
		} else {
			fmt.Printf("Wrote sequence graph to %s\n", path)
		}
	}

	fmt.Println(stats.ChiSquared(stats.LabelCounts(seq)))

	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logging.DebugLog("Resampling %d times with seed %d", s.Samples, seed)
	rng := rand.New(rand.NewSource(seed))

	rows := stats.Bootstrap(seq, s.Samples, rng)
	for _, line := range stats.Summarize(rows).Lines() {
		fmt.Println(line)
	}
	for _, line := range stats.FormatHistogram(rows) {
		fmt.Println(line)
	}

	if s.CSV != "" {
		path := utils.ResolvePath(dataDir, s.CSV)
		if err := stats.SaveHistogram(path, stats.HistogramHeaders, rows); err != nil {
			return fmt.Errorf("cannot write %s: %w", path, err)
		}
		fmt.Printf("Wrote %s\n", path)
	}
	if s.SubsampleCSV != "" {
		path := utils.ResolvePath(dataDir, s.SubsampleCSV)
		headers, table := stats.SubsampleHistogram(seq, rng)
		if err := stats.SaveSubsamples(path, headers, table); err != nil {
			return fmt.Errorf("cannot write %s: %w", path, err)
		}
		fmt.Printf("Wrote %s\n", path)
	}
	return nil
}
