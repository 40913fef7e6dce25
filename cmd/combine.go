package cmd

import (
	"fmt"

	"github.com/markfickett/dicehistogram/stats"
	"github.com/spf13/cobra"
)

var combineCmd = &cobra.Command{
	Use:   "combine <a.csv> <b.csv>",
	Short: "Combine two dice histograms into the histogram of their sum",
	Long: `Read two histogram CSV files written by summarize --csv and write the
histogram of rolling both dice and adding the results.

Example:
  dicehistogram combine d6a.csv d6b.csv --output 2d6.csv`,
	Args: cobra.ExactArgs(2),
	RunE: runCombine,
}

func init() {
	rootCmd.AddCommand(combineCmd)
	combineCmd.Flags().StringP("output", "o", "combined.csv", "Combined histogram output file")
}

func runCombine(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd, "", nil); err != nil {
		return err
	}
	output := mustGetString(cmd, "output")

	_, a, err := stats.LoadHistogram(args[0])
	if err != nil {
		return err
	}
	_, b, err := stats.LoadHistogram(args[1])
	if err != nil {
		return err
	}

	rows := stats.Combine(a, b)
	if err := stats.SaveHistogram(output, stats.HistogramHeaders, rows); err != nil {
		return fmt.Errorf("cannot write %s: %w", output, err)
	}
	for _, line := range stats.FormatHistogram(rows) {
		fmt.Println(line)
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}
