package stats

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"strings"

	"github.com/markfickett/dicehistogram/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// BootstrapSamples is the default number of resamples
	BootstrapSamples = 1000
	PercentileLow    = 0.05
	PercentileHigh   = 0.95
	// HistogramBaseLen is the bar length of a fair probability
	HistogramBaseLen = 50
)

// LabelCounts counts how often each label occurs
func LabelCounts(seq []int) map[int]int {
	counts := make(map[int]int)
	for _, l := range seq {
		counts[l]++
	}
	return counts
}

// sortedLabels returns the keys of counts in ascending order
func sortedLabels(counts map[int]int) []int {
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return labels
}

// ChiSquaredResult is a goodness-of-fit test against a fair die
type ChiSquaredResult struct {
	N         int
	Statistic float64
	P         float64
}

// ChiSquared tests the observed counts against equal expected counts. A
// p-value near 1 is consistent with a fair die.
func ChiSquared(counts map[int]int) ChiSquaredResult {
	res := ChiSquaredResult{P: 1}
	if len(counts) == 0 {
		return res
	}
	observed := make([]float64, 0, len(counts))
	for _, l := range sortedLabels(counts) {
		observed = append(observed, float64(counts[l]))
		res.N += counts[l]
	}
	if len(observed) < 2 {
		return res
	}
	expected := make([]float64, len(observed))
	for i := range expected {
		expected[i] = float64(res.N) / float64(len(observed))
	}
	res.Statistic = stat.ChiSquare(observed, expected)
	res.P = distuv.ChiSquared{K: float64(len(observed) - 1)}.Survival(res.Statistic)
	return res
}

// String formats the result the way the summary prints it
func (c ChiSquaredResult) String() string {
	return fmt.Sprintf("N=%d p=%f (%d%% chance the data is from a random source)", c.N, c.P, int(100*c.P))
}

// Bootstrap estimates each label's probability with a confidence interval
// from samples resamples-with-replacement of seq
func Bootstrap(seq []int, samples int, rng *rand.Rand) []types.HistogramRow {
	n := len(seq)
	if n == 0 {
		return nil
	}
	counts := LabelCounts(seq)
	labels := sortedLabels(counts)
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	resampled := make([][]float64, len(labels))
	for i := range resampled {
		resampled[i] = make([]float64, samples)
	}
	for s := 0; s < samples; s++ {
		for j := 0; j < n; j++ {
			resampled[index[seq[rng.Intn(n)]]][s]++
		}
	}

	rows := make([]types.HistogramRow, len(labels))
	for i, l := range labels {
		sample := resampled[i]
		slices.Sort(sample)
		row := types.HistogramRow{Label: l, P: float64(counts[l]) / float64(n)}
		if samples > 0 {
			row.Low = Percentile(PercentileLow, sample) / float64(n)
			row.High = Percentile(PercentileHigh, sample) / float64(n)
		}
		rows[i] = row
	}
	return rows
}

// Percentile interpolates linearly between the closest ranks of an ascending
// sample (Hyndman-Fan type 7, numpy's default). gonum's stat.LinInterp is
// type 4 and gives different bounds on small samples.
func Percentile(p float64, sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// SummaryStats describes the spread of per-side probabilities
type SummaryStats struct {
	StdDev   float64
	Min      float64
	Max      float64
	Fair     float64
	Expected float64
}

// Summarize computes the spread of the rows' probabilities and the expected value
func Summarize(rows []types.HistogramRow) SummaryStats {
	if len(rows) == 0 {
		return SummaryStats{}
	}
	ps := make([]float64, len(rows))
	var s SummaryStats
	for i, r := range rows {
		ps[i] = r.P
		s.Expected += float64(r.Label) * r.P
	}
	_, s.StdDev = stat.PopMeanStdDev(ps, nil)
	s.Min, s.Max = floats.Min(ps), floats.Max(ps)
	s.Fair = 1 / float64(len(rows))
	return s
}

// Lines formats the summary the way it is printed
func (s SummaryStats) Lines() []string {
	return []string{
		fmt.Sprintf("per-side probabilities: stddev=%.3f min=%.3f max=%.3f fair=%.3f", s.StdDev, s.Min, s.Max, s.Fair),
		fmt.Sprintf("expected=%.2f", s.Expected),
	}
}

// FormatHistogram draws one bar per row. A fair probability is
// HistogramBaseLen wide and marked *; < and > mark the interval and x the
// estimate.
func FormatHistogram(rows []types.HistogramRow) []string {
	if len(rows) == 0 {
		return nil
	}
	fair := 1 / float64(len(rows))
	toIndex := func(p float64) int {
		return max(0, int(p/fair*HistogramBaseLen))
	}

	lines := make([]string, len(rows))
	for i, r := range rows {
		bar := []byte(strings.Repeat("=", toIndex(r.High)))
		if len(bar) > HistogramBaseLen {
			bar[HistogramBaseLen] = '*'
		}
		bar = append(bar, '>')
		set := func(idx int, c byte) {
			for len(bar) <= idx {
				bar = append(bar, ' ')
			}
			bar[idx] = c
		}
		set(toIndex(r.Low), '<')
		set(toIndex(r.P), 'x')
		lines[i] = fmt.Sprintf("%2d %.3f %s", r.Label, r.P, bar)
	}
	return lines
}

// NormalizedHistogram divides each count by the mean count
func NormalizedHistogram(counts map[int]int) map[int]float64 {
	if len(counts) == 0 {
		return nil
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	mean := float64(total) / float64(len(counts))
	out := make(map[int]float64, len(counts))
	for l, c := range counts {
		out[l] = float64(c) / mean
	}
	return out
}

// SubsampleHistogram draws random subsamples of doubling size (16, 32, ...
// then the whole sequence) and normalizes each. It returns the header row
// and one row per label.
func SubsampleHistogram(seq []int, rng *rand.Rand) ([]string, [][]string) {
	all := sortedLabels(LabelCounts(seq))
	headers := []string{"N"}
	columns := make(map[int][]string, len(all))

	for maxSize := 16; ; maxSize *= 2 {
		size := min(maxSize, len(seq))
		headers = append(headers, strconv.Itoa(size))

		perm := rng.Perm(len(seq))[:size]
		sample := make([]int, size)
		for i, j := range perm {
			sample[i] = seq[j]
		}
		normalized := NormalizedHistogram(LabelCounts(sample))
		for _, l := range all {
			columns[l] = append(columns[l], strconv.FormatFloat(normalized[l], 'f', -1, 64))
		}
		if size != maxSize {
			break
		}
	}

	rows := make([][]string, 0, len(all))
	for _, l := range all {
		rows = append(rows, append([]string{strconv.Itoa(l)}, columns[l]...))
	}
	return headers, rows
}
