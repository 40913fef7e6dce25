package stats

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/markfickett/dicehistogram/types"
)

// HistogramHeaders is the header row of a histogram CSV
var HistogramHeaders = []string{"X", "p(X)", "5%", "95%"}

// Combine convolves two independent dice: every pair of labels contributes
// the product of its probabilities (and of each interval bound) to the
// label sum
func Combine(a, b []types.HistogramRow) []types.HistogramRow {
	sums := make(map[int]*types.HistogramRow)
	for _, ra := range a {
		for _, rb := range b {
			label := ra.Label + rb.Label
			row, ok := sums[label]
			if !ok {
				row = &types.HistogramRow{Label: label}
				sums[label] = row
			}
			row.P += ra.P * rb.P
			row.Low += ra.Low * rb.Low
			row.High += ra.High * rb.High
		}
	}

	out := make([]types.HistogramRow, 0, len(sums))
	for _, row := range sums {
		out = append(out, *row)
	}
	slices.SortFunc(out, func(x, y types.HistogramRow) int { return x.Label - y.Label })
	return out
}

// WriteHistogram writes a header row then label,p,low,high with five decimals
func WriteHistogram(w io.Writer, headers []string, rows []types.HistogramRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Label),
			fmt.Sprintf("%.5f", r.P),
			fmt.Sprintf("%.5f", r.Low),
			fmt.Sprintf("%.5f", r.High),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveHistogram writes a histogram CSV file
func SaveHistogram(path string, headers []string, rows []types.HistogramRow) error {
	var buf bytes.Buffer
	if err := WriteHistogram(&buf, headers, rows); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

// ReadHistogram parses a histogram CSV, returning its headers and rows
func ReadHistogram(r io.Reader) ([]string, []types.HistogramRow, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, ErrNoLabels
	}

	rows := make([]types.HistogramRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 4 {
			return nil, nil, fmt.Errorf("row %d: want 4 columns, got %d", i+2, len(rec))
		}
		label, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: invalid label %q", i+2, rec[0])
		}
		var v [3]float64
		for j := range v {
			if v[j], err = strconv.ParseFloat(rec[j+1], 64); err != nil {
				return nil, nil, fmt.Errorf("row %d: invalid value %q", i+2, rec[j+1])
			}
		}
		rows = append(rows, types.HistogramRow{Label: label, P: v[0], Low: v[1], High: v[2]})
	}
	return records[0], rows, nil
}

// LoadHistogram reads a histogram CSV file
func LoadHistogram(path string) ([]string, []types.HistogramRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	headers, rows, err := ReadHistogram(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return headers, rows, nil
}

// SaveSubsamples writes the subsample table
func SaveSubsamples(path string, headers []string, rows [][]string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}
