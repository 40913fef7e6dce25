// Package stats turns labeled rolls into fairness statistics: counts,
// chi-squared, bootstrapped confidence intervals, a transition heatmap and
// the convolution of two dice.
package stats

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/markfickett/dicehistogram/types"
)

var (
	// ErrLabelCountMismatch means the labels do not pair up with the groupings.
	ErrLabelCountMismatch = errors.New("label count does not match grouping count")
	// ErrNoLabels means there was nothing to summarize.
	ErrNoLabels = errors.New("no labels")
	// ErrRepeatUnneeded means --repeat was given but every grouping already has a label.
	ErrRepeatUnneeded = errors.New("repeat label given but labels already cover all groupings")
)

// MismatchError carries what was found when labels and groupings disagree
type MismatchError struct {
	Labels    []int
	Groupings [][]string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("got %d labels but %d groupings; they must match", len(e.Labels), len(e.Groupings))
}

func (e *MismatchError) Unwrap() error { return ErrLabelCountMismatch }

// Describe lists the labels and the first four filenames of each grouping
func (e *MismatchError) Describe(w io.Writer) {
	fmt.Fprintln(w, e.Labels)
	for i, names := range e.Groupings {
		shown := names
		suffix := ""
		if len(names) > 4 {
			shown, suffix = names[:4], " ..."
		}
		fmt.Fprintf(w, "%d %v%s\n", i+1, shown, suffix)
	}
}

// ExpandLabels applies a repeat label to the groupings without one. repeat
// is ignored when nil.
func ExpandLabels(labels []int, groupings int, repeat *int) ([]int, error) {
	out := slices.Clone(labels)
	if repeat != nil {
		if len(out) >= groupings {
			return nil, fmt.Errorf("%w: %d labels for %d groupings", ErrRepeatUnneeded, len(out), groupings)
		}
		for len(out) < groupings {
			out = append(out, *repeat)
		}
	}
	return out, nil
}

// AssignLabels pairs each grouping with its label and returns the rolls in
// filename order, which is capture order. It also returns the labels in
// 1..max that no grouping received.
func AssignLabels(groupings [][]string, labels []int) ([]types.LabeledRoll, []int, error) {
	if len(labels) != len(groupings) {
		return nil, nil, &MismatchError{Labels: labels, Groupings: groupings}
	}

	seen := make(map[string]bool)
	var rolls []types.LabeledRoll
	present := make(map[int]bool)
	maxLabel := 0
	for i, names := range groupings {
		present[labels[i]] = true
		maxLabel = max(maxLabel, labels[i])
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			rolls = append(rolls, types.LabeledRoll{Filename: name, Label: labels[i]})
		}
	}
	slices.SortStableFunc(rolls, func(a, b types.LabeledRoll) int {
		return strings.Compare(a.Filename, b.Filename)
	})
	for i := range rolls {
		rolls[i].Position = i
	}

	var missing []int
	for l := 1; l <= maxLabel; l++ {
		if !present[l] {
			missing = append(missing, l)
		}
	}
	return rolls, missing, nil
}

// LabelSequence extracts the labels of rolls in order
func LabelSequence(rolls []types.LabeledRoll) []int {
	seq := make([]int, len(rolls))
	for i, r := range rolls {
		seq[i] = r.Label
	}
	return seq
}

// WriteLabels writes labels.csv: a comment recording the input labels, then
// one label per line
func WriteLabels(path, summaryName string, labels []int, rolls []types.LabeledRoll) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# labels for %s were: %s\n", summaryName, joinInts(labels, " "))
	for _, r := range rolls {
		b.WriteString(strconv.Itoa(r.Label))
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}

// ReadLabels parses one integer label per line. Lines starting with # are
// returned as comments; blank lines are ignored.
func ReadLabels(r io.Reader) ([]int, []string, error) {
	var labels []int
	var comments []string
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			comments = append(comments, strings.TrimSpace(text[1:]))
			continue
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: invalid label %q", line, text)
		}
		labels = append(labels, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return labels, comments, nil
}

// LoadLabels reads a labels file
func LoadLabels(path string) ([]int, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	labels, comments, err := ReadLabels(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(labels) == 0 {
		return nil, comments, fmt.Errorf("%s: %w", path, ErrNoLabels)
	}
	return labels, comments, nil
}

func joinInts(v []int, sep string) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, sep)
}

// writeFileAtomic replaces path only once data is fully written
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
