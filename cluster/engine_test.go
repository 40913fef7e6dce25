package cluster

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/types"
	"gocv.io/x/gocv"
)

var thresholds = types.Thresholds{Match: 32, Scale: 2, Feature: 1.2}

// scores maps (cluster side, candidate) to an inlier count
type scores map[[2]string]int

// fake is a Comparable whose matches come from a score table
type fake struct {
	name  string
	table scores
	calls *[]string
	thumb gocv.Mat
	err   error
}

func newFake(name string, table scores, calls *[]string) *fake {
	return &fake{name: name, table: table, calls: calls, thumb: gocv.NewMat()}
}

func (f *fake) Name() string { return f.name }

func (f *fake) Compare(candidate features.Comparable) (types.MatchResult, error) {
	if f.err != nil {
		return types.NoMatch, f.err
	}
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name+"<-"+candidate.Name())
	}
	n := f.table[[2]string{f.name, candidate.Name()}]
	return types.MatchResult{Count: n, Scale: 1, FeatureProportion: 1}, nil
}

func (f *fake) Accepts(r types.MatchResult, t types.Thresholds) bool {
	return r.Count >= t.Match && r.Scale <= t.Scale && r.FeatureProportion < t.Feature
}

func (f *fake) Details(best types.MatchResult) []string { return nil }
func (f *fake) Thumbnail() gocv.Mat                     { return f.thumb }
func (f *fake) Close() error                            { return f.thumb.Close() }

// faceTable makes every pair of names with the same face match strongly
func faceTable(faces map[string]int) scores {
	table := scores{}
	for a, fa := range faces {
		for b, fb := range faces {
			if a != b && fa == fb {
				table[[2]string{a, b}] = 50
			}
		}
	}
	return table
}

func assignAll(t *testing.T, e *Engine, names []string, table scores, calls *[]string) {
	t.Helper()
	for _, n := range names {
		if _, err := e.Assign(newFake(n, table, calls)); err != nil {
			t.Fatalf("Assign(%s) error = %v", n, err)
		}
	}
}

func TestAssignGroupsByFace(t *testing.T) {
	faces := map[string]int{"a": 1, "b": 2, "c": 1, "d": 3, "e": 2, "f": 1}
	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, []string{"a", "b", "c", "d", "e", "f"}, faceTable(faces), nil)

	got := BuildGrouping(e.Groups())
	want := Grouping{{"a", "c", "f"}, {"b", "e"}, {"d"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups() = %v, want %v", got, want)
	}
	if e.ImageCount() != 6 {
		t.Errorf("ImageCount() = %d, want 6", e.ImageCount())
	}
}

func TestAssignIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	names := make([]string, 60)
	faces := map[string]int{}
	for i := range names {
		names[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
		faces[names[i]] = rng.Intn(6)
	}
	table := faceTable(faces)
	// sprinkle some near misses and one-way matches
	for i := 0; i < 200; i++ {
		a, b := names[rng.Intn(len(names))], names[rng.Intn(len(names))]
		table[[2]string{a, b}] = rng.Intn(60)
	}

	run := func() Grouping {
		e := New(thresholds)
		defer e.Close()
		assignAll(t, e, names, table, nil)
		if _, err := e.Combine(context.Background()); err != nil {
			t.Fatalf("Combine() error = %v", err)
		}
		return BuildGrouping(e.Groups())
	}
	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("two runs differ:\n%v\n%v", first, second)
	}
}

func TestAssignStopsAtFirstCompleteMatch(t *testing.T) {
	table := scores{
		{"a", "c"}: 40,
		{"b", "c"}: 90,
	}
	var calls []string
	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, []string{"a", "b", "c"}, table, &calls)

	got := BuildGrouping(e.Groups())
	want := Grouping{{"a", "c"}, {"b"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups() = %v, want %v", got, want)
	}
	for _, c := range calls {
		if c == "b<-c" {
			t.Errorf("compared c with b after a completed the match")
		}
	}
}

func TestNearMissStartsNewCluster(t *testing.T) {
	table := scores{{"a", "b"}: 20}
	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, []string{"a", "b"}, table, nil)

	if e.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", e.Len())
	}
	u := e.Unit(1)
	if u.Best.Count != 20 || u.BestMatchName != "a" || !u.WasRepresentative {
		t.Errorf("Unit(1) = %+v, want best 20 against a and representative", u)
	}
}

func TestAsymmetricMatchesAreTolerated(t *testing.T) {
	table := scores{{"a", "b"}: 40} // a accepts b, b does not accept a

	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, []string{"a", "b"}, table, nil)
	if e.Len() != 1 {
		t.Errorf("a then b: Len() = %d, want 1", e.Len())
	}

	reversed := New(thresholds)
	defer reversed.Close()
	assignAll(t, reversed, []string{"b", "a"}, table, nil)
	if reversed.Len() != 2 {
		t.Errorf("b then a: Len() = %d, want 2", reversed.Len())
	}
	if e.ImageCount() != reversed.ImageCount() {
		t.Errorf("ImageCount() = %d and %d, want equal", e.ImageCount(), reversed.ImageCount())
	}
}

func TestCombineReparentsViaMembers(t *testing.T) {
	table := scores{
		{"a", "b"}: 60, {"a", "c"}: 33, {"a", "d"}: 50, {"a", "e"}: 45,
		// only member c recognizes f
		{"c", "f"}: 40,
	}
	var calls []string
	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, []string{"a", "b", "c", "d", "e", "f", "g"}, table, &calls)
	if e.Len() != 3 {
		t.Fatalf("Len() after assignment = %d, want 3", e.Len())
	}
	before := e.ImageCount()

	calls = calls[:0]
	stats, err := e.Combine(context.Background())
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if stats.Main != 1 || stats.Tail != 2 || stats.Reparented != 1 || stats.Cancelled {
		t.Errorf("Combine() stats = %+v, want 1 main, 2 tails, 1 reparented", stats)
	}
	if e.ImageCount() != before {
		t.Errorf("ImageCount() = %d after Combine, want %d", e.ImageCount(), before)
	}

	groups := e.Groups()
	got := BuildGrouping(groups)
	want := Grouping{{"a", "b", "c", "d", "e", "f"}, {"g"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups() = %v, want %v", got, want)
	}
	if groups[0].NeedsReview || !groups[1].NeedsReview {
		t.Errorf("NeedsReview = %v, %v, want false, true", groups[0].NeedsReview, groups[1].NeedsReview)
	}

	// representative first, then members least well matched first
	wantCalls := []string{"a<-f", "c<-f"}
	if !reflect.DeepEqual(calls[:2], wantCalls) {
		t.Errorf("Combine() compared %v first, want %v", calls[:2], wantCalls)
	}
}

func TestCombineAbsorbsTailMembers(t *testing.T) {
	members := []string{"b", "c", "d", "e", "f", "g", "h", "i", "j"}
	names := append(append([]string{"a"}, members...), "x", "y")
	table := scores{}
	for _, m := range members {
		table[[2]string{"a", m}] = 50
	}
	table[[2]string{"x", "y"}] = 50
	// only member b recognizes x, so x's cluster waits for Combine
	table[[2]string{"b", "x"}] = 50

	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, names, table, nil)
	if _, err := e.Combine(context.Background()); err != nil {
		t.Fatalf("Combine() error = %v", err)
	}

	got := BuildGrouping(e.Groups())
	want := Grouping{names}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups() = %v, want %v", got, want)
	}
	if e.ImageCount() != len(names) {
		t.Errorf("ImageCount() = %d, want %d", e.ImageCount(), len(names))
	}
}

func TestCombinePreservesImageCount(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		var names []string
		table := scores{}
		for i := 0; i < 40; i++ {
			names = append(names, string(rune('a'+i%26))+string(rune('0'+i/26)))
		}
		for i := 0; i < 300; i++ {
			a, b := names[rng.Intn(len(names))], names[rng.Intn(len(names))]
			table[[2]string{a, b}] = rng.Intn(80)
		}
		e := New(thresholds)
		assignAll(t, e, names, table, nil)
		before := e.ImageCount()
		if _, err := e.Combine(context.Background()); err != nil {
			t.Fatalf("trial %d: Combine() error = %v", trial, err)
		}
		if after := e.ImageCount(); after != before || after != len(names) {
			t.Errorf("trial %d: ImageCount() = %d, want %d", trial, after, before)
		}
		seen := map[string]bool{}
		for _, g := range BuildGrouping(e.Groups()) {
			for _, n := range g {
				if seen[n] {
					t.Errorf("trial %d: %s appears twice", trial, n)
				}
				seen[n] = true
			}
		}
		e.Close()
	}
}

func TestCombineCancelledKeepsTails(t *testing.T) {
	table := scores{{"a", "b"}: 50, {"a", "c"}: 50, {"a", "d"}: 50, {"a", "f"}: 50, {"b", "e"}: 50}
	e := New(thresholds)
	defer e.Close()
	assignAll(t, e, []string{"a", "b", "c", "d", "f", "e"}, table, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := e.Combine(ctx)
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if !stats.Cancelled || stats.Reparented != 0 {
		t.Errorf("Combine() stats = %+v, want cancelled with nothing reparented", stats)
	}
	got := BuildGrouping(e.Groups())
	want := Grouping{{"a", "b", "c", "d", "f"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups() = %v, want %v", got, want)
	}
}

func TestAssignCompareError(t *testing.T) {
	e := New(thresholds)
	defer e.Close()
	broken := newFake("a", nil, nil)
	broken.err = features.ErrStrategyMismatch
	if _, err := e.Assign(broken); err != nil {
		t.Fatalf("Assign(first) error = %v", err)
	}
	next := newFake("b", nil, nil)
	defer next.Close()
	if _, err := e.Assign(next); !errors.Is(err, features.ErrStrategyMismatch) {
		t.Fatalf("Assign() error = %v, want %v", err, features.ErrStrategyMismatch)
	}
	if e.ImageCount() != 1 {
		t.Errorf("ImageCount() = %d after failed Assign, want 1", e.ImageCount())
	}
}

func TestEmptyEngine(t *testing.T) {
	e := New(thresholds)
	stats, err := e.Combine(context.Background())
	if err != nil || stats != (CombineStats{}) {
		t.Errorf("Combine() on empty engine = %+v, %v", stats, err)
	}
	if _, err := RenderSummary(e.Groups(), 35); !errors.Is(err, ErrNoGroups) {
		t.Errorf("RenderSummary() error = %v, want %v", err, ErrNoGroups)
	}
}

func TestRenderSummary(t *testing.T) {
	e := New(thresholds)
	defer e.Close()
	table := scores{{"a", "b"}: 50, {"a", "c"}: 50}
	for _, n := range []string{"a", "b", "c", "d"} {
		f := newFake(n, table, nil)
		f.thumb.Close()
		f.thumb = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 200, 10, 0),
			features.ThumbnailSize, features.ThumbnailSize, gocv.MatTypeCV8UC3)
		if _, err := e.Assign(f); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		maxMembers int
		wantCols   int
	}{
		{0, 3},
		{35, 3},
		{2, 2},
	}
	for _, tt := range tests {
		img, err := RenderSummary(e.Groups(), tt.maxMembers)
		if err != nil {
			t.Fatalf("RenderSummary(%d) error = %v", tt.maxMembers, err)
		}
		if img.Rows() != 2*features.ThumbnailSize || img.Cols() != tt.wantCols*features.ThumbnailSize {
			t.Errorf("RenderSummary(%d) = %dx%d, want %dx%d", tt.maxMembers, img.Cols(), img.Rows(),
				tt.wantCols*features.ThumbnailSize, 2*features.ThumbnailSize)
		}
		img.Close()
	}

	path := filepath.Join(t.TempDir(), "summary.png")
	if err := WriteSummary(e.Groups(), 35, path); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}
}

func TestGroupingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	want := Grouping{{"a.jpg", "b.jpg"}, {"c.jpg"}}
	if err := SaveGrouping(path, want); err != nil {
		t.Fatalf("SaveGrouping() error = %v", err)
	}
	got, err := LoadGrouping(path)
	if err != nil {
		t.Fatalf("LoadGrouping() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadGrouping() = %v, want %v", got, want)
	}
}
