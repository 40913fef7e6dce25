// Package cluster groups cropped die images by face.
//
// Assignment is greedy and online: each image is compared with every
// cluster's representative in creation order and joins the first one that
// completes a match, or founds a new cluster. Combine then retries the small
// clusters against members of the large ones, absorbing those that match.
package cluster

import (
	"context"
	"fmt"
	"slices"

	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/types"
)

const (
	// MaxMemberTries is how many members of a main cluster a tail
	// representative is compared with during Combine
	MaxMemberTries = 10
	// MainClusterRatio is the fraction of the largest cluster's image count a
	// cluster needs to count as a main cluster
	MainClusterRatio = 4
)

// Unit is one image in the arena
type Unit struct {
	Item features.Comparable
	// Best is the best comparison this image got while looking for a cluster.
	Best types.MatchResult
	// BestMatch is the unit index Best was measured against, or -1.
	BestMatch     int
	BestMatchName string
	// WasRepresentative is set once the unit has founded a cluster.
	WasRepresentative bool
}

// Cluster is a representative plus members, all unit indices
type Cluster struct {
	Representative int
	Members        []int
	// Absorbed lists the clusters merged into this one by Combine.
	Absorbed []int
	// NeedsReview marks a tail cluster that Combine could not reparent.
	NeedsReview bool
}

// Size is the number of images in the cluster
func (c *Cluster) Size() int {
	return 1 + len(c.Members)
}

// Engine holds the clustering state. It is not safe for concurrent use.
type Engine struct {
	thresholds types.Thresholds
	units      []Unit
	clusters   []Cluster
	// order lists live cluster indices in output order
	order []int
}

// CombineStats reports what Combine did
type CombineStats struct {
	Main       int
	Tail       int
	Reparented int
	Cancelled  bool
}

// New creates an empty engine
func New(t types.Thresholds) *Engine {
	return &Engine{thresholds: t}
}

// Thresholds returns the completion thresholds in use
func (e *Engine) Thresholds() types.Thresholds {
	return e.thresholds
}

// Assign places item into the first cluster whose representative completes a
// match with it, or starts a new cluster. It returns the cluster index.
// The engine takes ownership of item unless an error is returned.
func (e *Engine) Assign(item features.Comparable) (int, error) {
	ui := len(e.units)
	e.units = append(e.units, Unit{Item: item, Best: types.NoMatch, BestMatch: -1})

	for _, ci := range e.order {
		ok, err := e.takeIfMatch(ci, ui, -1, false)
		if err != nil {
			e.units = e.units[:ui]
			return -1, err
		}
		if ok {
			return ci, nil
		}
	}

	ci := len(e.clusters)
	e.units[ui].WasRepresentative = true
	e.clusters = append(e.clusters, Cluster{Representative: ui})
	e.order = append(e.order, ci)
	logging.DebugLog("%s starts cluster %d", item.Name(), ci)
	return ci, nil
}

// takeIfMatch compares unit ui against cluster ci's representative and, when
// tryMembers is set, a sample of its members. On a completing match ui joins
// ci, together with the members of cluster absorb when absorb >= 0.
func (e *Engine) takeIfMatch(ci, ui, absorb int, tryMembers bool) (bool, error) {
	target := &e.clusters[ci]
	candidates := []int{target.Representative}
	if tryMembers {
		candidates = append(candidates, e.memberSample(target)...)
	}

	u := &e.units[ui]
	for _, cand := range candidates {
		other := e.units[cand].Item
		r, err := other.Compare(u.Item)
		if err != nil {
			return false, fmt.Errorf("comparing %s with %s: %w", u.Item.Name(), other.Name(), err)
		}
		complete := other.Accepts(r, e.thresholds)
		if complete || r.Count > u.Best.Count {
			u.Best = r
			u.BestMatch = cand
			u.BestMatchName = other.Name()
		}
		if !complete {
			continue
		}

		target.Members = append(target.Members, ui)
		if absorb >= 0 {
			tail := &e.clusters[absorb]
			target.Members = append(target.Members, tail.Members...)
			target.Absorbed = append(target.Absorbed, absorb)
			tail.Members = nil
		}
		via := ""
		if cand != target.Representative {
			via = " via " + other.Name()
		}
		logging.DebugLog("%s matches %s%s => %d inl / %.2f scale",
			u.Item.Name(), e.units[target.Representative].Item.Name(), via, r.Count, r.Scale)
		return true, nil
	}
	return false, nil
}

// memberSample returns up to MaxMemberTries members, least well matched first
func (e *Engine) memberSample(c *Cluster) []int {
	sorted := slices.Clone(c.Members)
	slices.SortStableFunc(sorted, func(a, b int) int {
		return e.units[a].Best.Count - e.units[b].Best.Count
	})
	if len(sorted) > MaxMemberTries {
		sorted = sorted[:MaxMemberTries]
	}
	return sorted
}

// Combine retries every tail cluster against the main clusters' members and
// absorbs the tails that match. Main clusters are those holding at least
// 1/MainClusterRatio as many images as the largest. Afterwards the order is
// main clusters by size, then the tails that stayed separate, flagged for
// review. Cancelling ctx stops between tails and keeps every image.
func (e *Engine) Combine(ctx context.Context) (CombineStats, error) {
	var stats CombineStats
	if len(e.order) == 0 {
		return stats, nil
	}

	bySize := slices.Clone(e.order)
	slices.SortStableFunc(bySize, func(a, b int) int {
		return e.clusters[b].Size() - e.clusters[a].Size()
	})
	largest := e.clusters[bySize[0]].Size()
	split := 1
	for split < len(bySize) && e.clusters[bySize[split]].Size()*MainClusterRatio >= largest {
		split++
	}
	main, tails := bySize[:split], bySize[split:]
	stats.Main, stats.Tail = len(main), len(tails)
	logging.LogInfo("Combining: %d main clusters, %d tail clusters", len(main), len(tails))

	var kept []int
	for _, ti := range tails {
		if ctx.Err() != nil {
			stats.Cancelled = true
			e.clusters[ti].NeedsReview = true
			kept = append(kept, ti)
			continue
		}
		reparented := false
		for _, mi := range main {
			ok, err := e.takeIfMatch(mi, e.clusters[ti].Representative, ti, true)
			if err != nil {
				return stats, err
			}
			if ok {
				reparented = true
				break
			}
		}
		if reparented {
			stats.Reparented++
			continue
		}
		logging.DebugLog("Failed to reparent %s", e.units[e.clusters[ti].Representative].Item.Name())
		e.clusters[ti].NeedsReview = true
		kept = append(kept, ti)
	}

	e.order = append(slices.Clone(main), kept...)
	return stats, nil
}

// Len is the number of live clusters
func (e *Engine) Len() int {
	return len(e.order)
}

// ImageCount is the number of images held by live clusters
func (e *Engine) ImageCount() int {
	n := 0
	for _, ci := range e.order {
		n += e.clusters[ci].Size()
	}
	return n
}

// Group is a read-only view of one live cluster
type Group struct {
	Index       int
	Units       []*Unit
	NeedsReview bool
}

// Representative is the unit that founded the group
func (g Group) Representative() *Unit {
	return g.Units[0]
}

// Names lists the group's filenames, representative first
func (g Group) Names() []string {
	names := make([]string, len(g.Units))
	for i, u := range g.Units {
		names[i] = u.Item.Name()
	}
	return names
}

// Groups returns the live clusters in output order
func (e *Engine) Groups() []Group {
	groups := make([]Group, 0, len(e.order))
	for _, ci := range e.order {
		c := &e.clusters[ci]
		g := Group{Index: ci, NeedsReview: c.NeedsReview, Units: make([]*Unit, 0, c.Size())}
		g.Units = append(g.Units, &e.units[c.Representative])
		for _, m := range c.Members {
			g.Units = append(g.Units, &e.units[m])
		}
		groups = append(groups, g)
	}
	return groups
}

// Unit returns the unit at index i
func (e *Engine) Unit(i int) *Unit {
	return &e.units[i]
}

// Close releases every image held by the engine
func (e *Engine) Close() error {
	for i := range e.units {
		e.units[i].Item.Close()
	}
	e.units = nil
	e.clusters = nil
	e.order = nil
	return nil
}
