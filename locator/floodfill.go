package locator

import (
	"image"

	"github.com/emirpasic/gods/stacks/arraystack"
)

// neighbors8 are the offsets of the 8-connected neighbourhood
var neighbors8 = [8]image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// fillResult is what one flood fill discovered
type fillResult struct {
	bounds  image.Rectangle
	pixels  int
	aborted bool
}

// Fill grows an 8-connected region of hit pixels from the seeds.
//
// visited is indexed y*width+x and is updated in place; pixels already
// visited are neither seeds nor neighbours. When limit > 0 the fill stops as
// soon as the region holds more than limit pixels and reports aborted.
func Fill(m HitMap, visited []bool, seeds []image.Point, limit int) (image.Rectangle, int, bool) {
	r := fill(m, visited, seeds, limit)
	return r.bounds, r.pixels, r.aborted
}

func fill(m HitMap, visited []bool, seeds []image.Point, limit int) fillResult {
	w, h := m.Size()
	stack := arraystack.New()

	for _, s := range seeds {
		idx := s.Y*w + s.X
		if visited[idx] || !m.Hit(s.X, s.Y) {
			continue
		}
		visited[idx] = true
		stack.Push(s)
	}

	var res fillResult
	minX, minY, maxX, maxY := w, h, -1, -1
	for !stack.Empty() {
		v, _ := stack.Pop()
		p := v.(image.Point)
		res.pixels++
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
		if limit > 0 && res.pixels > limit {
			res.aborted = true
			break
		}

		for _, d := range neighbors8 {
			n := p.Add(d)
			if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h {
				continue
			}
			idx := n.Y*w + n.X
			if visited[idx] || !m.Hit(n.X, n.Y) {
				continue
			}
			visited[idx] = true
			stack.Push(n)
		}
	}

	if res.pixels > 0 {
		res.bounds = image.Rect(minX, minY, maxX+1, maxY+1)
	}
	return res
}
