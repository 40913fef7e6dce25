package locator

import (
	"image"

	"github.com/emirpasic/gods/queues/circularbuffer"
)

// window is the sliding window over one scan line.
//
// entries holds the last 2*sd positions; each hit among them can seed a fill.
// trailing holds the hit flags of the last sd positions and hits counts them.
type window struct {
	entries  *circularbuffer.Queue
	trailing *circularbuffer.Queue
	hits     int
	trigger  int
}

type windowEntry struct {
	pt  image.Point
	hit bool
}

func newWindow(scanDistance int) *window {
	return &window{
		entries:  circularbuffer.New(2 * scanDistance),
		trailing: circularbuffer.New(scanDistance),
		trigger:  scanDistance / 2,
	}
}

// push records one scan position and reports whether the window triggers
func (w *window) push(pt image.Point, hit bool) bool {
	if w.trailing.Full() {
		if oldest, ok := w.trailing.Peek(); ok && oldest.(bool) {
			w.hits--
		}
	}
	w.trailing.Enqueue(hit)
	if hit {
		w.hits++
	}
	w.entries.Enqueue(windowEntry{pt: pt, hit: hit})
	return w.hits > w.trigger
}

// seeds returns the hit positions currently in the window, oldest first
func (w *window) seeds() []image.Point {
	var out []image.Point
	for _, v := range w.entries.Values() {
		if e := v.(windowEntry); e.hit {
			out = append(out, e.pt)
		}
	}
	return out
}

func (w *window) reset() {
	w.entries.Clear()
	w.trailing.Clear()
	w.hits = 0
}
