package locator

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/spakin/netpbm"
)

var (
	debugHit      = color.RGBA{90, 90, 90, 255}
	debugVisited  = color.RGBA{230, 40, 40, 255}
	debugScanLine = color.RGBA{0, 0, 140, 255}
	debugRejected = color.RGBA{230, 200, 0, 255}
	debugAccepted = color.RGBA{0, 220, 0, 255}
)

// DebugImage renders the search: hits in gray, filled pixels in red, scan
// lines in blue, rejected boxes in yellow and the accepted box in green
func (l *Locator) DebugImage(accepted *Region) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, l.width, l.height))
	for y := 0; y < l.height; y++ {
		onLine := y%l.opts.ScanDistance == 0
		for x := 0; x < l.width; x++ {
			switch {
			case l.visited[y*l.width+x]:
				img.SetRGBA(x, y, debugVisited)
			case l.m.Hit(x, y):
				img.SetRGBA(x, y, debugHit)
			case onLine:
				img.SetRGBA(x, y, debugScanLine)
			}
		}
	}
	for _, r := range l.rejected {
		outline(img, r.Bounds, debugRejected)
	}
	if accepted != nil {
		outline(img, accepted.Bounds, debugAccepted)
	}
	return img
}

// WriteDebug encodes DebugImage as a binary PPM
func (l *Locator) WriteDebug(w io.Writer, accepted *Region) error {
	opts := &netpbm.EncodeOptions{
		Format:   netpbm.PPM,
		MaxValue: 255,
		Comments: []string{fmt.Sprintf("locator state %s, scan distance %d", l.state, l.opts.ScanDistance)},
	}
	return netpbm.Encode(w, l.DebugImage(accepted), opts)
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}
