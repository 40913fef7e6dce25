package cluster

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/markfickett/dicehistogram/features"
	"github.com/markfickett/dicehistogram/imageprocessor"
	"gocv.io/x/gocv"
)

// MaxImageEdge caps the summary width so common encoders accept it
const MaxImageEdge = 65500

var (
	nameColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	detailColor = color.RGBA{R: 254, A: 255}
	reviewColor = color.RGBA{R: 255, G: 200, A: 255}
)

// ErrNoGroups is returned when there is nothing to summarize
var ErrNoGroups = errors.New("no groups to summarize")

// RenderSummary tiles every group's thumbnails in one row per group. At
// most maxMembers images are shown per row; maxMembers <= 0 shows them all
// up to the image size limit.
func RenderSummary(groups []Group, maxMembers int) (gocv.Mat, error) {
	if len(groups) == 0 {
		return gocv.NewMat(), ErrNoGroups
	}
	edge := features.ThumbnailSize
	limit := MaxImageEdge / edge
	if maxMembers > 0 {
		limit = min(limit, maxMembers)
	}
	cols := 0
	for _, g := range groups {
		cols = max(cols, len(g.Units))
	}
	cols = min(cols, limit)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), edge*len(groups), edge*cols, gocv.MatTypeCV8UC3)
	for row, g := range groups {
		y := row * edge
		for col, u := range g.Units {
			if col >= cols {
				break
			}
			x := col * edge
			pasteTile(&canvas, u.Item.Thumbnail(), image.Rect(x, y, x+edge, y+edge))
			drawDetails(&canvas, u, image.Pt(x, y))
		}
		label := fmt.Sprintf("members: %d", len(g.Units))
		c := detailColor
		if g.NeedsReview {
			c = reviewColor
			label += " ?"
		}
		putText(&canvas, label, image.Pt(2, y+22), c)
	}
	return canvas, nil
}

// WriteSummary renders the summary and writes it to path
func WriteSummary(groups []Group, maxMembers int, path string) error {
	canvas, err := RenderSummary(groups, maxMembers)
	if err != nil {
		return err
	}
	defer canvas.Close()
	return imageprocessor.WriteImage(canvas, path)
}

func pasteTile(canvas *gocv.Mat, thumb gocv.Mat, r image.Rectangle) {
	if thumb.Empty() || thumb.Cols() != r.Dx() || thumb.Rows() != r.Dy() || thumb.Type() != canvas.Type() {
		return
	}
	roi := canvas.Region(r)
	defer roi.Close()
	thumb.CopyTo(&roi)
}

func drawDetails(canvas *gocv.Mat, u *Unit, at image.Point) {
	putText(canvas, u.Item.Name(), image.Pt(at.X+2, at.Y+10), nameColor)
	for i, line := range u.Item.Details(u.Best) {
		putText(canvas, line, image.Pt(at.X+2, at.Y+34+10*i), detailColor)
	}
	if u.WasRepresentative && u.BestMatch >= 0 {
		putText(canvas, "  "+u.BestMatchName, image.Pt(at.X+2, at.Y+84), detailColor)
	}
}

func putText(canvas *gocv.Mat, text string, org image.Point, c color.RGBA) {
	if text == "" {
		return
	}
	gocv.PutText(canvas, text, org, gocv.FontHersheyPlain, 0.6, c, 1)
}
