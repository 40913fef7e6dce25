package imageprocessor

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// MinCropsForSummary is the number of successful crops above which the crop
// summary is drawn
const MinCropsForSummary = 5

var summaryOutline = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// WriteCropSummary draws the ellipse inscribed in every crop bound over the
// reference and writes it to path
func WriteCropSummary(ref *Reference, bounds []image.Rectangle, path string) error {
	canvas := ref.Full().Clone()
	defer canvas.Close()

	thickness := max(1, min(ref.Width, ref.Height)/400)
	for _, b := range bounds {
		center := image.Pt((b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2)
		axes := image.Pt(b.Dx()/2, b.Dy()/2)
		gocv.Ellipse(&canvas, center, axes, 0, 0, 360, summaryOutline, thickness)
	}
	return writeAtomic(canvas, path)
}
