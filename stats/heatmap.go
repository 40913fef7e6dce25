package stats

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// HeatmapCell is the edge length of one transition cell in pixels
const HeatmapCell = 40

// TransitionMatrix counts label a followed by label b at [a-1][b-1]. Labels
// are expected to be 1-based; the matrix is as wide as the largest label.
func TransitionMatrix(seq []int) [][]int {
	n := 0
	for _, l := range seq {
		n = max(n, l)
	}
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	for i := 0; i+1 < len(seq); i++ {
		a, b := seq[i], seq[i+1]
		if a < 1 || b < 1 {
			continue
		}
		m[a-1][b-1]++
	}
	return m
}

// SequenceHeatmap renders the transition matrix as a grid of gray cells,
// brighter for more frequent transitions, labeled "a->b" and "Nx"
func SequenceHeatmap(seq []int) *image.RGBA {
	m := TransitionMatrix(seq)
	n := len(m)
	img := image.NewRGBA(image.Rect(0, 0, max(1, n*HeatmapCell), max(1, n*HeatmapCell)))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	maxCell := 0
	for _, row := range m {
		for _, v := range row {
			maxCell = max(maxCell, v)
		}
	}

	face := basicfont.Face7x13
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := 0
			if maxCell > 0 {
				v = m[i][j] * 254 / maxCell
			}
			cell := image.Rect(i*HeatmapCell, j*HeatmapCell, (i+1)*HeatmapCell, (j+1)*HeatmapCell)
			draw.Draw(img, cell, image.NewUniform(color.Gray{Y: uint8(v)}), image.Point{}, draw.Src)

			tv := v + 40
			if v > 100 {
				tv = v - 40
			}
			d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Gray{Y: uint8(tv)}), Face: face}
			x := cell.Min.X + HeatmapCell/10
			d.Dot = fixed.P(x, cell.Min.Y+face.Ascent)
			d.DrawString(fmt.Sprintf("%d->%d", i+1, j+1))
			d.Dot = fixed.P(x, cell.Min.Y+HeatmapCell/2+face.Ascent)
			d.DrawString(fmt.Sprintf("%dx", m[i][j]))
		}
	}
	return img
}

// WriteImage encodes img as PNG or JPEG by extension
func WriteImage(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(tmp, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(tmp, img)
	}
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
