// Package imageprocessor loads photographs, differences them against the
// empty-scene reference and cuts fixed-size crops out of them.
package imageprocessor

import "gocv.io/x/gocv"

// ImageLoader is the interface that all image loaders must implement
type ImageLoader interface {
	// CanLoad checks if the loader can handle the given file
	CanLoad(path string) bool

	// LoadImage loads and returns the image in the requested color mode
	LoadImage(path string, mode gocv.IMReadFlag) (gocv.Mat, error)
}
