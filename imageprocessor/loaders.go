package imageprocessor

import (
	"errors"
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// ErrImageLoad is returned when OpenCV cannot decode a file
var ErrImageLoad = errors.New("failed to load image")

// BaseImageLoader provides common functionality for all image loaders
type BaseImageLoader struct {
	// Formats this loader can handle
	SupportedFormats []FormatType
}

// CanLoad checks if this loader supports the file's format
func (l *BaseImageLoader) CanLoad(path string) bool {
	format := GetFileFormat(path)

	for _, supported := range l.SupportedFormats {
		if format == supported {
			return fileExists(path)
		}
	}

	return false
}

// StandardImageLoader handles the formats OpenCV decodes natively
type StandardImageLoader struct {
	BaseImageLoader
}

// NewStandardImageLoader creates a new loader for standard image formats
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatBMP,
				FormatTIFF,
				FormatWEBP,
			},
		},
	}
}

// LoadImage reads the file with OpenCV
func (l *StandardImageLoader) LoadImage(path string, mode gocv.IMReadFlag) (gocv.Mat, error) {
	img := gocv.IMRead(path, mode)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), newImageLoadError(path)
	}
	return img, nil
}

// fileExists checks if a file exists and is accessible
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newImageLoadError creates a standardized error for image loading failures
func newImageLoadError(path string) error {
	return fmt.Errorf("%w: %s", ErrImageLoad, path)
}
