package imageprocessor

import (
	"path/filepath"
	"strings"
)

// FormatType represents a known image format type
type FormatType string

// Known image format constants
const (
	FormatUnknown FormatType = "unknown"
	FormatJPEG    FormatType = "jpeg"
	FormatPNG     FormatType = "png"
	FormatBMP     FormatType = "bmp"
	FormatTIFF    FormatType = "tiff"
	FormatWEBP    FormatType = "webp"
)

// Map of extensions to format types
var formatExtensions = map[string]FormatType{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".webp": FormatWEBP,
}

// GetFileFormat returns the format type based on file extension
func GetFileFormat(path string) FormatType {
	ext := strings.ToLower(filepath.Ext(path))
	format, exists := formatExtensions[ext]
	if !exists {
		return FormatUnknown
	}
	return format
}
