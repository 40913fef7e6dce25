package imageprocessor

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ImageLoaderRegistry maintains a registry of image loaders
type ImageLoaderRegistry struct {
	loaders       map[string]ImageLoader
	defaultLoader ImageLoader
	mutex         sync.RWMutex
}

// NewImageLoaderRegistry creates a new image loader registry
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string]ImageLoader),
	}

	standardLoader := NewStandardImageLoader()
	for ext := range formatExtensions {
		registry.RegisterLoader(ext, standardLoader)
	}
	registry.defaultLoader = standardLoader

	return registry
}

// RegisterLoader registers a new loader for a specific file extension
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ext = strings.ToLower(ext)
	r.loaders[ext] = loader
}

// GetLoader returns the appropriate loader for the given path
func (r *ImageLoaderRegistry) GetLoader(path string) ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	if loader, ok := r.loaders[ext]; ok {
		return loader
	}

	return r.defaultLoader
}

// CanLoadFile checks if any registered loader handles the file's extension
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	_, ok := r.loaders[ext]
	return ok
}

// LoadImage loads an image in color using the appropriate registered loader
func (r *ImageLoaderRegistry) LoadImage(path string) (gocv.Mat, error) {
	return r.LoadImageMode(path, gocv.IMReadColor)
}

// LoadImageMode loads an image with an explicit OpenCV read mode
func (r *ImageLoaderRegistry) LoadImageMode(path string, mode gocv.IMReadFlag) (gocv.Mat, error) {
	loader := r.GetLoader(path)
	if loader == nil {
		return gocv.NewMat(), fmt.Errorf("no suitable loader found for: %s", path)
	}

	return loader.LoadImage(path, mode)
}
