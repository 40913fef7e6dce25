package features

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gocv.io/x/gocv"
)

// FeatureCache stores encoded feature sets keyed by file, detector and
// modification time
type FeatureCache interface {
	LoadFeatures(path, detector string, modified time.Time) ([]byte, bool, error)
	SaveFeatures(path, detector string, modified time.Time, keypoints int, payload []byte) error
}

type cachedKeyPoint struct {
	X        float64 `cbor:"1,keyasint"`
	Y        float64 `cbor:"2,keyasint"`
	Size     float64 `cbor:"3,keyasint"`
	Angle    float64 `cbor:"4,keyasint"`
	Response float64 `cbor:"5,keyasint"`
	Octave   int     `cbor:"6,keyasint"`
	ClassID  int     `cbor:"7,keyasint"`
}

type cachedFeatures struct {
	KeyPoints []cachedKeyPoint `cbor:"1,keyasint"`
	Rows      int              `cbor:"2,keyasint"`
	Cols      int              `cbor:"3,keyasint"`
	Type      int              `cbor:"4,keyasint"`
	Data      []byte           `cbor:"5,keyasint"`
}

// EncodeFeatures serializes keypoints and their descriptor matrix
func EncodeFeatures(kps []gocv.KeyPoint, descriptors gocv.Mat) ([]byte, error) {
	payload := cachedFeatures{
		KeyPoints: make([]cachedKeyPoint, len(kps)),
		Rows:      descriptors.Rows(),
		Cols:      descriptors.Cols(),
		Type:      int(descriptors.Type()),
		Data:      descriptors.ToBytes(),
	}
	for i, kp := range kps {
		payload.KeyPoints[i] = cachedKeyPoint{
			X: kp.X, Y: kp.Y, Size: kp.Size, Angle: kp.Angle,
			Response: kp.Response, Octave: kp.Octave, ClassID: kp.ClassID,
		}
	}
	return cbor.Marshal(payload)
}

// DecodeFeatures restores keypoints and a descriptor matrix owned by the caller
func DecodeFeatures(data []byte) ([]gocv.KeyPoint, gocv.Mat, error) {
	var payload cachedFeatures
	if err := cbor.Unmarshal(data, &payload); err != nil {
		return nil, gocv.NewMat(), fmt.Errorf("decoding cached features: %w", err)
	}
	if payload.Rows != len(payload.KeyPoints) {
		return nil, gocv.NewMat(), fmt.Errorf("cached features: %d descriptor rows for %d keypoints",
			payload.Rows, len(payload.KeyPoints))
	}

	kps := make([]gocv.KeyPoint, len(payload.KeyPoints))
	for i, kp := range payload.KeyPoints {
		kps[i] = gocv.KeyPoint{
			X: kp.X, Y: kp.Y, Size: kp.Size, Angle: kp.Angle,
			Response: kp.Response, Octave: kp.Octave, ClassID: kp.ClassID,
		}
	}
	if payload.Rows == 0 {
		return kps, gocv.NewMat(), nil
	}

	view, err := gocv.NewMatFromBytes(payload.Rows, payload.Cols, gocv.MatType(payload.Type), payload.Data)
	if err != nil {
		return nil, gocv.NewMat(), fmt.Errorf("cached descriptors: %w", err)
	}
	defer view.Close()
	return kps, view.Clone(), nil
}
