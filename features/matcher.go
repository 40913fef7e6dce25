package features

import (
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

const (
	// LoweRatio is the nearest/second-nearest distance ratio a match must beat
	LoweRatio = 0.75
	// MinCorrespondences is the fewest filtered matches a homography is fit to
	MinCorrespondences = 4
	// ReprojectionThreshold is the RANSAC inlier distance in pixels
	ReprojectionThreshold = 5.0

	homographyRANSAC gocv.HomographyMethod = 8
	ransacMaxIters                         = 2000
	ransacConfidence                       = 0.995
)

var (
	origin = mat.NewVecDense(3, []float64{0, 0, 1})
	unitDX = mat.NewVecDense(3, []float64{1, 0, 1})
	unitDY = mat.NewVecDense(3, []float64{0, 1, 1})
)

// Matcher pairs binary descriptors by Hamming distance and fits a
// homography to the pairs that pass the ratio test
type Matcher struct {
	bf gocv.BFMatcher
}

// NewMatcher creates a brute-force Hamming matcher
func NewMatcher() *Matcher {
	return &Matcher{bf: gocv.NewBFMatcherWithParams(gocv.NormHamming, false)}
}

// Close releases the matcher
func (m *Matcher) Close() error {
	return m.bf.Close()
}

// Match returns the RANSAC inlier count and scale distortion of the
// homography taking the query keypoints onto the train keypoints
func (m *Matcher) Match(queryKP []gocv.KeyPoint, query gocv.Mat, trainKP []gocv.KeyPoint, train gocv.Mat) (int, float64) {
	if query.Empty() || train.Empty() {
		return 0, math.Inf(1)
	}
	raw := m.bf.KnnMatch(query, train, 2)

	var src, dst []gocv.KeyPoint
	for _, pair := range raw {
		if len(pair) == 2 && pair[0].Distance < pair[1].Distance*LoweRatio {
			src = append(src, queryKP[pair[0].QueryIdx])
			dst = append(dst, trainKP[pair[0].TrainIdx])
		}
	}
	if len(src) < MinCorrespondences {
		return 0, math.Inf(1)
	}

	srcMat := pointMat(src)
	defer srcMat.Close()
	dstMat := pointMat(dst)
	defer dstMat.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	h := gocv.FindHomography(srcMat, &dstMat, homographyRANSAC, ReprojectionThreshold,
		&inliers, ransacMaxIters, ransacConfidence)
	defer h.Close()
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		return 0, math.Inf(1)
	}

	data := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			data = append(data, h.GetDoubleAt(r, c))
		}
	}
	return gocv.CountNonZero(inliers), ScaleDistortion(mat.NewDense(3, 3, data))
}

// ScaleDistortion measures how far a homography is from a rigid transform:
// one plus, for each unit basis vector, how far the length of its image
// deviates from one. It is 1 for pure rotation and translation.
func ScaleDistortion(h mat.Matrix) float64 {
	var o mat.VecDense
	o.MulVec(h, origin)

	distortion := 1.0
	for _, e := range []*mat.VecDense{unitDX, unitDY} {
		var v mat.VecDense
		v.MulVec(h, e)
		v.SubVec(&v, &o)
		distortion += math.Abs(1 - mat.Norm(&v, 2))
	}
	return distortion
}

// FeatureProportion is the ratio of two feature counts, at least 1, and
// infinite when either is zero
func FeatureProportion(a, b int) float64 {
	if a == 0 || b == 0 {
		return math.Inf(1)
	}
	p := float64(a) / float64(b)
	if p < 1 {
		p = 1 / p
	}
	return p
}

// pointMat packs keypoint coordinates into an n x 2 float matrix
func pointMat(kps []gocv.KeyPoint) gocv.Mat {
	m := gocv.NewMatWithSize(len(kps), 2, gocv.MatTypeCV32F)
	for i, kp := range kps {
		m.SetFloatAt(i, 0, float32(kp.X))
		m.SetFloatAt(i, 1, float32(kp.Y))
	}
	return m
}
