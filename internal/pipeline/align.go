package pipeline

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ArcFace reference landmarks for a 112x112 crop: left eye, right eye, nose
// tip, left mouth corner, right mouth corner.
var arcfaceRef = [5]gocv.Point2f{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// AlignCrop estimates a similarity transform mapping the five detected
// landmarks onto the reference template and warps the frame into a
// size x size crop. size must be a multiple of 112 or 128; 128 multiples
// shift the reference points right by 8*ratio. A degenerate estimate (any
// non-inlier landmark) yields an all-zero crop and zero matrix instead of an
// error so one bad face never fails the batch. Both returned Mats are owned
// by the caller.
func AlignCrop(frame gocv.Mat, landmarks []gocv.Point2f, size int) (gocv.Mat, gocv.Mat, error) {
	if len(landmarks) != 5 {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("alignment needs 5 landmarks, got %d", len(landmarks))
	}
	if size <= 0 || (size%112 != 0 && size%128 != 0) {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("alignment size %d is not a multiple of 112 or 128", size)
	}

	var ratio, diffX float32
	if size%112 == 0 {
		ratio = float32(size) / 112.0
	} else {
		ratio = float32(size) / 128.0
		diffX = 8.0 * ratio
	}
	ref := make([]gocv.Point2f, 5)
	for i, p := range arcfaceRef {
		ref[i] = gocv.Point2f{X: p.X*ratio + diffX, Y: p.Y * ratio}
	}

	from := gocv.NewPoint2fVectorFromPoints(landmarks)
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(ref)
	defer to.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	m := gocv.EstimateAffinePartial2DWithParams(from, to, inliers,
		int(gocv.HomograpyMethodRANSAC), 1000, 2000, 0.99, 10)

	if m.Empty() || !allInliers(inliers) {
		if !m.Empty() {
			m.Close()
		}
		return gocv.Zeros(size, size, gocv.MatTypeCV8UC3),
			gocv.Zeros(2, 3, gocv.MatTypeCV32F), nil
	}

	aligned := gocv.NewMat()
	gocv.WarpAffine(frame, &aligned, m, image.Pt(size, size))
	return aligned, m, nil
}

func allInliers(inliers gocv.Mat) bool {
	if inliers.Empty() || inliers.Rows() != 5 {
		return false
	}
	for i := 0; i < inliers.Rows(); i++ {
		if inliers.GetUCharAt(i, 0) == 0 {
			return false
		}
	}
	return true
}
