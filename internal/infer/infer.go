package infer

import (
	"image"

	"gocv.io/x/gocv"
)

// Detection is one face located in a frame by the detection model.
type Detection struct {
	// Box is the face bounding box in frame coordinates.
	Box image.Rectangle
	// Landmarks are facial keypoints in frame coordinates. Recognition
	// expects exactly five (eyes, nose tip, mouth corners); detections
	// with any other count are drawn but not recognized.
	Landmarks []gocv.Point2f
	// Score is the detection confidence in [0,1].
	Score float32
}

// Detector locates faces in a single frame. A Detector is owned by one
// session at a time and is never shared between sessions, but distinct
// sessions may run their detectors concurrently.
type Detector interface {
	Detect(frame gocv.Mat) ([]Detection, error)
}

// Recognizer embeds aligned face crops. All crops of one frame are embedded
// in a single batch call. Same ownership rules as Detector.
type Recognizer interface {
	RecognizeBatch(crops []gocv.Mat) ([][]float32, error)
}

// ResourceSet is a paired detector+recognizer handle that is checked out of
// the pool as a unit and exclusively owned by at most one session.
type ResourceSet struct {
	Detector   Detector
	Recognizer Recognizer
}

// Factory builds ResourceSets for a concrete inference backend and knows how
// to forcibly reclaim everything it ever built. ForceReclaim exists for
// backends that do not release native resources cleanly on normal teardown;
// it is best-effort and invoked once at pool disposal, possibly while sets
// are still checked out.
type Factory interface {
	NewResourceSet() (*ResourceSet, error)
	ForceReclaim() error
}
