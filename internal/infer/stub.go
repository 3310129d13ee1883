package infer

import (
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// StubFactory is an in-memory inference backend used by tests and by the
// daemon's dry-run mode. It requires no model files and no accelerator.
type StubFactory struct {
	// DetectFn, when set, overrides the canned Detections result.
	DetectFn func(frame gocv.Mat) ([]Detection, error)
	// Detections is returned for every frame when DetectFn is nil.
	Detections []Detection
	// RecognizeFn, when set, overrides the canned Embedding result.
	RecognizeFn func(crops []gocv.Mat) ([][]float32, error)
	// Embedding is returned once per crop when RecognizeFn is nil.
	Embedding []float32
	// FailAfter makes NewResourceSet fail once that many sets were built
	// (0 = never fail). Used to exercise all-or-nothing pool construction.
	FailAfter int
	// ReclaimErr is returned by ForceReclaim to simulate a backend that
	// errors during forced teardown.
	ReclaimErr error

	mu       sync.Mutex
	built    int
	reclaims int
}

type stubBuildError struct{}

func (stubBuildError) Error() string { return "stub factory: configured build failure" }

func (f *StubFactory) NewResourceSet() (*ResourceSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAfter > 0 && f.built >= f.FailAfter {
		return nil, stubBuildError{}
	}
	f.built++
	return &ResourceSet{
		Detector:   &stubDetector{factory: f},
		Recognizer: &stubRecognizer{factory: f},
	}, nil
}

func (f *StubFactory) ForceReclaim() error {
	f.mu.Lock()
	f.reclaims++
	f.mu.Unlock()
	return f.ReclaimErr
}

// BuiltSets reports how many ResourceSets the factory produced.
func (f *StubFactory) BuiltSets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built
}

// Reclaims reports how many times ForceReclaim ran.
func (f *StubFactory) Reclaims() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reclaims
}

type stubDetector struct {
	factory *StubFactory
	calls   atomic.Int64
}

func (d *stubDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	d.calls.Add(1)
	if d.factory.DetectFn != nil {
		return d.factory.DetectFn(frame)
	}
	return d.factory.Detections, nil
}

type stubRecognizer struct {
	factory *StubFactory
	calls   atomic.Int64
}

func (r *stubRecognizer) RecognizeBatch(crops []gocv.Mat) ([][]float32, error) {
	r.calls.Add(1)
	if r.factory.RecognizeFn != nil {
		return r.factory.RecognizeFn(crops)
	}
	out := make([][]float32, len(crops))
	for i := range out {
		out[i] = r.factory.Embedding
	}
	return out, nil
}
