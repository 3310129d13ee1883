package infer

import (
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// Layout of one detection head row: cx, cy, w, h, score, then five (x, y)
// landmark pairs, all in detector input coordinates.
const detRowLen = 15

// DNNConfig carries the model files and tunables for the OpenCV DNN backend.
type DNNConfig struct {
	DetectModelPath    string
	RecognizeModelPath string
	// DetectInputSize is the square side of the detector input, e.g. 640.
	DetectInputSize int
	// RecognizeInputSize is the square side of the embedder input, e.g. 112.
	RecognizeInputSize int
	// ScoreThreshold filters detection candidates before NMS.
	ScoreThreshold float32
	// NMSThreshold is the IoU threshold used for non-maximum suppression.
	NMSThreshold float32
}

func (c *DNNConfig) applyDefaults() {
	if c.DetectInputSize <= 0 {
		c.DetectInputSize = 640
	}
	if c.RecognizeInputSize <= 0 {
		c.RecognizeInputSize = 112
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = 0.5
	}
	if c.NMSThreshold <= 0 {
		c.NMSThreshold = 0.45
	}
}

// DNNFactory builds ResourceSets backed by OpenCV DNN networks. It keeps a
// handle on every net it ever loaded so ForceReclaim can close them all,
// including nets inside sets that are still checked out of the pool.
type DNNFactory struct {
	cfg DNNConfig

	mu   sync.Mutex
	nets []*gocv.Net
}

// NewDNNFactory validates cfg and returns a factory. Networks are loaded
// lazily, one pair per NewResourceSet call.
func NewDNNFactory(cfg DNNConfig) (*DNNFactory, error) {
	if cfg.DetectModelPath == "" || cfg.RecognizeModelPath == "" {
		return nil, fmt.Errorf("dnn factory: detect and recognize model paths are required")
	}
	cfg.applyDefaults()
	return &DNNFactory{cfg: cfg}, nil
}

func (f *DNNFactory) loadNet(path string) (gocv.Net, error) {
	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return net, fmt.Errorf("failed to load network from %s", path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	f.mu.Lock()
	f.nets = append(f.nets, &net)
	f.mu.Unlock()
	return net, nil
}

// NewResourceSet loads one detection net and one recognition net. Either
// load failure aborts the whole set; the successfully loaded half stays
// registered with the factory and is reclaimed at disposal.
func (f *DNNFactory) NewResourceSet() (*ResourceSet, error) {
	detNet, err := f.loadNet(f.cfg.DetectModelPath)
	if err != nil {
		return nil, err
	}
	recNet, err := f.loadNet(f.cfg.RecognizeModelPath)
	if err != nil {
		return nil, err
	}
	return &ResourceSet{
		Detector: &dnnDetector{
			net:            detNet,
			inputSize:      f.cfg.DetectInputSize,
			scoreThreshold: f.cfg.ScoreThreshold,
			nmsThreshold:   f.cfg.NMSThreshold,
		},
		Recognizer: &dnnRecognizer{
			net:       recNet,
			inputSize: f.cfg.RecognizeInputSize,
		},
	}, nil
}

// ForceReclaim closes every network the factory ever loaded. Errors from
// nets already torn down are collected but the sweep always completes.
func (f *DNNFactory) ForceReclaim() error {
	f.mu.Lock()
	nets := f.nets
	f.nets = nil
	f.mu.Unlock()

	var firstErr error
	for _, n := range nets {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dnnDetector runs a face-detection net whose head emits one row per
// candidate: box center+size, confidence and five landmark points.
type dnnDetector struct {
	mu             sync.Mutex
	net            gocv.Net
	inputSize      int
	scoreThreshold float32
	nmsThreshold   float32
}

func (d *dnnDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	if out.Total()%detRowLen != 0 {
		return nil, fmt.Errorf("unexpected detection output size %d", out.Total())
	}
	rows := out.Total() / detRowLen
	flat := out.Reshape(1, rows)
	defer flat.Close()

	// Blob resize is a plain stretch, so each axis scales independently
	// back to frame coordinates.
	sx := float32(frame.Cols()) / float32(d.inputSize)
	sy := float32(frame.Rows()) / float32(d.inputSize)

	var boxes []image.Rectangle
	var scores []float32
	var landmarks [][]gocv.Point2f
	for i := 0; i < rows; i++ {
		score := flat.GetFloatAt(i, 4)
		if score < d.scoreThreshold {
			continue
		}
		cx := flat.GetFloatAt(i, 0) * sx
		cy := flat.GetFloatAt(i, 1) * sy
		w := flat.GetFloatAt(i, 2) * sx
		h := flat.GetFloatAt(i, 3) * sy
		box := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))

		pts := make([]gocv.Point2f, 0, 5)
		for k := 0; k < 5; k++ {
			pts = append(pts, gocv.Point2f{
				X: flat.GetFloatAt(i, 5+2*k) * sx,
				Y: flat.GetFloatAt(i, 6+2*k) * sy,
			})
		}
		boxes = append(boxes, box)
		scores = append(scores, score)
		landmarks = append(landmarks, pts)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, d.scoreThreshold, d.nmsThreshold)
	dets := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		dets = append(dets, Detection{
			Box:       boxes[idx],
			Landmarks: landmarks[idx],
			Score:     scores[idx],
		})
	}
	return dets, nil
}

// dnnRecognizer embeds aligned crops with an ArcFace-style net and returns
// L2-normalized vectors so the identity store can use a plain dot product.
type dnnRecognizer struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
}

func (r *dnnRecognizer) RecognizeBatch(crops []gocv.Mat) ([][]float32, error) {
	if len(crops) == 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	blob := gocv.NewMat()
	defer blob.Close()
	gocv.BlobFromImages(crops, &blob, 1.0/127.5,
		image.Pt(r.inputSize, r.inputSize), gocv.NewScalar(127.5, 127.5, 127.5, 0),
		true, false, gocv.MatTypeCV32F)
	r.net.SetInput(blob, "")
	out := r.net.Forward("")
	defer out.Close()

	if out.Rows() != len(crops) {
		return nil, fmt.Errorf("embedding batch mismatch: %d crops, %d rows", len(crops), out.Rows())
	}
	dim := out.Cols()
	embeddings := make([][]float32, out.Rows())
	for i := 0; i < out.Rows(); i++ {
		vec := make([]float32, dim)
		var norm float64
		for j := 0; j < dim; j++ {
			v := out.GetFloatAt(i, j)
			vec[j] = v
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= inv
			}
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}
