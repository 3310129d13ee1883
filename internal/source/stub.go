package source

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// StubSource is a test source producing small synthetic frames without any
// camera or file. FrameCount bounds finite streams; LiveStream makes the
// handle behave like a camera that keeps producing until closed.
type StubSource struct {
	// FrameCount is the number of frames a finite handle yields before EOF.
	FrameCount int
	// LiveStream reports the handle as live; Read then never returns EOF.
	LiveStream bool
	// ReadDelay is held, under the handle lock, inside every read. This
	// models a source whose blocked read also blocks Close.
	ReadDelay time.Duration
	// FailFirst makes that many initial reads fail with a transient error.
	FailFirst int
	// Width/Height of produced frames; defaults 64x64.
	Width, Height int
	// OpenErr, when set, is returned by Open.
	OpenErr error
}

func (s *StubSource) Open(descriptor string) (Handle, error) {
	if s.OpenErr != nil {
		return nil, openError{descriptor: descriptor, msg: s.OpenErr.Error()}
	}
	w, h := s.Width, s.Height
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 64
	}
	return &stubHandle{src: s, width: w, height: h}, nil
}

type stubHandle struct {
	src    *StubSource
	width  int
	height int

	mu       sync.Mutex
	served   int
	attempts int
	closed   bool
}

func (h *stubHandle) Read(dst *gocv.Mat) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.src.ReadDelay > 0 {
		time.Sleep(h.src.ReadDelay)
	}
	if h.closed {
		return ErrEOF
	}
	h.attempts++
	if h.attempts <= h.src.FailFirst {
		return readError{}
	}
	if !h.src.LiveStream && h.served >= h.src.FrameCount {
		return ErrEOF
	}
	h.served++
	frame := gocv.NewMatWithSize(h.height, h.width, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(dst)
	return nil
}

func (h *stubHandle) Live() bool { return h.src.LiveStream }

func (h *stubHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Served reports how many frames were read from the handle.
func (h *stubHandle) Served() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.served
}
