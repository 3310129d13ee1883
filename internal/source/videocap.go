package source

import (
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// VideoSource opens descriptors with OpenCV's VideoCapture. Numeric
// descriptors select a camera device, everything else is a file path or
// stream URL.
type VideoSource struct{}

func NewVideoSource() VideoSource { return VideoSource{} }

func (VideoSource) Open(descriptor string) (Handle, error) {
	live := isDeviceIndex(descriptor)
	var (
		cap *gocv.VideoCapture
		err error
	)
	if live {
		idx, _ := strconv.Atoi(descriptor)
		cap, err = gocv.OpenVideoCapture(idx)
	} else {
		cap, err = gocv.OpenVideoCapture(descriptor)
	}
	if err != nil {
		return nil, openError{descriptor: descriptor, msg: err.Error()}
	}
	if !cap.IsOpened() {
		_ = cap.Close()
		return nil, openError{descriptor: descriptor, msg: "capture did not open"}
	}
	return &videoHandle{cap: cap, live: live}, nil
}

type readError struct{}

func (readError) Error() string { return "frame read failed" }

type videoHandle struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	live   bool
	closed bool
}

func (h *videoHandle) Read(dst *gocv.Mat) error {
	h.mu.Lock()
	cap, closed := h.cap, h.closed
	h.mu.Unlock()
	if closed {
		return ErrEOF
	}
	// The mutex is not held across the read: a stalled network source can
	// block here for a long time, and Close must stay callable to release
	// the capture and unstick it.
	if ok := cap.Read(dst); !ok {
		h.mu.Lock()
		closed = h.closed
		h.mu.Unlock()
		if closed {
			return ErrEOF
		}
		return readError{}
	}
	if dst.Empty() {
		return readError{}
	}
	return nil
}

func (h *videoHandle) Live() bool { return h.live }

func (h *videoHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.cap.Close()
}

func isDeviceIndex(descriptor string) bool {
	if descriptor == "" {
		return false
	}
	for _, r := range descriptor {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
