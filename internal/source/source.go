// Package source abstracts where frames come from: a camera device, a video
// file or a network stream. The pipeline only sees the Source/Handle
// contract; the gocv-backed implementation lives in videocap.go.
package source

import "gocv.io/x/gocv"

// Handle is one opened frame source. Read fills dst with the next decoded
// frame; it returns an EOF error (see IsEOF) when a finite source is
// exhausted, and any other error for a transient read failure. Handles are
// used by a single capture goroutine and need not be safe for concurrent
// reads, but Close may race with a blocked Read.
type Handle interface {
	Read(dst *gocv.Mat) error
	// Live reports whether the source is continuously live (a camera
	// device): read failures are then retried forever instead of ending
	// the stream.
	Live() bool
	Close() error
}

// Source opens handles for descriptors. A numeric descriptor selects a
// local capture device; anything else is treated as a file path or URL.
type Source interface {
	Open(descriptor string) (Handle, error)
}

type eofError struct{}

func (eofError) Error() string { return "end of stream" }

// ErrEOF marks the normal end of a finite source.
var ErrEOF error = eofError{}

// IsEOF reports whether err marks the normal end of a finite source.
func IsEOF(err error) bool {
	_, ok := err.(eofError)
	return ok
}

type openError struct {
	descriptor string
	msg        string
}

func (e openError) Error() string { return "cannot open source " + e.descriptor + ": " + e.msg }

// IsOpenFailure reports whether err came from opening a source descriptor.
func IsOpenFailure(err error) bool {
	_, ok := err.(openError)
	return ok
}
