package stream

// busyError signals that a session could not start because the driver died
// within the grace window, typically pool exhaustion or a source-open
// failure. The HTTP layer maps it to 503.
type busyError struct{ id string }

func (e busyError) Error() string {
	return "service busy: session " + e.id + " did not survive startup"
}

// ErrBusy constructs a busyError.
func ErrBusy(id string) error { return busyError{id: id} }

// IsBusy reports whether err indicates a failed session start.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// notFoundError signals an operation on an unknown session id.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "session not found: " + e.id }

// ErrSessionNotFound constructs a notFoundError.
func ErrSessionNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates an unknown session id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
