package queue

// invalidRequestError rejects a submission with missing/bad fields.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// ErrInvalidRequest constructs an invalid-request admission error.
func ErrInvalidRequest(msg string) error { return invalidRequestError{msg: msg} }

// IsInvalidRequest reports whether err is an invalid-request rejection.
func IsInvalidRequest(err error) bool {
	_, ok := err.(invalidRequestError)
	return ok
}

// modelUnavailableError rejects a model not in the enabled-and-ready set.
type modelUnavailableError struct{ model string }

func (e modelUnavailableError) Error() string { return "model unavailable: " + e.model }

// IsModelUnavailable reports whether err is a model-unavailable rejection.
func IsModelUnavailable(err error) bool {
	_, ok := err.(modelUnavailableError)
	return ok
}

// queueFullError signals admission backpressure for 429 mapping.
type queueFullError struct{}

func (queueFullError) Error() string { return "job queue is full" }

// IsQueueFull reports whether err indicates backpressure.
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// notFoundError signals an unknown job id.
type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "job not found: " + e.id }

// ErrJobNotFound constructs a not-found error for the given id.
func ErrJobNotFound(id string) error { return notFoundError{id: id} }

// IsNotFound reports whether err indicates a missing job id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// transitionError signals an illegal lifecycle transition; it indicates
// a programming error, not a user fault.
type transitionError struct{ msg string }

func (e transitionError) Error() string { return e.msg }
