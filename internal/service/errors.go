package service

import (
	"errors"
)

// ErrNotFound is returned when the requested file does not exist, or when its
// payload is missing from the blob store. Both cases surface identically to
// callers; the latter is additionally logged as an integrity warning.
var ErrNotFound = errors.New("file not found")

// ValidationError reports an upload rejected before any storage side effect.
// Reason carries the specific cause (unsupported type, oversize payload,
// unsafe filename) for the client-facing message.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
