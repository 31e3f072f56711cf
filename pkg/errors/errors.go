package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrCallActive is returned when a call placement is attempted while
	// another call is already in flight for the session.
	ErrCallActive = errors.New("call already active")
	// ErrSessionDown is returned when an operation requires a registered
	// session and the client is not connected.
	ErrSessionDown = errors.New("session not connected")
	// ErrPermissionDenied indicates a device permission (microphone) was
	// refused by the host.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupportedMode indicates a recognized but unimplemented call mode.
	ErrUnsupportedMode = errors.New("call mode not supported")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
