package location

import "errors"

// Failure taxonomy for the location subsystem. ErrPermissionDenied is
// the only error surfaced verbatim to callers; the rest are absorbed by
// the fallback chain (sensor -> cache -> default), except ErrCancelled
// which terminates a preempted request.
var (
	ErrPermissionDenied   = errors.New("location permission denied")
	ErrTimeout            = errors.New("location request timed out")
	ErrServiceUnavailable = errors.New("location service unavailable")
	ErrCancelled          = errors.New("location request cancelled")
	ErrUnknown            = errors.New("location request failed")
)
