package types

import "errors"

// Pipeline error taxonomy. Callers match with errors.Is; wrapped errors
// carry the detail.
var (
	ErrPermissionDenied    = errors.New("camera permission denied")
	ErrDeviceUnavailable   = errors.New("capture device unavailable")
	ErrModel               = errors.New("model inference failed")
	ErrMissingLandmark     = errors.New("missing landmark")
	ErrInvalidPose         = errors.New("invalid pose")
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrNoPoseDetected      = errors.New("no pose detected")

	ErrSessionActive     = errors.New("session already active")
	ErrNotActive         = errors.New("session not active")
	ErrCaptureInProgress = errors.New("capture already in progress")
)
