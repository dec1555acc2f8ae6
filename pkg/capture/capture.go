// Package capture drives a live pose session: periodic detection, quality
// gating, auto-capture and hand-off of the frozen frame to a processor.
package capture

import (
	"context"
	"image"
	"time"

	"github.com/menta2k/body-analyzer/pkg/types"
)

// Facing selects the camera
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Opposite returns the other camera
func (f Facing) Opposite() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Device is the capture device. RequestPermission fails with
// types.ErrPermissionDenied, Open with types.ErrDeviceUnavailable.
type Device interface {
	RequestPermission(ctx context.Context) error
	Open(ctx context.Context, facing Facing) (Stream, error)
}

// Stream is an open camera handle
type Stream interface {
	Frame(ctx context.Context) (types.Frame, error)
	Close() error
}

// PoseModel runs external pose detection on a frame
type PoseModel interface {
	Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, error)
}

// Processor turns a frozen capture into a classification
type Processor interface {
	Process(ctx context.Context, capture types.Capture) (types.BodyShapeResult, error)
}

// QualityScorer scores one detection cycle. Implementations may keep
// history; Reset clears it.
type QualityScorer interface {
	Score(set types.LandmarkSet, img image.Image) types.QualityScore
	Reset()
}

// Config holds the session timing and gating parameters
type Config struct {
	DetectionInterval       time.Duration `json:"detection_interval" yaml:"detection_interval"`
	SettleDelay             time.Duration `json:"settle_delay" yaml:"settle_delay"`
	CooldownDelay           time.Duration `json:"cooldown_delay" yaml:"cooldown_delay"`
	PoseReadyThreshold      float64       `json:"pose_ready_threshold" yaml:"pose_ready_threshold"`
	AutoCaptureThreshold    float64       `json:"auto_capture_threshold" yaml:"auto_capture_threshold"`
	RequiredExcellentFrames int           `json:"required_excellent_frames" yaml:"required_excellent_frames"`
	AutoCapture             bool          `json:"auto_capture" yaml:"auto_capture"`
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		DetectionInterval:       200 * time.Millisecond,
		SettleDelay:             300 * time.Millisecond,
		CooldownDelay:           2 * time.Second,
		PoseReadyThreshold:      0.7,
		AutoCaptureThreshold:    0.85,
		RequiredExcellentFrames: 5,
		AutoCapture:             true,
	}
}
