package capture

import (
	"github.com/menta2k/body-analyzer/pkg/types"
)

// Status is the session state machine position
type Status int

const (
	StatusIdle Status = iota
	StatusRequestingPermission
	StatusActive
	StatusCapturing
	StatusProcessing
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusRequestingPermission:
		return "REQUESTING_PERMISSION"
	case StatusActive:
		return "ACTIVE"
	case StatusCapturing:
		return "CAPTURING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusComplete:
		return "COMPLETE"
	case StatusError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a snapshot published on every detection cycle and transition
type State struct {
	Status          Status                 `json:"status" yaml:"status"`
	Facing          Facing                 `json:"facing,omitempty" yaml:"facing,omitempty"`
	Quality         *types.QualityScore    `json:"quality,omitempty" yaml:"quality,omitempty"`
	Landmarks       types.LandmarkSet      `json:"landmarks,omitempty" yaml:"landmarks,omitempty"`
	PoseReady       bool                   `json:"pose_ready" yaml:"pose_ready"`
	ExcellentFrames int                    `json:"excellent_frames" yaml:"excellent_frames"`
	Result          *types.BodyShapeResult `json:"result,omitempty" yaml:"result,omitempty"`
	Err             error                  `json:"-" yaml:"-"`
}

// ErrorMessage returns the error message, or "" when there is none
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
