// Package geometry maps normalized source coordinates into a displayed
// rectangle so overlays line up with the rendered video frame.
package geometry

import (
	"fmt"
	"math"

	"github.com/menta2k/body-analyzer/pkg/types"
)

// FitMode selects how the source raster is fitted into its container
type FitMode string

const (
	// FitContain fits the whole source inside the container (letterboxing)
	FitContain FitMode = "contain"
	// FitCover fills the container and crops the overflow symmetrically
	FitCover FitMode = "cover"
)

// ParseFitMode parses "contain" or "cover"
func ParseFitMode(s string) (FitMode, error) {
	switch FitMode(s) {
	case FitContain, FitCover:
		return FitMode(s), nil
	}
	return "", fmt.Errorf("unsupported fit mode: %s", s)
}

// DisplayRect describes where the source raster lands inside the container.
// X/Y/Width/Height are container pixels; CropX/CropY are source pixels
// clipped on each side under FitCover.
type DisplayRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
	CropX  float64 `json:"crop_x"`
	CropY  float64 `json:"crop_y"`
}

// ComputeDisplayRect fits a srcW x srcH raster into a containerW x containerH box
func ComputeDisplayRect(srcW, srcH, containerW, containerH float64, mode FitMode) (DisplayRect, error) {
	if srcW <= 0 || srcH <= 0 {
		return DisplayRect{}, fmt.Errorf("invalid source dimensions: %gx%g", srcW, srcH)
	}
	if containerW <= 0 || containerH <= 0 {
		return DisplayRect{}, fmt.Errorf("invalid container dimensions: %gx%g", containerW, containerH)
	}

	srcRatio := srcW / srcH
	containerRatio := containerW / containerH

	var rect DisplayRect
	switch mode {
	case FitContain, "":
		if srcRatio > containerRatio {
			// Source is wider, constrain by width
			rect.Width = containerW
			rect.Height = containerW / srcRatio
		} else {
			rect.Height = containerH
			rect.Width = containerH * srcRatio
		}
		rect.X = (containerW - rect.Width) / 2
		rect.Y = (containerH - rect.Height) / 2
	case FitCover:
		if srcRatio > containerRatio {
			// Source is wider, fill height and crop the sides
			rect.Height = containerH
			rect.Width = containerH * srcRatio
		} else {
			rect.Width = containerW
			rect.Height = containerW / srcRatio
		}
		rect.X = (containerW - rect.Width) / 2
		rect.Y = (containerH - rect.Height) / 2
	default:
		return DisplayRect{}, fmt.Errorf("unsupported fit mode: %s", mode)
	}

	rect.ScaleX = rect.Width / srcW
	rect.ScaleY = rect.Height / srcH

	if mode == FitCover {
		rect.CropX = math.Max(0, -rect.X) / rect.ScaleX
		rect.CropY = math.Max(0, -rect.Y) / rect.ScaleY
	}

	return rect, nil
}

// Rotation re-projects model coordinates into display orientation
type Rotation string

const (
	RotateNone Rotation = "none"
	// Rotate90CCW maps (x, y) to (1-y, x); the default for sensors mounted
	// rotated relative to the display
	Rotate90CCW Rotation = "90ccw"
	// Rotate90CW maps (x, y) to (y, 1-x)
	Rotate90CW Rotation = "90cw"
	Rotate180  Rotation = "180"
)

// ParseRotation parses a rotation name
func ParseRotation(s string) (Rotation, error) {
	switch Rotation(s) {
	case RotateNone, Rotate90CCW, Rotate90CW, Rotate180:
		return Rotation(s), nil
	case "":
		return RotateNone, nil
	}
	return "", fmt.Errorf("unsupported rotation: %s", s)
}

// Apply rotates a normalized point
func (r Rotation) Apply(x, y float64) (float64, float64) {
	switch r {
	case Rotate90CCW:
		return 1 - y, x
	case Rotate90CW:
		return y, 1 - x
	case Rotate180:
		return 1 - x, 1 - y
	}
	return x, y
}

// MapperConfig holds the display parameters of an overlay
type MapperConfig struct {
	Fit        FitMode  `json:"fit" yaml:"fit"`
	Mirrored   bool     `json:"mirrored" yaml:"mirrored"`
	Rotation   Rotation `json:"rotation" yaml:"rotation"`
	PixelRatio float64  `json:"pixel_ratio" yaml:"pixel_ratio"`
}

// DefaultMapperConfig returns the front-camera defaults
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		Fit:        FitCover,
		Mirrored:   true,
		Rotation:   Rotate90CCW,
		PixelRatio: 1,
	}
}

// MappedPoint is a point in output device pixels
type MappedPoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
	Index   int     `json:"index"`
}

// edgeEpsilon absorbs float rounding for points exactly on the container edge
const edgeEpsilon = 1e-9

// Mapper maps normalized source points into a container
type Mapper struct {
	config     MapperConfig
	rect       DisplayRect
	containerW float64
	containerH float64
}

// NewMapper builds a Mapper for the given source and container sizes
func NewMapper(config MapperConfig, srcW, srcH, containerW, containerH float64) (*Mapper, error) {
	rect, err := ComputeDisplayRect(srcW, srcH, containerW, containerH, config.Fit)
	if err != nil {
		return nil, err
	}
	if config.PixelRatio <= 0 {
		config.PixelRatio = 1
	}
	return &Mapper{
		config:     config,
		rect:       rect,
		containerW: containerW,
		containerH: containerH,
	}, nil
}

// Rect returns the display rectangle used by the mapper
func (m *Mapper) Rect() DisplayRect {
	return m.rect
}

// MapPoint maps a normalized source point: rotation, then mirroring, then
// placement in the display rect, then device pixel scaling.
func (m *Mapper) MapPoint(x, y float64) MappedPoint {
	x, y = m.config.Rotation.Apply(x, y)
	if m.config.Mirrored {
		x = 1 - x
	}

	px := m.rect.X + x*m.rect.Width
	py := m.rect.Y + y*m.rect.Height

	visible := px >= -edgeEpsilon && px <= m.containerW+edgeEpsilon &&
		py >= -edgeEpsilon && py <= m.containerH+edgeEpsilon

	return MappedPoint{
		X:       px * m.config.PixelRatio,
		Y:       py * m.config.PixelRatio,
		Visible: visible,
		Index:   -1,
	}
}

// MapLandmarks maps every present landmark; absent entries are skipped
func (m *Mapper) MapLandmarks(set types.LandmarkSet) []MappedPoint {
	points := make([]MappedPoint, 0, len(set))
	for i, lm := range set {
		if lm == nil {
			continue
		}
		p := m.MapPoint(lm.X, lm.Y)
		p.Index = i
		points = append(points, p)
	}
	return points
}

// VisiblePoints filters out points that fall outside the container
func VisiblePoints(points []MappedPoint) []MappedPoint {
	out := make([]MappedPoint, 0, len(points))
	for _, p := range points {
		if p.Visible {
			out = append(out, p)
		}
	}
	return out
}
