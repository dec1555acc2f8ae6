// Package measurement derives body widths, height and ratios directly from
// pose landmark positions.
package measurement

import (
	"fmt"
	"math"

	"github.com/menta2k/body-analyzer/pkg/types"
)

// Interpolation weights used to estimate the waist from shoulder and hip
// widths. There is no waist keypoint, so the waist circumference is a
// modelling estimate and is less precise than the measured widths.
const (
	WaistShoulderWeight = 0.7
	WaistHipWeight      = 0.3
)

// Calculator computes measurements from a landmark set. It is stateless.
type Calculator struct{}

// New creates a new Calculator
func New() *Calculator {
	return &Calculator{}
}

// Calculate derives shoulder width, hip width, estimated waist
// circumference and height in normalized image units
func (c *Calculator) Calculate(set types.LandmarkSet) (types.BodyMeasurements, error) {
	m, err := c.Widths(set)
	if err != nil {
		return types.BodyMeasurements{}, err
	}

	height, err := c.Height(set)
	if err != nil {
		return types.BodyMeasurements{}, err
	}
	m.Height = height
	return m, nil
}

// Widths derives the shoulder and hip widths and the estimated waist
// circumference. It needs only shoulders and hips; Height is left at 0.
func (c *Calculator) Widths(set types.LandmarkSet) (types.BodyMeasurements, error) {
	shoulderWidth, err := pairDistance(set, types.LeftShoulder, types.RightShoulder)
	if err != nil {
		return types.BodyMeasurements{}, fmt.Errorf("shoulder width: %w", err)
	}

	hipWidth, err := pairDistance(set, types.LeftHip, types.RightHip)
	if err != nil {
		return types.BodyMeasurements{}, fmt.Errorf("hip width: %w", err)
	}

	return types.BodyMeasurements{
		ShoulderWidth:      shoulderWidth,
		WaistCircumference: EstimateWaistCircumference(shoulderWidth, hipWidth),
		HipWidth:           hipWidth,
	}, nil
}

// EstimateWaistCircumference interpolates a waist width between shoulder
// and hip and converts it to a circumference
func EstimateWaistCircumference(shoulderWidth, hipWidth float64) float64 {
	return (WaistShoulderWeight*shoulderWidth + WaistHipWeight*hipWidth) * math.Pi
}

// WaistWidthEquivalent converts the waist circumference back to a width so
// it can be compared with shoulder and hip widths
func WaistWidthEquivalent(m types.BodyMeasurements) float64 {
	return m.WaistCircumference / math.Pi
}

// Height is the vertical distance between the mean shoulder Y and the mean
// ankle Y
func (c *Calculator) Height(set types.LandmarkSet) (float64, error) {
	ls, ok1 := set.Get(types.LeftShoulder)
	rs, ok2 := set.Get(types.RightShoulder)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("height: shoulders: %w", types.ErrMissingLandmark)
	}
	la, ok3 := set.Get(types.LeftAnkle)
	ra, ok4 := set.Get(types.RightAnkle)
	if !ok3 || !ok4 {
		return 0, fmt.Errorf("height: ankles: %w", types.ErrMissingLandmark)
	}

	shoulderY := (ls.Y + rs.Y) / 2
	ankleY := (la.Y + ra.Y) / 2
	return math.Abs(ankleY - shoulderY), nil
}

// CalculateRatios derives the dimensionless ratios. A zero denominator
// fails with ErrDivisionByZero rather than producing Inf or NaN.
func (c *Calculator) CalculateRatios(m types.BodyMeasurements) (types.BodyRatios, error) {
	shoulderToHip, err := ratio(m.ShoulderWidth, m.HipWidth, "hip width")
	if err != nil {
		return types.BodyRatios{}, err
	}
	waistToHip, err := ratio(m.WaistCircumference, m.HipWidth, "hip width")
	if err != nil {
		return types.BodyRatios{}, err
	}
	shoulderToWaist, err := ratio(m.ShoulderWidth, m.WaistCircumference, "waist circumference")
	if err != nil {
		return types.BodyRatios{}, err
	}

	return types.BodyRatios{
		ShoulderToHip:   shoulderToHip,
		WaistToHip:      waistToHip,
		ShoulderToWaist: shoulderToWaist,
	}, nil
}

// Normalize divides every length by height so measurements from different
// sessions are scale invariant. Height becomes 1.
func (c *Calculator) Normalize(m types.BodyMeasurements) (types.BodyMeasurements, error) {
	if m.Normalized {
		return m, nil
	}
	if m.Height == 0 || math.IsNaN(m.Height) || math.IsInf(m.Height, 0) {
		return types.BodyMeasurements{}, fmt.Errorf("normalize by height: %w", types.ErrDivisionByZero)
	}

	return types.BodyMeasurements{
		ShoulderWidth:      m.ShoulderWidth / m.Height,
		WaistCircumference: m.WaistCircumference / m.Height,
		HipWidth:           m.HipWidth / m.Height,
		Height:             1,
		Normalized:         true,
	}, nil
}

// Compatible reports whether two measurements may be compared
func Compatible(a, b types.BodyMeasurements) bool {
	return a.Normalized == b.Normalized
}

func pairDistance(set types.LandmarkSet, left, right int) (float64, error) {
	l, ok := set.Get(left)
	if !ok {
		return 0, fmt.Errorf("%s: %w", types.KeypointNames[left], types.ErrMissingLandmark)
	}
	r, ok := set.Get(right)
	if !ok {
		return 0, fmt.Errorf("%s: %w", types.KeypointNames[right], types.ErrMissingLandmark)
	}
	return math.Hypot(l.X-r.X, l.Y-r.Y), nil
}

func ratio(num, den float64, name string) (float64, error) {
	if den == 0 {
		return 0, fmt.Errorf("%s is zero: %w", name, types.ErrDivisionByZero)
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%s ratio is not finite: %w", name, types.ErrDivisionByZero)
	}
	return r, nil
}
