// Package classifier assigns a body shape label to shoulder, waist and hip
// widths using fixed threshold rules.
package classifier

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/body-analyzer/pkg/measurement"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// Thresholds holds the rule thresholds. Differences and reductions are
// fractions, not percentages. MeasurementVariance bounds the widths'
// standard deviation relative to their mean.
type Thresholds struct {
	ShoulderHipDiff     float64 `json:"shoulder_hip_diff" yaml:"shoulder_hip_diff"`
	HipShoulderDiff     float64 `json:"hip_shoulder_diff" yaml:"hip_shoulder_diff"`
	WaistReduction      float64 `json:"waist_reduction" yaml:"waist_reduction"`
	WaistHipRatio       float64 `json:"waist_hip_ratio" yaml:"waist_hip_ratio"`
	ShoulderWaistRatio  float64 `json:"shoulder_waist_ratio" yaml:"shoulder_waist_ratio"`
	MeasurementVariance float64 `json:"measurement_variance" yaml:"measurement_variance"`
	WaistDominance      float64 `json:"waist_dominance" yaml:"waist_dominance"`
	DecisionConfidence  float64 `json:"decision_confidence" yaml:"decision_confidence"`
	UnknownConfidence   float64 `json:"unknown_confidence" yaml:"unknown_confidence"`
}

// DefaultThresholds returns the default classification thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShoulderHipDiff:     0.05,
		HipShoulderDiff:     0.05,
		WaistReduction:      0.25,
		WaistHipRatio:       0.85,
		ShoulderWaistRatio:  0.85,
		MeasurementVariance: 0.05,
		WaistDominance:      0.05,
		DecisionConfidence:  0.7,
		UnknownConfidence:   0.5,
	}
}

// Confidence bands. A passing rule scores in [passFloor, 1], a failing rule
// in [0, failCeiling).
const (
	passFloor   = 0.75
	failCeiling = 0.7
)

// Widths are the three widths every rule works on, in any consistent unit
type Widths struct {
	Shoulder float64 `json:"shoulder" yaml:"shoulder"`
	Waist    float64 `json:"waist" yaml:"waist"`
	Hip      float64 `json:"hip" yaml:"hip"`
}

func (w Widths) valid() bool {
	for _, v := range []float64{w.Shoulder, w.Waist, w.Hip} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Classifier is stateless; the same widths always produce the same result
type Classifier struct {
	thresholds Thresholds
}

// New creates a Classifier with default thresholds
func New() *Classifier {
	return &Classifier{thresholds: DefaultThresholds()}
}

// NewWithConfig creates a Classifier with custom thresholds
func NewWithConfig(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Thresholds returns the thresholds in use
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// decisionOrder is the fixed tie-break order of the rules
var decisionOrder = []types.BodyShape{
	types.ShapeHourglass,
	types.ShapePear,
	types.ShapeInvertedTriangle,
	types.ShapeRectangle,
	types.ShapeApple,
}

// Evaluate scores every rule, in decision order
func (c *Classifier) Evaluate(w Widths) []types.RuleScore {
	scores := make([]types.RuleScore, 0, len(decisionOrder))
	for _, shape := range decisionOrder {
		if !w.valid() {
			scores = append(scores, types.RuleScore{Shape: shape})
			continue
		}
		scores = append(scores, c.rule(shape, w).score(shape))
	}
	return scores
}

// Classify returns the first rule in decision order whose confidence
// exceeds DecisionConfidence, or UNKNOWN. It never fails.
func (c *Classifier) Classify(w Widths) types.BodyShapeResult {
	candidates := c.Evaluate(w)
	result := types.BodyShapeResult{
		Shape:      types.ShapeUnknown,
		Confidence: c.thresholds.UnknownConfidence,
		Candidates: candidates,
	}
	for _, rs := range candidates {
		if rs.Confidence > c.thresholds.DecisionConfidence {
			result.Shape = rs.Shape
			result.Confidence = rs.Confidence
			break
		}
	}
	result.Confidence = clamp01(result.Confidence)
	return result
}

// ClassifyMeasurements classifies landmark-derived measurements. The waist
// circumference is converted back to a width first.
func (c *Classifier) ClassifyMeasurements(m types.BodyMeasurements) types.BodyShapeResult {
	result := c.Classify(Widths{
		Shoulder: m.ShoulderWidth,
		Waist:    measurement.WaistWidthEquivalent(m),
		Hip:      m.HipWidth,
	})
	result.Source = types.SourceLandmarks
	result.Measurements = m
	if ratios, err := measurement.New().CalculateRatios(m); err == nil {
		result.Ratios = ratios
	}
	return result
}

// ClassifySilhouette classifies band-scan widths
func (c *Classifier) ClassifySilhouette(sw types.SilhouetteWidths) types.BodyShapeResult {
	result := c.Classify(Widths{
		Shoulder: sw.Shoulder.Width,
		Waist:    sw.Waist.Width,
		Hip:      sw.Hip.Width,
	})
	result.Source = types.SourceSilhouette
	result.Silhouette = &sw
	if ratios, err := silhouette.CalculateRatios(sw); err == nil {
		result.SilhouetteRatios = &ratios
	}
	return result
}

// condition is one clause of a rule: sat is 1 when the clause holds and
// shrinks towards 0 the further it misses; margin is how comfortably a
// holding clause clears its threshold.
type condition struct {
	sat    float64
	margin float64
}

type rule []condition

func (r rule) score(shape types.BodyShape) types.RuleScore {
	passed := true
	var sats, margins float64
	for _, cond := range r {
		if cond.sat < 1 {
			passed = false
		}
		sats += cond.sat
		margins += cond.margin
	}
	n := float64(len(r))

	if passed {
		return types.RuleScore{
			Shape:      shape,
			Confidence: clamp01(passFloor + (1-passFloor)*margins/n),
			Passed:     true,
		}
	}
	return types.RuleScore{Shape: shape, Confidence: clamp01(failCeiling * sats / n)}
}

func (c *Classifier) rule(shape types.BodyShape, w Widths) rule {
	t := c.thresholds
	larger := math.Max(w.Shoulder, w.Hip)
	smaller := math.Min(w.Shoulder, w.Hip)

	switch shape {
	case types.ShapeHourglass:
		diff := math.Abs(w.Shoulder-w.Hip) / larger
		reduction := 1 - w.Waist/smaller
		return rule{atMost(diff, t.ShoulderHipDiff), atLeast(reduction, t.WaistReduction)}

	case types.ShapePear:
		hipExcess := (w.Hip - w.Shoulder) / larger
		return rule{atLeast(hipExcess, t.HipShoulderDiff), atMost(w.Waist/w.Hip, t.WaistHipRatio)}

	case types.ShapeInvertedTriangle:
		shoulderExcess := (w.Shoulder - w.Hip) / larger
		return rule{atLeast(shoulderExcess, t.ShoulderHipDiff), atMost(w.Waist/w.Shoulder, t.ShoulderWaistRatio)}

	case types.ShapeRectangle:
		return rule{atMost(relativeSpread(w), t.MeasurementVariance)}

	case types.ShapeApple:
		return rule{atLeast(w.Waist/w.Shoulder, 1), atLeast(w.Waist/w.Hip, 1+t.WaistDominance)}
	}
	return rule{{}}
}

// relativeSpread is the population standard deviation of the three widths
// over their mean. It does not depend on the unit, and 0.05 means the widths
// deviate from their mean by 5%.
func relativeSpread(w Widths) float64 {
	values := []float64{w.Shoulder, w.Waist, w.Hip}
	mean := stat.Mean(values, nil)
	if mean == 0 {
		return math.Inf(1)
	}
	return stat.PopStdDev(values, nil) / mean
}

func atMost(v, limit float64) condition {
	if math.IsNaN(v) {
		return condition{}
	}
	if v <= limit {
		if limit <= 0 {
			return condition{sat: 1, margin: 1}
		}
		return condition{sat: 1, margin: clamp01(1 - v/limit)}
	}
	if limit <= 0 || math.IsInf(v, 1) {
		return condition{}
	}
	return condition{sat: clamp01(limit / v)}
}

func atLeast(v, limit float64) condition {
	if math.IsNaN(v) {
		return condition{}
	}
	if v >= limit {
		if limit <= 0 {
			return condition{sat: 1, margin: 1}
		}
		return condition{sat: 1, margin: clamp01((v - limit) / limit)}
	}
	if limit <= 0 {
		return condition{}
	}
	return condition{sat: clamp01(math.Max(0, v) / limit)}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
