package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BodyShape is a classification label
type BodyShape int

const (
	ShapeUnknown BodyShape = iota
	ShapeHourglass
	ShapePear
	ShapeInvertedTriangle
	ShapeRectangle
	ShapeApple
)

var shapeNames = map[BodyShape]string{
	ShapeUnknown:          "UNKNOWN",
	ShapeHourglass:        "HOURGLASS",
	ShapePear:             "PEAR",
	ShapeInvertedTriangle: "INVERTED_TRIANGLE",
	ShapeRectangle:        "RECTANGLE",
	ShapeApple:            "APPLE",
}

func (s BodyShape) String() string {
	if n, ok := shapeNames[s]; ok {
		return n
	}
	return shapeNames[ShapeUnknown]
}

// ParseBodyShape parses a shape label, case-insensitively
func ParseBodyShape(s string) (BodyShape, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	norm = strings.ReplaceAll(norm, " ", "_")
	for shape, name := range shapeNames {
		if name == norm {
			return shape, nil
		}
	}
	return ShapeUnknown, fmt.Errorf("unknown body shape: %q", s)
}

func (s BodyShape) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *BodyShape) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseBodyShape(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s BodyShape) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// RuleScore is the continuous confidence of a single shape rule
type RuleScore struct {
	Shape      BodyShape `json:"shape" yaml:"shape"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Passed     bool      `json:"passed" yaml:"passed"`
}

// Source identifies which measurement path produced a classification
type Source string

const (
	SourceLandmarks  Source = "landmarks"
	SourceSilhouette Source = "silhouette"
	SourceManual     Source = "manual"
)

// Override is a user-supplied shape recorded next to the computed one
type Override struct {
	Shape     BodyShape `json:"shape" yaml:"shape"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// BodyShapeResult is the read-only outcome of one classification
type BodyShapeResult struct {
	Shape            BodyShape         `json:"shape" yaml:"shape"`
	Confidence       float64           `json:"confidence" yaml:"confidence"`
	Source           Source            `json:"source" yaml:"source"`
	Ratios           BodyRatios        `json:"ratios" yaml:"ratios"`
	Measurements     BodyMeasurements  `json:"measurements" yaml:"measurements"`
	Silhouette       *SilhouetteWidths `json:"silhouette,omitempty" yaml:"silhouette,omitempty"`
	SilhouetteRatios *SilhouetteRatios `json:"silhouette_ratios,omitempty" yaml:"silhouette_ratios,omitempty"`
	Quality          *QualityScore     `json:"quality,omitempty" yaml:"quality,omitempty"`
	Candidates       []RuleScore       `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Override         *Override         `json:"override,omitempty" yaml:"override,omitempty"`
	ClassifiedAt     time.Time         `json:"classified_at" yaml:"classified_at"`
}

// WithOverride returns a copy carrying a user override. Shape and
// Confidence stay as computed.
func (r BodyShapeResult) WithOverride(shape BodyShape) BodyShapeResult {
	r.Override = &Override{Shape: shape, Timestamp: time.Now()}
	return r
}

// EffectiveShape returns the override when present, else the computed shape
func (r BodyShapeResult) EffectiveShape() BodyShape {
	if r.Override != nil {
		return r.Override.Shape
	}
	return r.Shape
}
