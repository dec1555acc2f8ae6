package classifier

import (
	"math"
	"testing"

	"github.com/menta2k/body-analyzer/pkg/measurement"
	"github.com/menta2k/body-analyzer/pkg/types"
)

func TestClassifyShapes(t *testing.T) {
	tests := []struct {
		name    string
		widths  Widths
		want    types.BodyShape
		minConf float64
	}{
		{"hourglass", Widths{Shoulder: 1.0, Waist: 0.7, Hip: 1.0}, types.ShapeHourglass, 0.7},
		{"pear", Widths{Shoulder: 1.0, Waist: 1.0, Hip: 1.3}, types.ShapePear, 0.7},
		{"inverted triangle", Widths{Shoulder: 1.3, Waist: 1.0, Hip: 1.0}, types.ShapeInvertedTriangle, 0.7},
		{"rectangle", Widths{Shoulder: 1.0, Waist: 1.0, Hip: 1.0}, types.ShapeRectangle, 0.95},
		{"apple", Widths{Shoulder: 1.0, Waist: 1.6, Hip: 0.9}, types.ShapeApple, 0.7},
		{"unknown", Widths{Shoulder: 2.0, Waist: 1.9, Hip: 1.0}, types.ShapeUnknown, 0.5},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.widths)
			if result.Shape != tt.want {
				t.Errorf("Expected %s, got %s (candidates %+v)", tt.want, result.Shape, result.Candidates)
			}
			if result.Confidence < tt.minConf {
				t.Errorf("Expected confidence >= %f, got %f", tt.minConf, result.Confidence)
			}
			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Confidence out of range: %f", result.Confidence)
			}
		})
	}
}

// Widths built on 20 keep the ratios exact in float64: 1/20 == 0.05,
// 17/20 == 0.85, 15/20 == 0.75 and 21/20 == 1.05.
func TestClassifyThresholdEdges(t *testing.T) {
	tests := []struct {
		name   string
		widths Widths
		want   types.BodyShape
	}{
		// HOURGLASS: shoulder/hip difference <= 5% and waist reduction >= 25%
		{"hourglass at both limits", Widths{Shoulder: 20, Waist: 14.25, Hip: 19}, types.ShapeHourglass},
		{"hourglass at reduction limit", Widths{Shoulder: 20, Waist: 15, Hip: 20}, types.ShapeHourglass},
		{"hourglass reduction just short", Widths{Shoulder: 20, Waist: 15.2, Hip: 20}, types.ShapeUnknown},
		{"hourglass difference just over", Widths{Shoulder: 20, Waist: 14.25, Hip: 18.9}, types.ShapeInvertedTriangle},

		// PEAR: hips exceed shoulders by >= 5% and waist/hip <= 0.85
		{"pear at both limits", Widths{Shoulder: 19, Waist: 17, Hip: 20}, types.ShapePear},
		{"pear waist/hip just over", Widths{Shoulder: 19, Waist: 17.2, Hip: 20}, types.ShapeUnknown},
		{"pear hip excess just short", Widths{Shoulder: 19.1, Waist: 17, Hip: 20}, types.ShapeUnknown},

		// INVERTED_TRIANGLE: shoulders exceed hips by >= 5% and waist/shoulder <= 0.85
		{"inverted triangle at both limits", Widths{Shoulder: 20, Waist: 17, Hip: 19}, types.ShapeInvertedTriangle},
		{"inverted triangle waist just over", Widths{Shoulder: 20, Waist: 17.2, Hip: 19}, types.ShapeUnknown},

		// RECTANGLE: standard deviation within 5% of the mean
		{"rectangle spread 4.9%", Widths{Shoulder: 1.06, Waist: 1, Hip: 0.94}, types.ShapeRectangle},
		{"rectangle spread 5.1%", Widths{Shoulder: 1.0625, Waist: 1, Hip: 0.9375}, types.ShapeUnknown},

		// APPLE: waist >= shoulder and waist >= hip by 5%
		{"apple realistic", Widths{Shoulder: 1, Waist: 1.15, Hip: 1}, types.ShapeApple},
		{"apple wide waist", Widths{Shoulder: 1, Waist: 1.5, Hip: 1}, types.ShapeApple},
		{"apple at dominance limit", Widths{Shoulder: 18, Waist: 21, Hip: 20}, types.ShapeApple},
		{"apple dominance just short", Widths{Shoulder: 18, Waist: 20.9, Hip: 20}, types.ShapeUnknown},
		{"small waist bulge stays rectangle", Widths{Shoulder: 20, Waist: 21, Hip: 20}, types.ShapeRectangle},
		{"apple waist below shoulder", Widths{Shoulder: 1.2, Waist: 1.15, Hip: 1}, types.ShapeUnknown},

		// A narrow or only slightly wide waist is not RECTANGLE
		{"narrow waist", Widths{Shoulder: 1, Waist: 0.8, Hip: 1}, types.ShapeUnknown},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.widths)
			if result.Shape != tt.want {
				t.Errorf("Expected %s, got %s (candidates %+v)", tt.want, result.Shape, result.Candidates)
			}
		})
	}
}

func TestRelativeSpread(t *testing.T) {
	if got := relativeSpread(Widths{Shoulder: 1, Waist: 1, Hip: 1}); got != 0 {
		t.Errorf("Expected zero spread for equal widths, got %f", got)
	}
	// 1.5, 1, 0.5: population stddev sqrt(1/6) over mean 1
	want := math.Sqrt(1.0 / 6)
	if got := relativeSpread(Widths{Shoulder: 1.5, Waist: 1, Hip: 0.5}); math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected spread %f, got %f", want, got)
	}
	// Unit free
	a := relativeSpread(Widths{Shoulder: 1.0, Waist: 0.9, Hip: 1.1})
	b := relativeSpread(Widths{Shoulder: 100, Waist: 90, Hip: 110})
	if math.Abs(a-b) > 1e-12 {
		t.Errorf("Expected same spread in any unit, got %f and %f", a, b)
	}
}

func TestUnknownConfidence(t *testing.T) {
	result := New().Classify(Widths{Shoulder: 2.0, Waist: 1.9, Hip: 1.0})
	if result.Shape != types.ShapeUnknown || result.Confidence != 0.5 {
		t.Errorf("Expected UNKNOWN with confidence 0.5, got %s %f", result.Shape, result.Confidence)
	}
}

func TestClassifyIsPure(t *testing.T) {
	c := New()
	w := Widths{Shoulder: 0.93, Waist: 0.71, Hip: 1.02}
	first := c.Classify(w)
	for i := 0; i < 50; i++ {
		got := c.Classify(w)
		if got.Shape != first.Shape || got.Confidence != first.Confidence {
			t.Fatalf("Classification changed between calls: %s/%f vs %s/%f",
				first.Shape, first.Confidence, got.Shape, got.Confidence)
		}
	}
}

func TestEvaluateOrderAndBands(t *testing.T) {
	c := New()
	scores := c.Evaluate(Widths{Shoulder: 1.0, Waist: 0.8, Hip: 1.1})

	want := []types.BodyShape{
		types.ShapeHourglass, types.ShapePear, types.ShapeInvertedTriangle,
		types.ShapeRectangle, types.ShapeApple,
	}
	if len(scores) != len(want) {
		t.Fatalf("Expected %d rule scores, got %d", len(want), len(scores))
	}
	for i, rs := range scores {
		if rs.Shape != want[i] {
			t.Errorf("Rule %d: expected %s, got %s", i, want[i], rs.Shape)
		}
		if rs.Passed && rs.Confidence < 0.75 {
			t.Errorf("%s passed with confidence %f below 0.75", rs.Shape, rs.Confidence)
		}
		if !rs.Passed && rs.Confidence >= 0.7 {
			t.Errorf("%s failed with confidence %f at or above 0.7", rs.Shape, rs.Confidence)
		}
	}
}

func TestDecisionOrderTieBreak(t *testing.T) {
	// Loose thresholds let both HOURGLASS and RECTANGLE pass; the earlier
	// rule wins
	th := DefaultThresholds()
	th.WaistReduction = 0.05
	th.MeasurementVariance = 0.5
	c := NewWithConfig(th)

	result := c.Classify(Widths{Shoulder: 1.0, Waist: 0.9, Hip: 1.0})
	if result.Shape != types.ShapeHourglass {
		t.Errorf("Expected HOURGLASS to win the tie-break, got %s", result.Shape)
	}
	passed := 0
	for _, rs := range result.Candidates {
		if rs.Passed {
			passed++
		}
	}
	if passed < 2 {
		t.Errorf("Expected at least two passing rules, got %d", passed)
	}
}

func TestClassifyInvalidWidths(t *testing.T) {
	c := New()
	for _, w := range []Widths{
		{Shoulder: 0, Waist: 1, Hip: 1},
		{Shoulder: 1, Waist: -1, Hip: 1},
		{Shoulder: 1, Waist: 1, Hip: math.NaN()},
		{Shoulder: math.Inf(1), Waist: 1, Hip: 1},
	} {
		result := c.Classify(w)
		if result.Shape != types.ShapeUnknown {
			t.Errorf("Expected UNKNOWN for %+v, got %s", w, result.Shape)
		}
		if math.IsNaN(result.Confidence) {
			t.Errorf("Confidence must not be NaN for %+v", w)
		}
	}
}

func TestClassifyMeasurements(t *testing.T) {
	c := New()
	m := types.BodyMeasurements{
		ShoulderWidth:      1.0,
		WaistCircumference: 0.7 * math.Pi,
		HipWidth:           1.0,
		Height:             3,
	}

	result := c.ClassifyMeasurements(m)
	if result.Shape != types.ShapeHourglass {
		t.Errorf("Expected HOURGLASS, got %s", result.Shape)
	}
	if result.Source != types.SourceLandmarks {
		t.Errorf("Expected landmarks source, got %s", result.Source)
	}
	if result.Measurements != m {
		t.Errorf("Expected measurements to be carried, got %+v", result.Measurements)
	}
	if result.Ratios.ShoulderToHip != 1 {
		t.Errorf("Expected shoulder-to-hip ratio 1, got %f", result.Ratios.ShoulderToHip)
	}

	// The landmark estimate interpolates between shoulders and hips, so
	// equal widths land on RECTANGLE
	est := types.BodyMeasurements{
		ShoulderWidth:      1,
		HipWidth:           1,
		WaistCircumference: measurement.EstimateWaistCircumference(1, 1),
		Height:             3,
	}
	if got := c.ClassifyMeasurements(est).Shape; got != types.ShapeRectangle {
		t.Errorf("Expected RECTANGLE for estimated waist, got %s", got)
	}
}

func TestClassifySilhouette(t *testing.T) {
	c := New()
	sw := types.SilhouetteWidths{
		Shoulder: types.WidthMeasurement{Width: 100, Level: types.LevelShoulder, Confidence: 0.9},
		Waist:    types.WidthMeasurement{Width: 70, Level: types.LevelWaist, Confidence: 0.9},
		Hip:      types.WidthMeasurement{Width: 102, Level: types.LevelHip, Confidence: 0.9},
	}

	result := c.ClassifySilhouette(sw)
	if result.Shape != types.ShapeHourglass {
		t.Errorf("Expected HOURGLASS, got %s", result.Shape)
	}
	if result.Source != types.SourceSilhouette {
		t.Errorf("Expected silhouette source, got %s", result.Source)
	}
	if result.Silhouette == nil || result.SilhouetteRatios == nil {
		t.Fatal("Expected silhouette widths and ratios on the result")
	}
	if math.Abs(result.SilhouetteRatios.WHR-70.0/102) > 1e-9 {
		t.Errorf("Expected WHR %f, got %f", 70.0/102, result.SilhouetteRatios.WHR)
	}
}

func TestOverrideKeepsComputedShape(t *testing.T) {
	result := New().Classify(Widths{Shoulder: 1.0, Waist: 0.7, Hip: 1.0})
	overridden := result.WithOverride(types.ShapePear)

	if overridden.Shape != result.Shape || overridden.Confidence != result.Confidence {
		t.Errorf("Override must not alter the computed shape: %s/%f", overridden.Shape, overridden.Confidence)
	}
	if overridden.EffectiveShape() != types.ShapePear {
		t.Errorf("Expected effective shape PEAR, got %s", overridden.EffectiveShape())
	}
	if result.Override != nil {
		t.Error("Original result must be unchanged")
	}
}

func BenchmarkClassify(b *testing.B) {
	c := New()
	w := Widths{Shoulder: 1.0, Waist: 0.75, Hip: 1.05}
	for i := 0; i < b.N; i++ {
		c.Classify(w)
	}
}
