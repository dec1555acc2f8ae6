package quality

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/body-analyzer/pkg/types"
)

// Thresholds holds the tunable constants of the quality scorer
type Thresholds struct {
	MinLandmarkConfidence float64 `json:"min_landmark_confidence" yaml:"min_landmark_confidence"`
	LowConfidencePenalty  float64 `json:"low_confidence_penalty" yaml:"low_confidence_penalty"`
	FrameFillMin          float64 `json:"frame_fill_min" yaml:"frame_fill_min"`
	FrameFillMax          float64 `json:"frame_fill_max" yaml:"frame_fill_max"`
	FramingMinScore       float64 `json:"framing_min_score" yaml:"framing_min_score"`
	HistorySize           int     `json:"history_size" yaml:"history_size"`
	MinStabilityHistory   int     `json:"min_stability_history" yaml:"min_stability_history"`
	NeutralStability      float64 `json:"neutral_stability" yaml:"neutral_stability"`
	VarianceScale         float64 `json:"variance_scale" yaml:"variance_scale"`
	LightingStride        int     `json:"lighting_stride" yaml:"lighting_stride"`
	DefaultLighting       float64 `json:"default_lighting" yaml:"default_lighting"`
	ContrastPlaceholder   float64 `json:"contrast_placeholder" yaml:"contrast_placeholder"`
	FrontalAngle          float64 `json:"frontal_angle" yaml:"frontal_angle"`
	PartialAngle          float64 `json:"partial_angle" yaml:"partial_angle"`
}

// Weights combines the sub-scores into the overall score
type Weights struct {
	Landmarks  float64 `json:"landmarks" yaml:"landmarks"`
	Stability  float64 `json:"stability" yaml:"stability"`
	Lighting   float64 `json:"lighting" yaml:"lighting"`
	Framing    float64 `json:"framing" yaml:"framing"`
	Frontality float64 `json:"frontality" yaml:"frontality"`
}

// DefaultThresholds returns the production thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLandmarkConfidence: 0.7,
		LowConfidencePenalty:  0.5,
		FrameFillMin:          0.4,
		FrameFillMax:          0.8,
		FramingMinScore:       0.3,
		HistorySize:           10,
		MinStabilityHistory:   3,
		NeutralStability:      0.5,
		VarianceScale:         100,
		LightingStride:        10,
		DefaultLighting:       0.7,
		ContrastPlaceholder:   0.8,
		FrontalAngle:          15,
		PartialAngle:          45,
	}
}

// DefaultWeights returns the fixed overall weighting
func DefaultWeights() Weights {
	return Weights{
		Landmarks:  0.4,
		Stability:  0.2,
		Lighting:   0.2,
		Framing:    0.1,
		Frontality: 0.1,
	}
}

// Scorer turns per-frame landmarks into a quality score. It keeps a
// rolling history and must not be shared between sessions.
type Scorer struct {
	thresholds Thresholds
	weights    Weights
	history    []types.LandmarkSet
}

// New creates a Scorer with default thresholds
func New() *Scorer {
	return NewWithConfig(DefaultThresholds(), DefaultWeights())
}

// NewWithConfig creates a Scorer with custom thresholds and weights
func NewWithConfig(thresholds Thresholds, weights Weights) *Scorer {
	if thresholds.HistorySize <= 0 {
		thresholds.HistorySize = 10
	}
	return &Scorer{
		thresholds: thresholds,
		weights:    weights,
	}
}

// Score records the landmark set in the history and scores it. img may be
// nil, in which case lighting falls back to its default.
func (s *Scorer) Score(set types.LandmarkSet, img image.Image) types.QualityScore {
	return s.ScoreDetailed(set, img).QualityScore
}

// ScoreDetailed is Score with the frontality sub-score exposed
func (s *Scorer) ScoreDetailed(set types.LandmarkSet, img image.Image) types.QualityBreakdown {
	s.push(set)

	b := types.QualityBreakdown{
		QualityScore: types.QualityScore{
			Landmarks: s.landmarkScore(set),
			Stability: s.stabilityScore(),
			Lighting:  s.lightingScore(img),
			Framing:   s.framingScore(set),
		},
		Frontality: s.frontalityScore(set),
	}
	b.Overall = s.Overall(b)
	return b
}

// Overall combines a breakdown with the configured weights
func (s *Scorer) Overall(b types.QualityBreakdown) float64 {
	overall := s.weights.Landmarks*b.Landmarks +
		s.weights.Stability*b.Stability +
		s.weights.Lighting*b.Lighting +
		s.weights.Framing*b.Framing +
		s.weights.Frontality*b.Frontality
	return clamp01(overall)
}

// Reset clears the rolling history
func (s *Scorer) Reset() {
	s.history = nil
}

// HistoryLen returns the number of sets in the rolling history
func (s *Scorer) HistoryLen() int {
	return len(s.history)
}

func (s *Scorer) push(set types.LandmarkSet) {
	s.history = append(s.history, set.Clone())
	if over := len(s.history) - s.thresholds.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Scorer) landmarkScore(set types.LandmarkSet) float64 {
	var sum float64
	penalize := false
	for _, idx := range types.KeyLandmarks {
		lm, ok := set.Get(idx)
		score := 0.0
		if ok {
			score = clamp01(lm.Score)
		}
		if score < s.thresholds.MinLandmarkConfidence {
			penalize = true
		}
		sum += score
	}

	avg := sum / float64(len(types.KeyLandmarks))
	if penalize {
		avg *= s.thresholds.LowConfidencePenalty
	}
	return clamp01(avg)
}

// stabilityScore returns the neutral default until enough history exists
func (s *Scorer) stabilityScore() float64 {
	if len(s.history) < s.thresholds.MinStabilityHistory {
		return s.thresholds.NeutralStability
	}

	var total float64
	for _, idx := range types.KeyLandmarks {
		xs := make([]float64, 0, len(s.history))
		ys := make([]float64, 0, len(s.history))
		for _, set := range s.history {
			lm, ok := set.Get(idx)
			if !ok {
				break
			}
			xs = append(xs, lm.X)
			ys = append(ys, lm.Y)
		}
		if len(xs) != len(s.history) {
			// Missing in some frame: treat as zero confidence
			continue
		}
		variance := stat.PopVariance(xs, nil) + stat.PopVariance(ys, nil)
		total += math.Max(0, 1-variance*s.thresholds.VarianceScale)
	}

	return clamp01(total / float64(len(types.KeyLandmarks)))
}

func (s *Scorer) lightingScore(img image.Image) float64 {
	if img == nil {
		return s.thresholds.DefaultLighting
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return s.thresholds.DefaultLighting
	}

	stride := s.thresholds.LightingStride
	if stride < 1 {
		stride = 1
	}

	var sum float64
	count := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stride {
		for x := bounds.Min.X; x < bounds.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			// 16-bit channels down to 8-bit luminance
			sum += (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			count++
		}
	}
	if count == 0 {
		return s.thresholds.DefaultLighting
	}

	avg := sum / float64(count)
	brightness := 1 - 2*math.Abs(avg/255-0.5)
	return clamp01(0.7*brightness + 0.3*s.thresholds.ContrastPlaceholder)
}

func (s *Scorer) framingScore(set types.LandmarkSet) float64 {
	minY, maxY := math.Inf(1), math.Inf(-1)
	found := false
	for _, lm := range set {
		if lm == nil || lm.Score <= s.thresholds.FramingMinScore {
			continue
		}
		minY = math.Min(minY, lm.Y)
		maxY = math.Max(maxY, lm.Y)
		found = true
	}
	if !found {
		return 0
	}

	fill := maxY - minY
	switch {
	case fill <= 0:
		return 0
	case fill < s.thresholds.FrameFillMin:
		return clamp01(fill / s.thresholds.FrameFillMin)
	case fill > s.thresholds.FrameFillMax:
		return clamp01(s.thresholds.FrameFillMax / fill)
	}
	return 1
}

func (s *Scorer) frontalityScore(set types.LandmarkSet) float64 {
	ls, ok1 := set.Get(types.LeftShoulder)
	rs, ok2 := set.Get(types.RightShoulder)
	lh, ok3 := set.Get(types.LeftHip)
	rh, ok4 := set.Get(types.RightHip)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0
	}

	shoulderAngle := math.Atan2(rs.Y-ls.Y, rs.X-ls.X) * 180 / math.Pi
	hipAngle := math.Atan2(rh.Y-lh.Y, rh.X-lh.X) * 180 / math.Pi

	diff := math.Mod(math.Abs(shoulderAngle-hipAngle), 360)
	if diff > 180 {
		diff = 360 - diff
	}

	switch {
	case diff < s.thresholds.FrontalAngle:
		return 1
	case diff < s.thresholds.PartialAngle:
		return 0.7
	}
	return 0.3
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
