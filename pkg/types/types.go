package types

import (
	"image"
	"time"
)

// Keypoint indices of the 17-entry COCO pose layout. The index table is
// fixed for the lifetime of the pipeline.
const (
	Nose          = 0
	LeftEye       = 1
	RightEye      = 2
	LeftEar       = 3
	RightEar      = 4
	LeftShoulder  = 5
	RightShoulder = 6
	LeftElbow     = 7
	RightElbow    = 8
	LeftWrist     = 9
	RightWrist    = 10
	LeftHip       = 11
	RightHip      = 12
	LeftKnee      = 13
	RightKnee     = 14
	LeftAnkle     = 15
	RightAnkle    = 16
	NumKeypoints  = 17
)

// KeypointNames maps keypoint indices to their canonical names
var KeypointNames = [NumKeypoints]string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

// KeyLandmarks is the subset used for confidence and stability scoring
var KeyLandmarks = []int{LeftShoulder, RightShoulder, LeftHip, RightHip, LeftAnkle, RightAnkle}

// IndexOf returns the keypoint index for a canonical name, or -1
func IndexOf(name string) int {
	for i, n := range KeypointNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Landmark is a single anatomical keypoint with coordinates normalized to [0,1]
type Landmark struct {
	X     float64  `json:"x" yaml:"x"`
	Y     float64  `json:"y" yaml:"y"`
	Z     *float64 `json:"z,omitempty" yaml:"z,omitempty"`
	Score float64  `json:"score" yaml:"score"`
	Name  string   `json:"name" yaml:"name"`
}

// LandmarkSet is an ordered set of landmarks indexed by the keypoint table.
// A nil entry means the detector did not supply that keypoint.
type LandmarkSet []*Landmark

// NewLandmarkSet returns an empty set with room for every keypoint
func NewLandmarkSet() LandmarkSet {
	return make(LandmarkSet, NumKeypoints)
}

// Get returns the landmark at index i and whether it is present
func (s LandmarkSet) Get(i int) (Landmark, bool) {
	if i < 0 || i >= len(s) || s[i] == nil {
		return Landmark{}, false
	}
	return *s[i], true
}

// Has reports whether the landmark at index i is present
func (s LandmarkSet) Has(i int) bool {
	_, ok := s.Get(i)
	return ok
}

// Set stores a landmark at index i, growing the set when needed
func (s *LandmarkSet) Set(i int, lm Landmark) {
	if i < 0 {
		return
	}
	for len(*s) <= i {
		*s = append(*s, nil)
	}
	if lm.Name == "" && i < NumKeypoints {
		lm.Name = KeypointNames[i]
	}
	(*s)[i] = &lm
}

// Count returns the number of present landmarks
func (s LandmarkSet) Count() int {
	n := 0
	for _, lm := range s {
		if lm != nil {
			n++
		}
	}
	return n
}

// Empty reports whether no landmark is present
func (s LandmarkSet) Empty() bool {
	return s.Count() == 0
}

// Clone returns a deep copy of the set
func (s LandmarkSet) Clone() LandmarkSet {
	if s == nil {
		return nil
	}
	out := make(LandmarkSet, len(s))
	for i, lm := range s {
		if lm == nil {
			continue
		}
		c := *lm
		if lm.Z != nil {
			z := *lm.Z
			c.Z = &z
		}
		out[i] = &c
	}
	return out
}

// QualityScore is the per-cycle quality record. Overall also folds in
// frontality, which is only exposed through QualityBreakdown.
type QualityScore struct {
	Overall   float64 `json:"overall" yaml:"overall"`
	Landmarks float64 `json:"landmarks" yaml:"landmarks"`
	Stability float64 `json:"stability" yaml:"stability"`
	Lighting  float64 `json:"lighting" yaml:"lighting"`
	Framing   float64 `json:"framing" yaml:"framing"`
}

// QualityBreakdown extends QualityScore with the frontality sub-score
type QualityBreakdown struct {
	QualityScore `yaml:",inline"`
	Frontality   float64 `json:"frontality" yaml:"frontality"`
}

// BodyMeasurements holds lengths in one consistent unit. After
// normalization Height is 1 and Normalized is true.
type BodyMeasurements struct {
	ShoulderWidth      float64 `json:"shoulder_width" yaml:"shoulder_width"`
	WaistCircumference float64 `json:"waist_circumference" yaml:"waist_circumference"`
	HipWidth           float64 `json:"hip_width" yaml:"hip_width"`
	Height             float64 `json:"height" yaml:"height"`
	Normalized         bool    `json:"normalized" yaml:"normalized"`
}

// BodyRatios are dimensionless ratios derived from BodyMeasurements
type BodyRatios struct {
	ShoulderToHip   float64 `json:"shoulder_to_hip" yaml:"shoulder_to_hip"`
	WaistToHip      float64 `json:"waist_to_hip" yaml:"waist_to_hip"`
	ShoulderToWaist float64 `json:"shoulder_to_waist" yaml:"shoulder_to_waist"`
}

// AnatomicalLevels are normalized Y coordinates of the reference heights
type AnatomicalLevels struct {
	ShoulderY float64 `json:"shoulder_y" yaml:"shoulder_y"`
	BustY     float64 `json:"bust_y" yaml:"bust_y"`
	WaistY    float64 `json:"waist_y" yaml:"waist_y"`
	HipY      float64 `json:"hip_y" yaml:"hip_y"`
}

// Level names an anatomical level
type Level string

const (
	LevelShoulder Level = "shoulder"
	LevelBust     Level = "bust"
	LevelWaist    Level = "waist"
	LevelHip      Level = "hip"
)

// Y returns the normalized Y of the given level
func (l AnatomicalLevels) Y(level Level) float64 {
	switch level {
	case LevelShoulder:
		return l.ShoulderY
	case LevelBust:
		return l.BustY
	case LevelWaist:
		return l.WaistY
	case LevelHip:
		return l.HipY
	}
	return 0
}

// WidthMeasurement is a band-scan result at one anatomical level, in pixels
type WidthMeasurement struct {
	LeftEdge   float64 `json:"left_edge" yaml:"left_edge"`
	RightEdge  float64 `json:"right_edge" yaml:"right_edge"`
	Width      float64 `json:"width" yaml:"width"`
	CenterX    float64 `json:"center_x" yaml:"center_x"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Level      Level   `json:"level" yaml:"level"`
	Row        int     `json:"row" yaml:"row"`
	ValidRows  int     `json:"valid_rows" yaml:"valid_rows"`
}

// SilhouetteWidths aggregates the level measurements of one capture
type SilhouetteWidths struct {
	Shoulder    WidthMeasurement  `json:"shoulder" yaml:"shoulder"`
	Waist       WidthMeasurement  `json:"waist" yaml:"waist"`
	Hip         WidthMeasurement  `json:"hip" yaml:"hip"`
	Bust        *WidthMeasurement `json:"bust,omitempty" yaml:"bust,omitempty"`
	Levels      AnatomicalLevels  `json:"levels" yaml:"levels"`
	FrameWidth  int               `json:"frame_width" yaml:"frame_width"`
	FrameHeight int               `json:"frame_height" yaml:"frame_height"`
}

// Confidence is the mean confidence of the measured levels
func (w SilhouetteWidths) Confidence() float64 {
	sum := w.Shoulder.Confidence + w.Waist.Confidence + w.Hip.Confidence
	n := 3.0
	if w.Bust != nil {
		sum += w.Bust.Confidence
		n++
	}
	return sum / n
}

// SilhouetteRatios are ratios of silhouette widths
type SilhouetteRatios struct {
	WHR            float64  `json:"whr" yaml:"whr"`
	WSR            float64  `json:"wsr" yaml:"wsr"`
	SHR            float64  `json:"shr" yaml:"shr"`
	BWR            *float64 `json:"bwr,omitempty" yaml:"bwr,omitempty"`
	WaistCurvature float64  `json:"waist_curvature" yaml:"waist_curvature"`
}

// Frame is a single raster from the capture device
type Frame struct {
	Image     image.Image `json:"-" yaml:"-"`
	Source    string      `json:"source,omitempty" yaml:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Capture is a frozen frame together with the landmarks and quality
// observed at freeze time
type Capture struct {
	Frame     Frame         `json:"frame" yaml:"frame"`
	Landmarks LandmarkSet   `json:"landmarks" yaml:"landmarks"`
	Quality   *QualityScore `json:"quality,omitempty" yaml:"quality,omitempty"`
	IsAuto    bool          `json:"is_auto" yaml:"is_auto"`
}
