// Package silhouette measures body widths from a person segmentation mask at
// anatomical levels inferred from pose landmarks.
package silhouette

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/body-analyzer/pkg/types"
)

// Config holds configuration for silhouette band measurement
type Config struct {
	BandHeight            int     `json:"band_height" yaml:"band_height"`
	ForegroundThreshold   uint8   `json:"foreground_threshold" yaml:"foreground_threshold"`
	MinValidRowFraction   float64 `json:"min_valid_row_fraction" yaml:"min_valid_row_fraction"`
	MinLandmarkConfidence float64 `json:"min_landmark_confidence" yaml:"min_landmark_confidence"`
	ConfidenceSpread      float64 `json:"confidence_spread" yaml:"confidence_spread"`
	WaistOffset           float64 `json:"waist_offset" yaml:"waist_offset"`
	BustOffset            float64 `json:"bust_offset" yaml:"bust_offset"`
	MeasureBust           bool    `json:"measure_bust" yaml:"measure_bust"`
}

// DefaultConfig returns the default band measurement configuration
func DefaultConfig() Config {
	return Config{
		BandHeight:            10,
		ForegroundThreshold:   128,
		MinValidRowFraction:   0.5,
		MinLandmarkConfidence: 0.5,
		ConfidenceSpread:      0.3,
		WaistOffset:           0.35,
		BustOffset:            0.18,
		MeasureBust:           true,
	}
}

// Measurer measures body width at anatomical levels of a segmentation mask.
// It is stateless.
type Measurer struct {
	config Config
}

// New creates a Measurer with default configuration
func New() *Measurer {
	return &Measurer{config: DefaultConfig()}
}

// NewWithConfig creates a Measurer with custom configuration
func NewWithConfig(config Config) *Measurer {
	return &Measurer{config: config}
}

// InferLevels derives the anatomical Y levels from shoulder and hip
// landmarks. Both pairs need confidence of at least MinLandmarkConfidence and
// the hips must lie below the shoulders.
func (m *Measurer) InferLevels(set types.LandmarkSet) (types.AnatomicalLevels, error) {
	shoulderY, err := m.pairY(set, types.LeftShoulder, types.RightShoulder)
	if err != nil {
		return types.AnatomicalLevels{}, err
	}
	hipY, err := m.pairY(set, types.LeftHip, types.RightHip)
	if err != nil {
		return types.AnatomicalLevels{}, err
	}

	torso := hipY - shoulderY
	if torso <= 0 {
		return types.AnatomicalLevels{}, fmt.Errorf("hips above shoulders (torso height %.3f): %w", torso, types.ErrInvalidPose)
	}

	return types.AnatomicalLevels{
		ShoulderY: shoulderY,
		BustY:     shoulderY + m.config.BustOffset*torso,
		WaistY:    hipY - m.config.WaistOffset*torso,
		HipY:      hipY,
	}, nil
}

func (m *Measurer) pairY(set types.LandmarkSet, left, right int) (float64, error) {
	l, ok1 := set.Get(left)
	r, ok2 := set.Get(right)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%s/%s missing: %w", types.KeypointNames[left], types.KeypointNames[right], types.ErrInvalidPose)
	}
	if l.Score < m.config.MinLandmarkConfidence || r.Score < m.config.MinLandmarkConfidence {
		return 0, fmt.Errorf("%s/%s below confidence %.2f: %w",
			types.KeypointNames[left], types.KeypointNames[right], m.config.MinLandmarkConfidence, types.ErrInvalidPose)
	}
	return (l.Y + r.Y) / 2, nil
}

// rowScan is the edge pair found on one mask row
type rowScan struct {
	left, right float64
}

// MeasureWidthAtLevel scans a band of rows around the normalized Y level and
// returns the median width. When fewer than MinValidRowFraction of the band
// rows contain foreground on both sides, it fails with
// ErrInsufficientSamples; callers must omit the level.
func (m *Measurer) MeasureWidthAtLevel(mask *Mask, levelY float64, level types.Level) (types.WidthMeasurement, error) {
	if mask == nil || mask.Width == 0 || mask.Height == 0 {
		return types.WidthMeasurement{}, fmt.Errorf("%s: empty mask: %w", level, types.ErrInsufficientSamples)
	}

	row := int(math.Round(levelY * float64(mask.Height)))
	band := m.config.BandHeight
	if band < 0 {
		band = 0
	}

	totalRows := 2*band + 1
	scans := make([]rowScan, 0, totalRows)
	for y := row - band; y <= row+band; y++ {
		if y < 0 || y >= mask.Height {
			continue
		}
		if scan, ok := m.scanRow(mask, y); ok {
			scans = append(scans, scan)
		}
	}

	if float64(len(scans)) < m.config.MinValidRowFraction*float64(totalRows) || len(scans) == 0 {
		return types.WidthMeasurement{}, fmt.Errorf("%s: %d of %d rows valid: %w",
			level, len(scans), totalRows, types.ErrInsufficientSamples)
	}

	widths := make([]float64, len(scans))
	lefts := make([]float64, len(scans))
	rights := make([]float64, len(scans))
	for i, s := range scans {
		widths[i] = s.right - s.left
		lefts[i] = s.left
		rights[i] = s.right
	}

	medianWidth := median(widths)
	left := median(lefts)
	right := median(rights)

	return types.WidthMeasurement{
		LeftEdge:   left,
		RightEdge:  right,
		Width:      medianWidth,
		CenterX:    (left + right) / 2,
		Confidence: m.bandConfidence(widths, medianWidth),
		Level:      level,
		Row:        row,
		ValidRows:  len(scans),
	}, nil
}

// scanRow finds the outermost foreground edges of a row with sub-pixel
// refinement. Pixel x covers [x, x+1).
func (m *Measurer) scanRow(mask *Mask, y int) (rowScan, bool) {
	threshold := m.config.ForegroundThreshold
	offset := y * mask.Width
	row := mask.Pix[offset : offset+mask.Width]

	first := -1
	for x := 0; x < len(row); x++ {
		if row[x] > threshold {
			first = x
			break
		}
	}
	if first < 0 {
		return rowScan{}, false
	}

	last := -1
	for x := len(row) - 1; x >= 0; x-- {
		if row[x] > threshold {
			last = x
			break
		}
	}
	if last < 0 {
		return rowScan{}, false
	}

	left := float64(first)
	if first > 0 {
		// Crossing between the centers of first-1 and first
		t := crossing(row[first-1], row[first], threshold)
		left = float64(first) - 0.5 + t
	}

	right := float64(last + 1)
	if last < len(row)-1 {
		// Crossing between the centers of last and last+1
		t := crossing(row[last+1], row[last], threshold)
		right = float64(last) + 1.5 - t
	}

	if right <= left {
		return rowScan{}, false
	}
	return rowScan{left: left, right: right}, true
}

// crossing returns how far from the background sample towards the
// foreground sample the threshold is crossed, in [0,1]. A hard 0/255 step
// crosses halfway, so binary masks give whole-pixel edges.
func crossing(bg, fg, threshold uint8) float64 {
	if fg <= bg || (bg == 0 && fg == math.MaxUint8) {
		return 0.5
	}
	t := (float64(threshold) - float64(bg)) / (float64(fg) - float64(bg))
	return math.Max(0, math.Min(1, t))
}

// bandConfidence is full when the row-to-row spread is small relative to
// the median width and decays to zero at ConfidenceSpread of it
func (m *Measurer) bandConfidence(widths []float64, medianWidth float64) float64 {
	if medianWidth <= 0 || m.config.ConfidenceSpread <= 0 {
		return 0
	}
	if len(widths) < 2 {
		return 1
	}
	sd := stat.PopStdDev(widths, nil)
	return math.Max(0, 1-sd/(m.config.ConfidenceSpread*medianWidth))
}

// MeasureAll measures the shoulder, waist and hip levels, and the bust when
// enabled. Failure of a required level fails the whole silhouette path;
// a failed bust level is omitted.
func (m *Measurer) MeasureAll(mask *Mask, set types.LandmarkSet) (types.SilhouetteWidths, error) {
	levels, err := m.InferLevels(set)
	if err != nil {
		return types.SilhouetteWidths{}, err
	}

	out := types.SilhouetteWidths{Levels: levels}
	if mask != nil {
		out.FrameWidth = mask.Width
		out.FrameHeight = mask.Height
	}

	required := []struct {
		level types.Level
		dst   *types.WidthMeasurement
	}{
		{types.LevelShoulder, &out.Shoulder},
		{types.LevelWaist, &out.Waist},
		{types.LevelHip, &out.Hip},
	}
	for _, r := range required {
		w, err := m.MeasureWidthAtLevel(mask, levels.Y(r.level), r.level)
		if err != nil {
			return types.SilhouetteWidths{}, err
		}
		*r.dst = w
	}

	if m.config.MeasureBust {
		if w, err := m.MeasureWidthAtLevel(mask, levels.BustY, types.LevelBust); err == nil {
			out.Bust = &w
		}
	}

	return out, nil
}

// CalculateRatios divides the median widths. BWR is only set when the bust
// level was measured.
func CalculateRatios(w types.SilhouetteWidths) (types.SilhouetteRatios, error) {
	if w.Hip.Width <= 0 {
		return types.SilhouetteRatios{}, fmt.Errorf("hip width is zero: %w", types.ErrDivisionByZero)
	}
	if w.Shoulder.Width <= 0 {
		return types.SilhouetteRatios{}, fmt.Errorf("shoulder width is zero: %w", types.ErrDivisionByZero)
	}
	if w.Waist.Width <= 0 {
		return types.SilhouetteRatios{}, fmt.Errorf("waist width is zero: %w", types.ErrDivisionByZero)
	}

	r := types.SilhouetteRatios{
		WHR:            w.Waist.Width / w.Hip.Width,
		WSR:            w.Waist.Width / w.Shoulder.Width,
		SHR:            w.Shoulder.Width / w.Hip.Width,
		WaistCurvature: WaistCurvatureIndex(w.Shoulder.Width, w.Waist.Width, w.Hip.Width),
	}
	if w.Bust != nil && w.Bust.Width > 0 {
		bwr := w.Bust.Width / w.Waist.Width
		r.BWR = &bwr
	}
	return r, nil
}

// WaistCurvatureIndex measures how far the waist indents from the mean of
// shoulder and hip widths; 0 is no indentation, higher is more defined
func WaistCurvatureIndex(shoulder, waist, hip float64) float64 {
	envelope := (shoulder + hip) / 2
	if envelope <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, 1-waist/envelope))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
