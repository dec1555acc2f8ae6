package pose

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/menta2k/body-analyzer/pkg/types"
)

// Keypoint is one entry of the keypoint JSON documents the detectors read.
// Index is optional when Name is a canonical keypoint name.
type Keypoint struct {
	Name       string   `json:"name"`
	Index      *int     `json:"index,omitempty"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          *float64 `json:"z,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Visibility *float64 `json:"visibility,omitempty"`
}

// Document is the keypoint JSON layout. Width and Height, when set, give
// the pixel size the coordinates refer to.
type Document struct {
	Keypoints []Keypoint `json:"keypoints"`
	Landmarks []Keypoint `json:"landmarks"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)\s//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// ParseLandmarks parses a keypoint document, possibly wrapped in model
// chatter, into a LandmarkSet. A document with any coordinate above 1 is in
// pixels throughout and is normalized by the document size, or by width and
// height when the document has none. Unknown names and out-of-range indices are skipped.
func ParseLandmarks(raw string, width, height int) (types.LandmarkSet, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("no JSON object in response: %w", types.ErrModel)
	}

	var doc Document
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse keypoints: %v: %w", err, types.ErrModel)
	}
	if doc.Width > 0 && doc.Height > 0 {
		width, height = doc.Width, doc.Height
	}

	points := doc.Keypoints
	if len(points) == 0 {
		points = doc.Landmarks
	}

	pixels := pixelCoordinates(points)
	if pixels && (width <= 0 || height <= 0) {
		return nil, fmt.Errorf("pixel coordinates without image size: %w", types.ErrModel)
	}

	set := types.NewLandmarkSet()
	for i, kp := range points {
		idx := keypointIndex(kp, i, len(points))
		if idx < 0 {
			continue
		}

		x, y := kp.X, kp.Y
		if pixels {
			x /= float64(width)
			y /= float64(height)
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}

		set.Set(idx, types.Landmark{
			X:     clamp(x, 0, 1),
			Y:     clamp(y, 0, 1),
			Z:     kp.Z,
			Score: clamp(score(kp), 0, 1),
		})
	}
	return set, nil
}

// pixelCoordinates reports whether any point lies outside the unit square
func pixelCoordinates(points []Keypoint) bool {
	for _, kp := range points {
		if kp.X > 1 || kp.Y > 1 {
			return true
		}
	}
	return false
}

// keypointIndex resolves a keypoint by explicit index, then by name, then
// by position when the document lists exactly the 17 COCO keypoints
func keypointIndex(kp Keypoint, pos, total int) int {
	if kp.Index != nil {
		if *kp.Index >= 0 && *kp.Index < types.NumKeypoints {
			return *kp.Index
		}
		return -1
	}
	if kp.Name != "" {
		name := strings.ToLower(strings.TrimSpace(kp.Name))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, "-", "_")
		return types.IndexOf(name)
	}
	if total == types.NumKeypoints {
		return pos
	}
	return -1
}

func score(kp Keypoint) float64 {
	switch {
	case kp.Score != nil:
		return *kp.Score
	case kp.Visibility != nil:
		return *kp.Visibility
	}
	return 1
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
