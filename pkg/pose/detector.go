// Package pose adapts external pose models to capture.PoseModel.
package pose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/menta2k/body-analyzer/pkg/client"
	"github.com/menta2k/body-analyzer/pkg/processing"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks a vision model for the 17 COCO keypoints
const DefaultPrompt = `You are a human pose estimator.

Return JSON only:
{
  "keypoints": [
    {"name": "nose", "x": 0.0, "y": 0.0, "score": 0.0}
  ]
}

HARD RULES
- Use exactly these names: nose, left_eye, right_eye, left_ear, right_ear,
  left_shoulder, right_shoulder, left_elbow, right_elbow, left_wrist,
  right_wrist, left_hip, right_hip, left_knee, right_knee, left_ankle, right_ankle.
- "left" and "right" are the person's own left and right.
- All coordinates are normalized to [0,1] (NOT pixels), origin top-left.
- score is your confidence in [0,1]. Omit keypoints you cannot see.
- If no person is visible, return {"keypoints": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DetectorConfig holds the vision detector parameters
type DetectorConfig struct {
	Model        string        `json:"model" yaml:"model"`
	Prompt       string        `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MaxDimension int           `json:"max_dimension" yaml:"max_dimension"`
	JPEGQuality  int           `json:"jpeg_quality" yaml:"jpeg_quality"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"` // per query; zero defers to ctx
}

// DefaultDetectorConfig returns the default vision detector configuration
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Model:        "qwen2.5vl:7b",
		Prompt:       DefaultPrompt,
		MaxDimension: 1024,
		JPEGQuality:  85,
	}
}

// VisionDetector detects poses by prompting a vision LLM
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	config    DetectorConfig
	logger    *slog.Logger
}

// NewVisionDetector creates a detector backed by a vision client
func NewVisionDetector(c client.VisionClient, cfg DetectorConfig, logger *slog.Logger) *VisionDetector {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionDetector{
		client:    c,
		processor: processing.NewProcessor(),
		config:    cfg,
		logger:    logger,
	}
}

// Detect sends the frame to the model and parses the returned keypoints.
// An empty set means no person was found.
func (d *VisionDetector) Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("frame has no image: %w", types.ErrModel)
	}

	b64, size, err := d.processor.PrepareImageForModel(frame.Image, "jpg", d.config.MaxDimension, d.config.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare frame: %w", err)
	}

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	reply, err := d.client.SimpleQuery(ctx, d.config.Model, d.config.Prompt, b64)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("pose query failed: %v: %w", err, types.ErrModel)
	}

	set, err := ParseLandmarks(reply, size.X, size.Y)
	if err != nil {
		d.logger.Debug("unparseable pose reply", "model", d.config.Model, "reply", truncate(reply, 200))
		return nil, err
	}
	d.logger.Debug("pose detected", "model", d.config.Model, "landmarks", set.Count())
	return set, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *VisionDetector) TestVision(ctx context.Context, frame types.Frame) (string, error) {
	b64, _, err := d.processor.PrepareImageForModel(frame.Image, "jpg", d.config.MaxDimension, d.config.JPEGQuality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare frame: %w", err)
	}
	return d.client.SimpleQuery(ctx, d.config.Model, SimpleTestPrompt, b64)
}

// FileDetector reads keypoints from a JSON file stored next to each frame
// (frame.jpg → frame.json). A missing file means no person was detected.
type FileDetector struct{}

// NewFileDetector creates a detector reading landmark JSON files
func NewFileDetector() *FileDetector {
	return &FileDetector{}
}

// Detect loads the landmark file paired with frame.Source
func (d *FileDetector) Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Source == "" {
		return nil, fmt.Errorf("frame has no source path: %w", types.ErrModel)
	}

	path := LandmarkPath(frame.Source)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.NewLandmarkSet(), nil
		}
		return nil, fmt.Errorf("failed to read landmarks: %v: %w", err, types.ErrModel)
	}

	w, h := 0, 0
	if frame.Image != nil {
		w, h = frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy()
	}
	set, err := ParseLandmarks(string(data), w, h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadLandmarks reads a landmark JSON file directly. width and height are
// used when the file holds pixel coordinates and no size of its own.
func LoadLandmarks(path string, width, height int) (types.LandmarkSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read landmarks: %w", err)
	}
	return ParseLandmarks(string(data), width, height)
}

// LandmarkPath returns the landmark file paired with a frame path
func LandmarkPath(framePath string) string {
	return strings.TrimSuffix(framePath, filepath.Ext(framePath)) + ".json"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
