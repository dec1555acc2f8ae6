// Package analyzer turns a frozen capture into a body shape classification.
// It is the Processor a capture session hands its frame to.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/menta2k/body-analyzer/pkg/classifier"
	"github.com/menta2k/body-analyzer/pkg/measurement"
	"github.com/menta2k/body-analyzer/pkg/segmentation"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// Segmenter produces a person mask for a frame
type Segmenter interface {
	Segment(ctx context.Context, frame types.Frame) (segmentation.Result, error)
}

// Config holds configuration for the analyzer
type Config struct {
	MinImageSize            int     `json:"min_image_size" yaml:"min_image_size"`
	MinMaskConfidence       float64 `json:"min_mask_confidence" yaml:"min_mask_confidence"`
	MinSilhouetteConfidence float64 `json:"min_silhouette_confidence" yaml:"min_silhouette_confidence"`
	Normalize               bool    `json:"normalize" yaml:"normalize"`
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		MinImageSize:            64,
		MinMaskConfidence:       0.5,
		MinSilhouetteConfidence: 0.3,
		Normalize:               true,
	}
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithSegmenter enables the silhouette path
func WithSegmenter(s Segmenter) Option {
	return func(a *Analyzer) {
		a.segmenter = s
	}
}

// WithClassifier replaces the default classifier
func WithClassifier(c *classifier.Classifier) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.classifier = c
		}
	}
}

// WithMeasurer replaces the default silhouette measurer
func WithMeasurer(m *silhouette.Measurer) Option {
	return func(a *Analyzer) {
		if m != nil {
			a.measurer = m
		}
	}
}

// WithLogger sets the analyzer logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Analyzer runs measurement and classification on captures. It holds no
// per-capture state and may be shared.
type Analyzer struct {
	config     Config
	calculator *measurement.Calculator
	measurer   *silhouette.Measurer
	classifier *classifier.Classifier
	segmenter  Segmenter
	logger     *slog.Logger
}

// New creates a new Analyzer with default configuration
func New(opts ...Option) *Analyzer {
	return NewWithConfig(DefaultConfig(), opts...)
}

// NewWithConfig creates a new Analyzer with custom configuration
func NewWithConfig(config Config, opts ...Option) *Analyzer {
	a := &Analyzer{
		config:     config,
		calculator: measurement.New(),
		measurer:   silhouette.New(),
		classifier: classifier.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ValidateImage checks if an image meets minimum requirements
func (a *Analyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}

// Process measures and classifies a capture. Landmark widths are always
// taken, height only when both ankles are visible. When a segmenter is
// configured and its mask is good enough the silhouette widths drive the
// classification instead.
func (a *Analyzer) Process(ctx context.Context, capture types.Capture) (types.BodyShapeResult, error) {
	if err := ctx.Err(); err != nil {
		return types.BodyShapeResult{}, err
	}
	if capture.Frame.Image != nil {
		if err := a.ValidateImage(capture.Frame.Image); err != nil {
			return types.BodyShapeResult{}, err
		}
	}
	if capture.Landmarks.Empty() {
		return types.BodyShapeResult{}, types.ErrNoPoseDetected
	}

	m, err := a.measureLandmarks(capture.Landmarks)
	if err != nil {
		return types.BodyShapeResult{}, fmt.Errorf("failed to calculate measurements: %w", err)
	}

	result := a.classifier.ClassifyMeasurements(m)

	sw, err := a.measureSilhouette(ctx, capture)
	switch {
	case err == nil:
		landmark := result
		result = a.classifier.ClassifySilhouette(sw)
		result.Measurements = landmark.Measurements
		result.Ratios = landmark.Ratios
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.BodyShapeResult{}, err
	case errors.Is(err, errNoSegmenter):
	default:
		a.logger.Info("silhouette unavailable, using landmarks", "error", err)
	}

	result.Quality = capture.Quality
	result.ClassifiedAt = time.Now()
	a.logger.Debug("capture classified",
		"shape", result.Shape.String(),
		"confidence", result.Confidence,
		"source", string(result.Source),
		"auto", capture.IsAuto)
	return result, nil
}

// measureLandmarks takes the landmark widths and, when both ankles are
// present, the height to normalize them by. Without ankles the widths stay
// in raw units; every rule compares widths with each other, so the
// classification is the same.
func (a *Analyzer) measureLandmarks(set types.LandmarkSet) (types.BodyMeasurements, error) {
	m, err := a.calculator.Widths(set)
	if err != nil {
		return types.BodyMeasurements{}, err
	}

	height, err := a.calculator.Height(set)
	if err != nil {
		a.logger.Debug("height unavailable, keeping raw widths", "error", err)
		return m, nil
	}
	m.Height = height

	if a.config.Normalize {
		n, err := a.calculator.Normalize(m)
		if err != nil {
			a.logger.Debug("keeping raw measurements", "error", err)
			return m, nil
		}
		m = n
	}
	return m, nil
}

var errNoSegmenter = errors.New("no segmenter configured")

// measureSilhouette runs the silhouette path. Any error means the caller
// falls back to landmark-only classification.
func (a *Analyzer) measureSilhouette(ctx context.Context, capture types.Capture) (types.SilhouetteWidths, error) {
	if a.segmenter == nil || capture.Frame.Image == nil {
		return types.SilhouetteWidths{}, errNoSegmenter
	}

	seg, err := a.segmenter.Segment(ctx, capture.Frame)
	if err != nil {
		return types.SilhouetteWidths{}, fmt.Errorf("segmentation failed: %w", err)
	}
	if seg.Confidence < a.config.MinMaskConfidence {
		return types.SilhouetteWidths{}, fmt.Errorf("mask confidence %.2f below %.2f", seg.Confidence, a.config.MinMaskConfidence)
	}

	sw, err := a.measurer.MeasureAll(seg.Mask, capture.Landmarks)
	if err != nil {
		return types.SilhouetteWidths{}, fmt.Errorf("silhouette measurement failed: %w", err)
	}
	if c := sw.Confidence(); c < a.config.MinSilhouetteConfidence {
		return types.SilhouetteWidths{}, fmt.Errorf("silhouette confidence %.2f below %.2f", c, a.config.MinSilhouetteConfidence)
	}
	return sw, nil
}

// Classify classifies measurements directly. It is pure and never fails.
func (a *Analyzer) Classify(m types.BodyMeasurements) types.BodyShapeResult {
	return a.classifier.ClassifyMeasurements(m)
}

// ClassifySilhouette classifies silhouette widths directly
func (a *Analyzer) ClassifySilhouette(sw types.SilhouetteWidths) types.BodyShapeResult {
	return a.classifier.ClassifySilhouette(sw)
}

// Measure runs only the landmark measurement step
func (a *Analyzer) Measure(set types.LandmarkSet) (types.BodyMeasurements, types.BodyRatios, error) {
	m, err := a.calculator.Calculate(set)
	if err != nil {
		return types.BodyMeasurements{}, types.BodyRatios{}, err
	}
	r, err := a.calculator.CalculateRatios(m)
	if err != nil {
		return m, types.BodyRatios{}, err
	}
	return m, r, nil
}
