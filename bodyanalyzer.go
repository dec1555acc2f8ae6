// Package bodyanalyzer measures body proportions from pose keypoints and
// person segmentation masks and classifies them into a body shape.
//
// Basic usage:
//
//	ba := bodyanalyzer.New()
//
//	// Classify widths directly
//	result := ba.ClassifyWidths(classifier.Widths{Shoulder: 40, Waist: 28, Hip: 40})
//	fmt.Println(result.Shape, result.Confidence)
//
//	// Or run a live capture session
//	session := ba.NewSession(device.NewDirectoryDevice("frames", true), pose.NewFileDetector())
//	if err := session.Start(ctx, capture.FacingUser); err != nil {
//		log.Fatal(err)
//	}
//
// The package wires together:
//
//  1. Measurement (pkg/measurement): widths and height from landmarks
//  2. Silhouette (pkg/silhouette): band-scan widths from a mask
//  3. Classifier (pkg/classifier): threshold rules over the widths
//  4. Quality (pkg/quality): per-frame capture readiness
//  5. Capture (pkg/capture): the session state machine
package bodyanalyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/menta2k/body-analyzer/pkg/analyzer"
	"github.com/menta2k/body-analyzer/pkg/capture"
	"github.com/menta2k/body-analyzer/pkg/classifier"
	"github.com/menta2k/body-analyzer/pkg/quality"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// Version of the body analyzer library
const Version = "1.0.0"

// Config aggregates the component configurations
type Config struct {
	Classification    classifier.Thresholds
	Silhouette        silhouette.Config
	Analyzer          analyzer.Config
	QualityThresholds quality.Thresholds
	QualityWeights    quality.Weights
	Capture           capture.Config
}

// DefaultConfig returns the default configuration of every component
func DefaultConfig() Config {
	return Config{
		Classification:    classifier.DefaultThresholds(),
		Silhouette:        silhouette.DefaultConfig(),
		Analyzer:          analyzer.DefaultConfig(),
		QualityThresholds: quality.DefaultThresholds(),
		QualityWeights:    quality.DefaultWeights(),
		Capture:           capture.DefaultConfig(),
	}
}

// BodyAnalyzer provides a high-level interface over the pipeline
type BodyAnalyzer struct {
	config     Config
	classifier *classifier.Classifier
	measurer   *silhouette.Measurer
	analyzer   *analyzer.Analyzer
	logger     *slog.Logger
}

// New creates a new BodyAnalyzer with default configuration
func New() *BodyAnalyzer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new BodyAnalyzer with custom configuration.
// Extra analyzer options, such as a segmenter, are applied last.
func NewWithConfig(config Config, opts ...analyzer.Option) *BodyAnalyzer {
	c := classifier.NewWithConfig(config.Classification)
	m := silhouette.NewWithConfig(config.Silhouette)
	logger := slog.Default()

	base := []analyzer.Option{
		analyzer.WithClassifier(c),
		analyzer.WithMeasurer(m),
		analyzer.WithLogger(logger),
	}
	return &BodyAnalyzer{
		config:     config,
		classifier: c,
		measurer:   m,
		analyzer:   analyzer.NewWithConfig(config.Analyzer, append(base, opts...)...),
		logger:     logger,
	}
}

// Classify classifies landmark-derived measurements
func (ba *BodyAnalyzer) Classify(m types.BodyMeasurements) types.BodyShapeResult {
	return ba.classifier.ClassifyMeasurements(m)
}

// ClassifyWidths classifies raw shoulder, waist and hip widths
func (ba *BodyAnalyzer) ClassifyWidths(w classifier.Widths) types.BodyShapeResult {
	result := ba.classifier.Classify(w)
	result.Source = types.SourceManual
	return result
}

// ClassifySilhouette classifies silhouette band widths
func (ba *BodyAnalyzer) ClassifySilhouette(sw types.SilhouetteWidths) types.BodyShapeResult {
	return ba.classifier.ClassifySilhouette(sw)
}

// MeasureSilhouette measures the anatomical levels of a mask
func (ba *BodyAnalyzer) MeasureSilhouette(mask *silhouette.Mask, set types.LandmarkSet) (types.SilhouetteWidths, error) {
	return ba.measurer.MeasureAll(mask, set)
}

// AnalyzeCapture runs the full processing pipeline on one capture
func (ba *BodyAnalyzer) AnalyzeCapture(ctx context.Context, c types.Capture) (types.BodyShapeResult, error) {
	result, err := ba.analyzer.Process(ctx, c)
	if err != nil {
		return types.BodyShapeResult{}, fmt.Errorf("capture analysis failed: %w", err)
	}
	return result, nil
}

// AnalyzeFrame detects the pose on a single frame, scores it and analyzes it
func (ba *BodyAnalyzer) AnalyzeFrame(ctx context.Context, pose capture.PoseModel, frame types.Frame) (types.BodyShapeResult, error) {
	set, err := pose.Detect(ctx, frame)
	if err != nil {
		return types.BodyShapeResult{}, fmt.Errorf("pose detection failed: %w", err)
	}
	q := quality.NewWithConfig(ba.config.QualityThresholds, ba.config.QualityWeights).Score(set, frame.Image)
	return ba.AnalyzeCapture(ctx, types.Capture{
		Frame:     frame,
		Landmarks: set,
		Quality:   &q,
	})
}

// NewSession creates a capture session that hands its captures to this
// analyzer. Each session gets its own quality scorer.
func (ba *BodyAnalyzer) NewSession(device capture.Device, pose capture.PoseModel, opts ...capture.Option) *capture.Session {
	base := []capture.Option{
		capture.WithLogger(ba.logger),
		capture.WithScorer(quality.NewWithConfig(ba.config.QualityThresholds, ba.config.QualityWeights)),
	}
	return capture.NewWithConfig(device, pose, ba.analyzer, ba.config.Capture, append(base, opts...)...)
}

// Analyzer returns the underlying capture processor
func (ba *BodyAnalyzer) Analyzer() *analyzer.Analyzer {
	return ba.analyzer
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
