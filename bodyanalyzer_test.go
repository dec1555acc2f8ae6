package bodyanalyzer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/menta2k/body-analyzer/pkg/capture"
	"github.com/menta2k/body-analyzer/pkg/classifier"
	"github.com/menta2k/body-analyzer/pkg/device"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// createTestImage creates a mid-gray test frame
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	return img
}

func frontalPose() types.LandmarkSet {
	set := types.NewLandmarkSet()
	set.Set(types.LeftShoulder, types.Landmark{X: 0.65, Y: 0.3, Score: 0.9})
	set.Set(types.RightShoulder, types.Landmark{X: 0.35, Y: 0.3, Score: 0.9})
	set.Set(types.LeftHip, types.Landmark{X: 0.6, Y: 0.6, Score: 0.9})
	set.Set(types.RightHip, types.Landmark{X: 0.4, Y: 0.6, Score: 0.9})
	set.Set(types.LeftAnkle, types.Landmark{X: 0.58, Y: 0.9, Score: 0.9})
	set.Set(types.RightAnkle, types.Landmark{X: 0.42, Y: 0.9, Score: 0.9})
	return set
}

type staticPose struct {
	set types.LandmarkSet
	err error
}

func (p staticPose) Detect(ctx context.Context, frame types.Frame) (types.LandmarkSet, error) {
	return p.set, p.err
}

func TestNew(t *testing.T) {
	ba := New()
	if ba == nil {
		t.Fatal("New() returned nil")
	}
	if ba.classifier == nil || ba.measurer == nil || ba.analyzer == nil {
		t.Error("Expected every component to be initialised")
	}
	if GetVersion() != Version {
		t.Errorf("Expected version %s, got %s", Version, GetVersion())
	}
}

func TestClassifyWidths(t *testing.T) {
	ba := New()
	result := ba.ClassifyWidths(classifier.Widths{Shoulder: 40, Waist: 28, Hip: 40})
	if result.Shape != types.ShapeHourglass {
		t.Errorf("Expected HOURGLASS, got %s", result.Shape)
	}
	if result.Source != types.SourceManual {
		t.Errorf("Expected manual source, got %s", result.Source)
	}
}

func TestNewWithConfigThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classification.DecisionConfidence = 1
	ba := NewWithConfig(cfg)

	result := ba.ClassifyWidths(classifier.Widths{Shoulder: 40, Waist: 28, Hip: 40})
	if result.Shape != types.ShapeUnknown {
		t.Errorf("Expected UNKNOWN with an unreachable decision confidence, got %s", result.Shape)
	}
}

func TestMeasureAndClassifySilhouette(t *testing.T) {
	mask := silhouette.NewMask(100, 200)
	mask.FillRect(image.Rect(20, 40, 80, 70), 255)
	mask.FillRect(image.Rect(30, 70, 70, 110), 255)
	mask.FillRect(image.Rect(22, 110, 78, 140), 255)

	ba := New()
	sw, err := ba.MeasureSilhouette(mask, frontalPose())
	if err != nil {
		t.Fatalf("MeasureSilhouette failed: %v", err)
	}
	result := ba.ClassifySilhouette(sw)
	if result.Source != types.SourceSilhouette {
		t.Errorf("Expected silhouette source, got %s", result.Source)
	}
	if result.SilhouetteRatios == nil {
		t.Error("Expected silhouette ratios")
	}
}

func TestAnalyzeFrame(t *testing.T) {
	ba := New()
	frame := types.Frame{Image: createTestImage(100, 200)}

	result, err := ba.AnalyzeFrame(context.Background(), staticPose{set: frontalPose()}, frame)
	if err != nil {
		t.Fatalf("AnalyzeFrame failed: %v", err)
	}
	if result.Quality == nil {
		t.Error("Expected quality attached")
	}
	if result.Shape == types.ShapeUnknown && result.Confidence != 0.5 {
		t.Errorf("Unexpected UNKNOWN confidence %f", result.Confidence)
	}

	_, err = ba.AnalyzeFrame(context.Background(), staticPose{set: types.NewLandmarkSet()}, frame)
	if !errors.Is(err, types.ErrNoPoseDetected) {
		t.Errorf("Expected ErrNoPoseDetected, got %v", err)
	}

	_, err = ba.AnalyzeFrame(context.Background(), staticPose{err: types.ErrModel}, frame)
	if !errors.Is(err, types.ErrModel) {
		t.Errorf("Expected ErrModel, got %v", err)
	}
}

func TestNewSessionMissingDevice(t *testing.T) {
	ba := New()
	dev := device.NewDirectoryDevice(filepath.Join(t.TempDir(), "missing"), false)
	session := ba.NewSession(dev, staticPose{set: frontalPose()})

	if session.State().Status != capture.StatusIdle {
		t.Errorf("Expected IDLE, got %s", session.State().Status)
	}
	if session.ID() == "" {
		t.Error("Expected a session ID")
	}

	err := session.Start(context.Background(), capture.FacingUser)
	if !errors.Is(err, types.ErrDeviceUnavailable) && !errors.Is(err, types.ErrPermissionDenied) {
		t.Errorf("Expected device error, got %v", err)
	}
	if session.State().Status != capture.StatusError {
		t.Errorf("Expected ERROR, got %s", session.State().Status)
	}
	_ = session.Stop()
}
