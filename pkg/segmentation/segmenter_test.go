package segmentation

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/menta2k/body-analyzer/pkg/processing"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

func createTestMask(width, height int) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := width / 4; x < 3*width/4; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func TestFileSegmenter(t *testing.T) {
	dir := t.TempDir()
	frame := filepath.Join(dir, "front.jpg")
	p := processing.NewProcessor()
	if err := p.SaveImage(createTestMask(50, 100), filepath.Join(dir, "front_mask.png"), "", 0, false); err != nil {
		t.Fatal(err)
	}

	s := NewFileSegmenter()
	res, err := s.Segment(context.Background(), types.Frame{
		Source: frame,
		Image:  image.NewRGBA(image.Rect(0, 0, 100, 200)),
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if res.Mask.Width != 100 || res.Mask.Height != 200 {
		t.Errorf("Expected mask resampled to 100x200, got %dx%d", res.Mask.Width, res.Mask.Height)
	}
	if res.Mask.At(50, 100) < 200 || res.Mask.At(5, 100) > 50 {
		t.Error("Expected foreground in the middle and background at the side")
	}
	if res.Confidence < 0.9 {
		t.Errorf("Expected high confidence for a binary mask, got %f", res.Confidence)
	}
}

func TestFileSegmenterMissingMask(t *testing.T) {
	s := NewFileSegmenter()
	_, err := s.Segment(context.Background(), types.Frame{Source: filepath.Join(t.TempDir(), "front.jpg")})
	if !errors.Is(err, ErrNoMask) {
		t.Errorf("Expected ErrNoMask, got %v", err)
	}
	_, err = s.Segment(context.Background(), types.Frame{})
	if !errors.Is(err, ErrNoMask) {
		t.Errorf("Expected ErrNoMask without source, got %v", err)
	}
}

func TestConfidence(t *testing.T) {
	empty := silhouette.NewMask(10, 10)
	if c := Confidence(empty); c != 0 {
		t.Errorf("Expected 0 for empty mask, got %f", c)
	}

	soft := silhouette.NewMask(10, 10)
	soft.FillRect(image.Rect(0, 0, 10, 10), 128)
	soft.FillRect(image.Rect(0, 0, 5, 10), 255)
	if c := Confidence(soft); math.Abs(c-0.5) > 1e-9 {
		t.Errorf("Expected 0.5 for half soft mask, got %f", c)
	}

	if c := Confidence(nil); c != 0 {
		t.Errorf("Expected 0 for nil mask, got %f", c)
	}
}
