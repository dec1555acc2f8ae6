// Package segmentation supplies person/background masks for captured frames.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/body-analyzer/pkg/processing"
	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// ErrNoMask is returned when no mask exists for a frame
var ErrNoMask = errors.New("no segmentation mask")

// MaskSuffix is appended to the frame name to find its mask file
const MaskSuffix = "_mask"

// Result is a mask aligned with its frame and a confidence in [0,1]
type Result struct {
	Mask       *silhouette.Mask
	Confidence float64
}

// FileSegmenter loads pre-computed masks stored next to the frames
// (front.jpg → front_mask.png)
type FileSegmenter struct {
	processor *processing.Processor
}

// NewFileSegmenter creates a segmenter reading mask images from disk
func NewFileSegmenter() *FileSegmenter {
	return &FileSegmenter{processor: processing.NewProcessor().WithoutAutoOrientation()}
}

// Segment loads the mask paired with frame.Source and resamples it to the
// frame size
func (s *FileSegmenter) Segment(ctx context.Context, frame types.Frame) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if frame.Source == "" {
		return Result{}, fmt.Errorf("frame has no source path: %w", ErrNoMask)
	}

	path, err := FindMask(frame.Source)
	if err != nil {
		return Result{}, err
	}
	return s.Load(path, frame)
}

// Load reads a mask image and aligns it with frame
func (s *FileSegmenter) Load(path string, frame types.Frame) (Result, error) {
	img, err := s.processor.LoadImage(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load mask: %w", err)
	}

	w, h := 0, 0
	if frame.Image != nil {
		w, h = frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy()
	}
	mask, err := silhouette.MaskFromImage(img, w, h)
	if err != nil {
		return Result{}, fmt.Errorf("failed to convert mask: %w", err)
	}
	return Result{Mask: mask, Confidence: Confidence(mask)}, nil
}

// FindMask returns the mask file paired with a frame, trying png then the
// other supported image extensions
func FindMask(framePath string) (string, error) {
	base := strings.TrimSuffix(framePath, filepath.Ext(framePath)) + MaskSuffix
	for _, ext := range []string{".png", ".webp", ".jpg", ".jpeg"} {
		candidate := base + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", framePath, ErrNoMask)
}

// Decisive pixel bounds; values in between are soft edge pixels
const (
	backgroundMax = 32
	foregroundMin = 224
)

// Confidence is the share of decisive pixels in the mask. A mask without
// any foreground has zero confidence.
func Confidence(mask *silhouette.Mask) float64 {
	if mask == nil || len(mask.Pix) == 0 {
		return 0
	}
	decisive, foreground := 0, 0
	for _, v := range mask.Pix {
		switch {
		case v >= foregroundMin:
			decisive++
			foreground++
		case v <= backgroundMax:
			decisive++
		}
	}
	if foreground == 0 {
		return 0
	}
	return float64(decisive) / float64(len(mask.Pix))
}
