package cropper

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/body-analyzer/pkg/silhouette"
	"github.com/menta2k/body-analyzer/pkg/types"
)

// ErrNoBody is returned when neither landmarks nor a mask locate the body
var ErrNoBody = errors.New("no body region found")

// BodyCropper crops frames to the region occupied by the person
type BodyCropper struct {
	config CropConfig
}

// CropConfig holds configuration for body cropping
type CropConfig struct {
	PreserveAspectRatio bool    `json:"preserve_aspect_ratio" yaml:"preserve_aspect_ratio"`
	AllowUpscaling      bool    `json:"allow_upscaling" yaml:"allow_upscaling"`
	PaddingRatio        float64 `json:"padding_ratio" yaml:"padding_ratio"`
	MinLandmarkScore    float64 `json:"min_landmark_score" yaml:"min_landmark_score"`
	MaskThreshold       uint8   `json:"mask_threshold" yaml:"mask_threshold"`
}

// AspectRatio represents a target crop shape
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios for full-body frames
var (
	Square   = AspectRatio{1, 1, "square"}
	Portrait = AspectRatio{3, 4, "portrait"}
	Tall     = AspectRatio{2, 3, "tall"}
	Story    = AspectRatio{9, 16, "story"}
)

// CommonAspectRatios returns the supported aspect ratios
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Tall, Story}
}

// ParseAspectRatio looks up an aspect ratio by name
func ParseAspectRatio(name string) (AspectRatio, error) {
	for _, r := range CommonAspectRatios() {
		if r.Name == name {
			return r, nil
		}
	}
	return AspectRatio{}, fmt.Errorf("unknown aspect ratio: %s", name)
}

// DefaultConfig returns the default crop configuration
func DefaultConfig() CropConfig {
	return CropConfig{
		PreserveAspectRatio: true,
		AllowUpscaling:      false,
		PaddingRatio:        0.1,
		MinLandmarkScore:    0.3,
		MaskThreshold:       128,
	}
}

// New creates a new BodyCropper with default configuration
func New() *BodyCropper {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new BodyCropper with custom configuration
func NewWithConfig(config CropConfig) *BodyCropper {
	return &BodyCropper{config: config}
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Image       image.Image
	Region      image.Rectangle
	AspectRatio float64
	Quality     float64
}

// BodyRegion returns the padded pixel rectangle covering the body. The
// mask wins over landmarks when it has foreground pixels, since landmarks
// sit inside the outline.
func (c *BodyCropper) BodyRegion(img image.Image, set types.LandmarkSet, mask *silhouette.Mask) (image.Rectangle, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return image.Rectangle{}, fmt.Errorf("invalid image dimensions")
	}

	region, ok := c.maskRegion(mask, bounds)
	if !ok {
		region, ok = c.landmarkRegion(set, bounds)
	}
	if !ok {
		return image.Rectangle{}, ErrNoBody
	}

	padX := int(math.Round(float64(region.Dx()) * c.config.PaddingRatio))
	padY := int(math.Round(float64(region.Dy()) * c.config.PaddingRatio))
	return region.Inset(-max(padX, padY)).Intersect(bounds), nil
}

func (c *BodyCropper) maskRegion(mask *silhouette.Mask, bounds image.Rectangle) (image.Rectangle, bool) {
	if mask == nil || mask.Width == 0 || mask.Height == 0 {
		return image.Rectangle{}, false
	}
	minX, minY, maxX, maxY := mask.Width, mask.Height, -1, -1
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.At(x, y) < c.config.MaskThreshold {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}

	sx := float64(bounds.Dx()) / float64(mask.Width)
	sy := float64(bounds.Dy()) / float64(mask.Height)
	return image.Rect(
		bounds.Min.X+int(float64(minX)*sx),
		bounds.Min.Y+int(float64(minY)*sy),
		bounds.Min.X+int(math.Ceil(float64(maxX+1)*sx)),
		bounds.Min.Y+int(math.Ceil(float64(maxY+1)*sy)),
	), true
}

func (c *BodyCropper) landmarkRegion(set types.LandmarkSet, bounds image.Rectangle) (image.Rectangle, bool) {
	minX, minY, maxX, maxY := math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
	n := 0
	for _, lm := range set {
		if lm == nil || lm.Score < c.config.MinLandmarkScore {
			continue
		}
		minX, maxX = math.Min(minX, lm.X), math.Max(maxX, lm.X)
		minY, maxY = math.Min(minY, lm.Y), math.Max(maxY, lm.Y)
		n++
	}
	if n < 2 || maxX <= minX || maxY <= minY {
		return image.Rectangle{}, false
	}

	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	return image.Rect(
		bounds.Min.X+int(minX*w),
		bounds.Min.Y+int(minY*h),
		bounds.Min.X+int(math.Ceil(maxX*w)),
		bounds.Min.Y+int(math.Ceil(maxY*h)),
	), true
}

// CropBody crops the frame to the body, widened to targetRatio
// (width/height) when aspect ratio preservation is enabled
func (c *BodyCropper) CropBody(img image.Image, set types.LandmarkSet, mask *silhouette.Mask, targetRatio float64) (CropResult, error) {
	body, err := c.BodyRegion(img, set, mask)
	if err != nil {
		return CropResult{}, err
	}

	region := body
	if c.config.PreserveAspectRatio && targetRatio > 0 {
		region = fitRatio(body, img.Bounds(), targetRatio)
	}
	if region.Empty() {
		return CropResult{}, ErrNoBody
	}

	return CropResult{
		Image:       imaging.Crop(img, region),
		Region:      region,
		AspectRatio: float64(region.Dx()) / float64(region.Dy()),
		Quality:     c.calculateCropQuality(body, region, targetRatio),
	}, nil
}

// CropToAspectRatio crops the body to a named aspect ratio
func (c *BodyCropper) CropToAspectRatio(img image.Image, set types.LandmarkSet, mask *silhouette.Mask, ratio AspectRatio) (CropResult, error) {
	return c.CropBody(img, set, mask, float64(ratio.Width)/float64(ratio.Height))
}

// CropToSize crops the body to the target ratio and resizes to exact dimensions
func (c *BodyCropper) CropToSize(img image.Image, set types.LandmarkSet, mask *silhouette.Mask, targetWidth, targetHeight int) (CropResult, error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return CropResult{}, fmt.Errorf("invalid target size %dx%d", targetWidth, targetHeight)
	}

	result, err := c.CropBody(img, set, mask, float64(targetWidth)/float64(targetHeight))
	if err != nil {
		return CropResult{}, err
	}
	if !c.config.AllowUpscaling && (targetWidth > result.Region.Dx() || targetHeight > result.Region.Dy()) {
		return CropResult{}, fmt.Errorf("target size (%dx%d) is larger than body crop (%dx%d) and upscaling is disabled",
			targetWidth, targetHeight, result.Region.Dx(), result.Region.Dy())
	}

	result.Image = imaging.Resize(result.Image, targetWidth, targetHeight, imaging.Lanczos)
	return result, nil
}

// fitRatio grows r around its centre until it has the target ratio,
// shifting it to stay inside bounds and shrinking only when bounds force it
func fitRatio(r, bounds image.Rectangle, ratio float64) image.Rectangle {
	w, h := float64(r.Dx()), float64(r.Dy())
	if w/h < ratio {
		w = h * ratio
	} else {
		h = w / ratio
	}
	if w > float64(bounds.Dx()) {
		w = float64(bounds.Dx())
		h = w / ratio
	}
	if h > float64(bounds.Dy()) {
		h = float64(bounds.Dy())
		w = h * ratio
	}

	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	x0 := clampInt(int(math.Round(cx-w/2)), bounds.Min.X, bounds.Max.X-int(w))
	y0 := clampInt(int(math.Round(cy-h/2)), bounds.Min.Y, bounds.Max.Y-int(h))
	return image.Rect(x0, y0, x0+int(w), y0+int(h))
}

func (c *BodyCropper) calculateCropQuality(body, region image.Rectangle, targetRatio float64) float64 {
	// 1. Share of the body kept inside the crop
	kept := body.Intersect(region)
	coverage := 0.0
	if area := body.Dx() * body.Dy(); area > 0 {
		coverage = float64(kept.Dx()*kept.Dy()) / float64(area)
	}

	// 2. How much of the crop is body rather than background
	fill := 0.0
	if area := region.Dx() * region.Dy(); area > 0 {
		fill = float64(kept.Dx()*kept.Dy()) / float64(area)
	}

	// 3. Ratio accuracy
	ratioAccuracy := 1.0
	if targetRatio > 0 {
		cropRatio := float64(region.Dx()) / float64(region.Dy())
		ratioAccuracy = 1.0 - math.Abs(cropRatio-targetRatio)/math.Max(cropRatio, targetRatio)
	}

	// 4. Centering of the body within the crop
	dx := float64((body.Min.X+body.Max.X)-(region.Min.X+region.Max.X)) / 2
	dy := float64((body.Min.Y+body.Max.Y)-(region.Min.Y+region.Max.Y)) / 2
	maxDistance := math.Hypot(float64(region.Dx()), float64(region.Dy())) / 2
	centering := 1.0
	if maxDistance > 0 {
		centering = 1.0 - math.Hypot(dx, dy)/maxDistance
	}

	quality := 0.4*coverage + 0.2*fill + 0.2*ratioAccuracy + 0.2*centering
	return math.Max(0, math.Min(1, quality))
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
