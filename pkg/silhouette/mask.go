package silhouette

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Mask is an 8-bit person/background raster. Values above the foreground
// threshold are person pixels; intermediate values from soft masks are used
// for sub-pixel edge refinement.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates an empty (all background) mask
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// At returns the mask value at x, y; out-of-range pixels are background
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set stores a mask value
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// FillRect sets every pixel of r to v
func (m *Mask) FillRect(r image.Rectangle, v uint8) {
	r = r.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Pix[y*m.Width+x] = v
		}
	}
}

// MaskFromImage converts any raster into a Mask. When width and height are
// positive and differ from the source size, the mask is resampled to that
// size so it lines up with the frame it was segmented from.
func MaskFromImage(img image.Image, width, height int) (*Mask, error) {
	if img == nil {
		return nil, fmt.Errorf("nil mask image")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty mask image")
	}

	gray := imaging.Grayscale(img)
	if width > 0 && height > 0 && (b.Dx() != width || b.Dy() != height) {
		gray = imaging.Resize(gray, width, height, imaging.Linear)
	}

	gb := gray.Bounds()
	mask := NewMask(gb.Dx(), gb.Dy())
	for y := 0; y < gb.Dy(); y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < gb.Dx(); x++ {
			mask.Pix[y*mask.Width+x] = row[x*4]
		}
	}
	return mask, nil
}

// ToImage renders the mask as a grayscale image
func (m *Mask) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	copy(img.Pix, m.Pix)
	return img
}
