// Package overlay draws landmarks and silhouette measurements onto a frame
// for offline inspection.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/body-analyzer/pkg/geometry"
	"github.com/menta2k/body-analyzer/pkg/types"
)

var (
	landmarkColor = color.NRGBA{0, 255, 0, 255}   // keypoints
	skeletonColor = color.NRGBA{0, 170, 255, 255} // torso lines
	levelColor    = color.NRGBA{255, 204, 0, 255} // anatomical levels
	edgeColor     = color.NRGBA{255, 0, 0, 255}   // measured edges
)

// torsoEdges are the keypoint pairs joined by skeleton lines
var torsoEdges = [][2]int{
	{types.LeftShoulder, types.RightShoulder},
	{types.LeftHip, types.RightHip},
	{types.LeftShoulder, types.LeftHip},
	{types.RightShoulder, types.RightHip},
	{types.LeftHip, types.LeftAnkle},
	{types.RightHip, types.RightAnkle},
}

// Render returns a copy of img with the landmarks and, when given, the
// measured silhouette levels drawn on it. Landmarks are positioned through
// the overlay mapper configured for the frame's own size.
func Render(img image.Image, set types.LandmarkSet, widths *types.SilhouetteWidths) (image.Image, error) {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	mapper, err := geometry.NewMapper(geometry.MapperConfig{
		Fit:        geometry.FitContain,
		Rotation:   geometry.RotateNone,
		PixelRatio: 1,
	}, float64(w), float64(h), float64(w), float64(h))
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay mapper: %w", err)
	}

	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(minInt(w, h))))   // ~1% of min side

	points := mapper.MapLandmarks(set)
	byIndex := make(map[int]geometry.MappedPoint, len(points))
	for _, p := range points {
		byIndex[p.Index] = p
	}

	for _, e := range torsoEdges {
		a, ok1 := byIndex[e[0]]
		b, ok2 := byIndex[e[1]]
		if !ok1 || !ok2 || !a.Visible || !b.Visible {
			continue
		}
		drawLine(nrgba, int(a.X), int(a.Y), int(b.X), int(b.Y), skeletonColor)
	}

	for _, p := range geometry.VisiblePoints(points) {
		px, py := int(p.X+0.5), int(p.Y+0.5)
		for s := -stroke / 2; s <= stroke/2; s++ {
			drawHLine(nrgba, py+s, px-cross, px+cross, landmarkColor)
			drawVLine(nrgba, px+s, py-cross, py+cross, landmarkColor)
		}
	}

	if widths != nil {
		for _, m := range []*types.WidthMeasurement{&widths.Shoulder, widths.Bust, &widths.Waist, &widths.Hip} {
			if m == nil || m.Width <= 0 {
				continue
			}
			drawLevel(nrgba, *m, stroke, cross)
		}
	}

	return nrgba, nil
}

// drawLevel draws the measured span at its row with edge ticks
func drawLevel(img *image.NRGBA, m types.WidthMeasurement, stroke, tick int) {
	x0 := int(m.LeftEdge + 0.5)
	x1 := int(m.RightEdge + 0.5)
	for s := 0; s < stroke; s++ {
		drawHLine(img, m.Row+s, x0, x1, levelColor)
	}
	for s := 0; s < stroke; s++ {
		drawVLine(img, x0+s, m.Row-tick, m.Row+tick, edgeColor)
		drawVLine(img, x1-1-s, m.Row-tick, m.Row+tick, edgeColor)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= img.Bounds().Dx() || y >= img.Bounds().Dy() {
		return
	}
	i := y*img.Stride + x*4
	img.Pix[i+0] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = c.A
}

// drawLine is a Bresenham line
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		setPixel(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
