package fakeserver

import (
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// RenderSize is the side of the square explanation images
const RenderSize = 224

// Explanation holds the three rendered variants
type Explanation struct {
	Original image.Image
	Overlay  image.Image
	Heatmap  image.Image
}

// Render builds a pseudo Grad-CAM for img. The hot spot sits at a position
// derived from data and is weighted by local brightness.
func Render(img image.Image, data []byte) (*Explanation, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to render")
	}
	original := imaging.Fill(img, RenderSize, RenderSize, imaging.Center, imaging.Lanczos)
	gray := imaging.Grayscale(original)

	sum := sha256.Sum256(data)
	cx := RenderSize/4 + int(sum[0])%(RenderSize/2)
	cy := RenderSize/4 + int(sum[1])%(RenderSize/2)
	radius := float64(RenderSize) / 4

	heat := image.NewNRGBA(image.Rect(0, 0, RenderSize, RenderSize))
	for y := 0; y < RenderSize; y++ {
		for x := 0; x < RenderSize; x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			blob := math.Exp(-(dx*dx + dy*dy) / (2 * radius * radius))
			lum := float64(gray.NRGBAAt(x, y).R) / 255
			heat.SetNRGBA(x, y, jet(0.75*blob+0.25*lum))
		}
	}
	heatmap := imaging.Blur(heat, 3)
	overlay := imaging.Overlay(original, heatmap, image.Pt(0, 0), 0.45)

	return &Explanation{Original: original, Overlay: overlay, Heatmap: heatmap}, nil
}

// jet maps v in [0,1] onto a blue-cyan-yellow-red ramp
func jet(v float64) color.NRGBA {
	v = math.Max(0, math.Min(1, v))
	r := clamp(1.5 - math.Abs(4*v-3))
	g := clamp(1.5 - math.Abs(4*v-2))
	b := clamp(1.5 - math.Abs(4*v-1))
	return color.NRGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
