package imaging

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// TargetSize bounds the width by maxWidth while preserving aspect ratio.
// It never upscales; maxWidth <= 0 means unbounded.
func TargetSize(w, h, maxWidth int) (int, int) {
	if w <= 0 || h <= 0 || maxWidth <= 0 || w <= maxWidth {
		return w, h
	}
	th := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if th < 1 {
		th = 1
	}
	return maxWidth, th
}

// Scale resizes img to fit maxWidth with bilinear interpolation.
// img is returned unchanged when it already fits.
func Scale(img *image.RGBA, maxWidth int) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tw, th := TargetSize(w, h, maxWidth)
	if tw == w && th == h {
		return img
	}
	return toRGBA(resize.Resize(uint(tw), uint(th), img, resize.Bilinear))
}
