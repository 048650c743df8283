package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	textSizeRatio   = 0.035
	lineSpacing     = 1.2
	marginRatio     = 0.02
	minTextSize     = 6.0
	timestampLayout = "2006-01-02 15:04:05"
)

// Metadata is the job data rendered into the overlay.
type Metadata struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	CapturedAt time.Time
}

// WatermarkLines returns the overlay text top to bottom. The operator tag is
// the topmost line and the latitude the bottom line.
func WatermarkLines(meta Metadata, operator string) []string {
	return []string{
		operator,
		fmt.Sprintf("Alt: %.1fm", meta.Altitude),
		"Date: " + meta.CapturedAt.Format(timestampLayout),
		fmt.Sprintf("Lon: %.6f", meta.Longitude),
		fmt.Sprintf("Lat: %.6f", meta.Latitude),
	}
}

var boldFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gobold.TTF)
})

var outlineDirs = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// drawWatermark draws lines anchored at the bottom-left corner, growing
// upward. Each line gets a black outline pass then a white fill pass.
func drawWatermark(dst *image.RGBA, lines []string) error {
	f, err := boldFont()
	if err != nil {
		return fmt.Errorf("parse font: %w", err)
	}

	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	size := math.Max(float64(w)*textSizeRatio, minTextSize)
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("font face: %w", err)
	}
	defer face.Close()

	margin := int(math.Round(float64(w) * marginRatio))
	spacing := size * lineSpacing
	stroke := int(math.Max(1, math.Round(size/14)))

	outline := &font.Drawer{Dst: dst, Src: image.NewUniform(color.Black), Face: face}
	fill := &font.Drawer{Dst: dst, Src: image.NewUniform(color.White), Face: face}

	// Bottom line first; the last line drawn is the topmost.
	for i := len(lines) - 1; i >= 0; i-- {
		row := len(lines) - 1 - i
		baseline := h - margin - int(math.Round(float64(row)*spacing)) - face.Metrics().Descent.Ceil()
		for _, d := range outlineDirs {
			outline.Dot = fixed.P(margin+d[0]*stroke, baseline+d[1]*stroke)
			outline.DrawString(lines[i])
		}
		fill.Dot = fixed.P(margin, baseline)
		fill.DrawString(lines[i])
	}
	return nil
}
