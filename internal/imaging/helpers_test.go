package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// withOrientation splices a minimal big-endian EXIF APP1 segment carrying
// the orientation tag directly after the JPEG SOI marker.
func withOrientation(data []byte, orientation int) []byte {
	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08, // header, IFD0 at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, // orientation, SHORT, count 1
		byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	n := len(payload) + 2

	out := make([]byte, 0, len(data)+n+2)
	out = append(out, data[:2]...)
	out = append(out, 0xFF, 0xE1, byte(n>>8), byte(n))
	out = append(out, payload...)
	return append(out, data[2:]...)
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// writeRaw writes a w×h JPEG into dir, tagged with orientation when > 0.
func writeRaw(t *testing.T, dir string, w, h, orientation int) string {
	t.Helper()
	data := encodeJPEG(t, solidImage(w, h, color.RGBA{R: 90, G: 120, B: 60, A: 255}))
	if orientation > 0 {
		data = withOrientation(data, orientation)
	}
	path := filepath.Join(dir, "raw.jpg")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func decodeDims(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}
