package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// Orientation is the physical rotation needed to display an image upright.
type Orientation int

const (
	OrientIdentity Orientation = iota
	Orient90CW
	Orient180
	Orient270CW
)

func (o Orientation) String() string {
	switch o {
	case Orient90CW:
		return "rotate90cw"
	case Orient180:
		return "rotate180"
	case Orient270CW:
		return "rotate270cw"
	default:
		return "identity"
	}
}

// OrientationFromEXIF maps the EXIF orientation tag value. Mirrored and
// unknown values fall back to identity.
func OrientationFromEXIF(v int) Orientation {
	switch v {
	case 6:
		return Orient90CW
	case 3:
		return Orient180
	case 8:
		return Orient270CW
	default:
		return OrientIdentity
	}
}

// ReadOrientation reads the EXIF orientation tag from r without decoding
// pixels. Missing or unreadable metadata yields identity.
func ReadOrientation(r io.Reader) Orientation {
	// Decode may return partial metadata alongside a non-critical error.
	x, _ := exif.Decode(r)
	if x == nil {
		return OrientIdentity
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientIdentity
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientIdentity
	}
	return OrientationFromEXIF(v)
}

// toRGBA returns img as *image.RGBA with a zero origin, copying only when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Rotate renders img into a freshly allocated buffer with orientation o
// applied. Width and height swap for the 90 degree cases. Pixels are read
// straight from the decoded source, so no intermediate copy is made.
func Rotate(img image.Image, o Orientation) *image.RGBA {
	if o == OrientIdentity {
		return toRGBA(img)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if o == Orient180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	target := func(x, y int) int {
		var dx, dy int
		switch o {
		case Orient90CW:
			dx, dy = h-1-y, x
		case Orient180:
			dx, dy = w-1-x, h-1-y
		case Orient270CW:
			dx, dy = y, w-1-x
		}
		return dy*dst.Stride + dx*4
	}

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				si := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				di := target(x, y)
				copy(dst.Pix[di:di+4], src.Pix[si:si+4])
			}
		}
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := src.YCbCrAt(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				di := target(x, y)
				dst.Pix[di], dst.Pix[di+1], dst.Pix[di+2], dst.Pix[di+3] = r, g, bl, 0xff
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				di := target(x, y)
				dst.Pix[di], dst.Pix[di+1], dst.Pix[di+2], dst.Pix[di+3] = c.R, c.G, c.B, c.A
			}
		}
	}
	return dst
}
