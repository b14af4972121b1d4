package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/pkg/errors"
)

const (
	startQuality = 90
	minQuality   = 60
	qualityStep  = 10
	resizeFactor = 0.9
)

// Decode parses a validated PNG or JPEG payload into an image.Image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, errors.Wrap(err, "images: decode image")
}

// MakeThumbnail implements the iterative thumbnailing schedule from
// spec.md §4.4: re-encode to JPEG quality 90; then, while still too large,
// resize by sqrt(max/current) if the encoding is more than four times
// maxBytes, otherwise step quality down by 10 to a floor of 60, otherwise
// resize by 0.9. Repeats until the encoded size is within maxBytes or no
// further reduction is possible.
func MakeThumbnail(img image.Image, maxBytes int) ([]byte, error) {
	quality := startQuality
	current := img

	encoded, err := encodeJPEG(current, quality)
	if err != nil {
		return nil, err
	}

	for len(encoded) > maxBytes {
		switch {
		case len(encoded) > maxBytes*4:
			// far too large: resize directly by the theoretical ratio.
			ratio := math.Sqrt(float64(maxBytes) / float64(len(encoded)))
			current = resize(current, ratio)
		case quality > minQuality:
			quality -= qualityStep
			if quality < minQuality {
				quality = minQuality
			}
		default:
			current = resize(current, resizeFactor)
		}

		encoded, err = encodeJPEG(current, quality)
		if err != nil {
			return nil, err
		}

		if bounds := current.Bounds(); bounds.Dx() <= 1 || bounds.Dy() <= 1 {
			// cannot shrink further; accept whatever we have.
			break
		}
	}
	return encoded, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "images: encode jpeg thumbnail")
	}
	return buf.Bytes(), nil
}

// resize performs a bilinear-filtered resize by ratio. No pack example
// carries an image-resizing dependency (h2non/filetype only sniffs
// format), so this is hand-rolled against image/draw-compatible
// primitives per spec.md §9's "any library ... suffices" allowance —
// documented in DESIGN.md as the one stdlib-only concern in this package.
func resize(src image.Image, ratio float64) image.Image {
	bounds := src.Bounds()
	newW := maxInt(1, int(float64(bounds.Dx())*ratio))
	newH := maxInt(1, int(float64(bounds.Dy())*ratio))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		srcY := float64(y) / ratio
		for x := 0; x < newW; x++ {
			srcX := float64(x) / ratio
			dst.Set(x, y, bilinearSample(src, srcX, srcY))
		}
	}
	return dst
}

func bilinearSample(img image.Image, x, y float64) color.Color {
	bounds := img.Bounds()
	x0 := int(x)
	y0 := int(y)
	x1 := minInt(x0+1, bounds.Max.X-1)
	y1 := minInt(y0+1, bounds.Max.Y-1)
	x0 = clampInt(x0, bounds.Min.X, bounds.Max.X-1)
	y0 = clampInt(y0, bounds.Min.Y, bounds.Max.Y-1)

	fx := x - float64(x0)
	fy := y - float64(y0)

	c00 := colorToFloats(img.At(x0, y0))
	c10 := colorToFloats(img.At(x1, y0))
	c01 := colorToFloats(img.At(x0, y1))
	c11 := colorToFloats(img.At(x1, y1))

	var out [4]float64
	for i := 0; i < 4; i++ {
		top := c00[i]*(1-fx) + c10[i]*fx
		bottom := c01[i]*(1-fx) + c11[i]*fx
		out[i] = top*(1-fy) + bottom*fy
	}
	return color.RGBA{R: uint8(out[0]), G: uint8(out[1]), B: uint8(out[2]), A: uint8(out[3])}
}

func colorToFloats(c color.Color) [4]float64 {
	r, g, b, a := c.RGBA()
	return [4]float64{float64(r >> 8), float64(g >> 8), float64(b >> 8), float64(a >> 8)}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ensure png decoder is registered for image.Decode.
var _ = png.Decode
