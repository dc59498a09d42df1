package captcha

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Enhance applies a simple contrast stretch to a PNG CAPTCHA image before a
// retry attempt. No third-party image-processing library appears anywhere
// in the retrieved pack, so this stage is hand-rolled against the standard
// library's image/draw — documented as the one deliberate stdlib exception
// in DESIGN.md. It widens the gap between dark glyph pixels and light
// background noise, which helps the vision pass on low-confidence retries
// (spec.md §4.7 "the image may be enhanced before a retry attempt").
func Enhance(pngBytes []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, fmt.Errorf("captcha: decode image: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	lo, hi := grayRange(dst)
	if hi <= lo {
		hi = lo + 1
	}
	stretchContrast(dst, lo, hi)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("captcha: encode enhanced image: %w", err)
	}
	return buf.Bytes(), nil
}

func grayRange(img *image.RGBA) (lo, hi uint8) {
	lo, hi = 255, 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := grayAt(img, x, y)
			if g < lo {
				lo = g
			}
			if g > hi {
				hi = g
			}
		}
	}
	return lo, hi
}

func grayAt(img *image.RGBA, x, y int) uint8 {
	c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
	return c.Y
}

func stretchContrast(img *image.RGBA, lo, hi uint8) {
	span := float64(hi) - float64(lo)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			stretch := func(v uint32) uint8 {
				v8 := uint8(v >> 8)
				scaled := (float64(v8) - float64(lo)) / span * 255
				if scaled < 0 {
					scaled = 0
				}
				if scaled > 255 {
					scaled = 255
				}
				return uint8(scaled)
			}
			img.SetRGBA(x, y, color.RGBA{R: stretch(r), G: stretch(g), B: stretch(bl), A: uint8(a >> 8)})
		}
	}
}
