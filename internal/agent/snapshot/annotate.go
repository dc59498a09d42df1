package snapshot

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/fogleman/gg"

	"github.com/ternlabs/tern/internal/agent/types"
)

// Annotation colors, matching the teacher's labeled-overlay palette
// (internal/agent/tools/snapshot_renderer.go).
var (
	overlayColor    = color.NRGBA{R: 51, G: 153, B: 255, A: 38}
	borderColor     = color.NRGBA{R: 51, G: 153, B: 255, A: 200}
	obstructedColor = color.NRGBA{R: 255, G: 64, B: 64, A: 220}
)

// Annotate draws labeled boxes for the given elements onto a PNG
// screenshot. The element whose ref equals highlight, when non-empty, is
// drawn in a distinct color.
func Annotate(pngBytes []byte, elements []types.Element, highlight string) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	dc.DrawImage(img, 0, 0)

	for _, el := range elements {
		drawBox(dc, el, bounds, el.Ref == highlight)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawBox(dc *gg.Context, el types.Element, imgBounds image.Rectangle, isHighlight bool) {
	x, y, w, h := clampToImage(el.X, el.Y, el.W, el.H, imgBounds)
	if w <= 0 || h <= 0 {
		return
	}

	dc.SetColor(overlayColor)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	lineColor := borderColor
	if isHighlight {
		lineColor = obstructedColor
	}
	dc.SetColor(lineColor)
	dc.SetLineWidth(2)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()

	if el.Ref != "" {
		dc.SetColor(color.White)
		dc.DrawString(el.Ref, x+2, y+12)
	}
}

func clampToImage(ex, ey, ew, eh float64, b image.Rectangle) (x, y, w, h float64) {
	x, y, w, h = ex-float64(b.Min.X), ey-float64(b.Min.Y), ew, eh
	imgW, imgH := float64(b.Dx()), float64(b.Dy())
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	return x, y, w, h
}
