package canvas

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/saorsa-labs/fae/internal/logging"
)

// chartPNG renders a bar chart into a PNG data URI. Deliberately minimal:
// bars scaled to the max value over a dark background, no axes.
func chartPNG(data *ChartData, w, h int) string {
	if w <= 0 {
		w = 480
	}
	if h <= 0 {
		h = 240
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{28, 28, 30, 255}
	bar := color.RGBA{94, 132, 226, 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	if n := len(data.Values); n > 0 {
		maxVal := data.Values[0]
		for _, v := range data.Values[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		if maxVal <= 0 {
			maxVal = 1
		}
		const pad = 8
		slot := (w - 2*pad) / n
		gap := slot / 5
		for i, v := range data.Values {
			if v < 0 {
				v = 0
			}
			barH := int(float64(h-2*pad) * v / maxVal)
			x0 := pad + i*slot + gap/2
			x1 := x0 + slot - gap
			rect := image.Rect(x0, h-pad-barH, x1, h-pad)
			draw.Draw(img, rect, &image.Uniform{bar}, image.Point{}, draw.Src)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		logging.Warnf("[canvas] chart encode failed: %v", err)
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
