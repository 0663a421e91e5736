// Package overlay draws recognition results onto frames.
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"github.com/Tutortoise/face-attendance-service/models"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultQuality = 80
	lineWidth      = 2
	labelPadding   = 3
)

var (
	Known   = color.RGBA{0, 255, 0, 255}
	Unknown = color.RGBA{255, 0, 0, 255}
	text    = color.RGBA{255, 255, 255, 255}
)

// Annotate returns a copy of img with a box and name label per entry.
func Annotate(img image.Image, result models.RecognitionResult) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)

	for _, e := range result {
		c := Unknown
		if e.IsKnown {
			c = Known
		}
		x1, y1 := e.FaceBox.X, e.FaceBox.Y
		x2, y2 := x1+e.FaceBox.Width-1, y1+e.FaceBox.Height-1

		for w := 0; w < lineWidth; w++ {
			drawHLine(dst, x1, x2, y1+w, c)
			drawHLine(dst, x1, x2, y2-w, c)
			drawVLine(dst, y1, y2, x1+w, c)
			drawVLine(dst, y1, y2, x2-w, c)
		}
		drawLabel(dst, e.Username, x1, y2+1, c)
	}
	return dst
}

// drawLabel writes name on a filled strip whose top-left corner is (x, y).
// The strip moves above the box when it would leave the frame.
func drawLabel(dst *image.RGBA, name string, x, y int, bg color.RGBA) {
	if name == "" {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, name).Ceil() + 2*labelPadding
	height := face.Metrics().Height.Ceil() + 2*labelPadding

	if y+height > dst.Bounds().Max.Y {
		y -= height
	}
	strip := image.Rect(x, y, x+width, y+height).Intersect(dst.Bounds())
	if strip.Empty() {
		return
	}
	draw.Draw(dst, strip, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(text),
		Face: face,
		Dot:  fixed.P(x+labelPadding, y+labelPadding+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(name)
}

func drawHLine(dst *image.RGBA, x1, x2, y int, c color.RGBA) {
	bounds := dst.Bounds()
	if y < bounds.Min.Y || y >= bounds.Max.Y {
		return
	}
	for x := x1; x <= x2; x++ {
		if x >= bounds.Min.X && x < bounds.Max.X {
			dst.SetRGBA(x, y, c)
		}
	}
}

func drawVLine(dst *image.RGBA, y1, y2, x int, c color.RGBA) {
	bounds := dst.Bounds()
	if x < bounds.Min.X || x >= bounds.Max.X {
		return
	}
	for y := y1; y <= y2; y++ {
		if y >= bounds.Min.Y && y < bounds.Max.Y {
			dst.SetRGBA(x, y, c)
		}
	}
}

// EncodeJPEG writes img as JPEG. Quality outside 1..100 uses DefaultQuality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// Render annotates img and returns the JPEG bytes.
func Render(img image.Image, result models.RecognitionResult, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, Annotate(img, result), quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
