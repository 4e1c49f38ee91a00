package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	labelPadding = 5
	labelOpacity = 0.85
)

var (
	labelText       = color.RGBA{255, 255, 255, 255}
	labelBackground = color.RGBA{30, 30, 40, 220}
)

// drawLabel writes text in the top-left corner of img on a translucent
// background.
func drawLabel(img *image.RGBA, text string) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	height := face.Metrics().Height.Ceil()
	width := font.MeasureString(face, text).Ceil()

	origin := img.Bounds().Min
	background := image.Rect(0, 0, width+labelPadding*2, height+labelPadding*2).Add(origin)
	blend(img, background, image.NewUniform(labelBackground), image.Point{}, labelOpacity)

	textImg := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(labelText),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	d.DrawString(text)

	textRect := textImg.Bounds().Add(origin.Add(image.Pt(labelPadding, labelPadding)))
	blend(img, textRect, textImg, image.Point{}, 1.0)
}
