package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/screenmask/internal/config"
)

const (
	minPixelBlock = 8
	minBlurRadius = 2
)

// applyMask obscures r on img with the given style. It returns false when r
// lies entirely outside img.
func applyMask(img *image.RGBA, r image.Rectangle, style string) bool {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return false
	}

	switch style {
	case config.MosaicStyleSolid:
		draw.Draw(img, r, image.Black, image.Point{}, draw.Src)
	case config.MosaicStyleBlur:
		blur(img, r, max(minBlurRadius, min(r.Dx(), r.Dy())/16))
	default:
		pixelate(img, r, max(minPixelBlock, min(r.Dx(), r.Dy())/8))
	}
	return true
}

// pixelate averages r down to one pixel per block and scales it back up
// without interpolation, leaving uniform block x block cells.
func pixelate(img *image.RGBA, r image.Rectangle, block int) {
	small := shrink(img, r, block)
	draw.NearestNeighbor.Scale(img, r, small, small.Bounds(), draw.Src, nil)
}

// blur shrinks r by twice the radius and interpolates it back.
func blur(img *image.RGBA, r image.Rectangle, radius int) {
	small := shrink(img, r, radius*2)
	draw.BiLinear.Scale(img, r, small, small.Bounds(), draw.Src, nil)
}

func shrink(img *image.RGBA, r image.Rectangle, factor int) *image.RGBA {
	w := max(1, (r.Dx()+factor-1)/factor)
	h := max(1, (r.Dy()+factor-1)/factor)
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(small, small.Bounds(), img, r, draw.Src, nil)
	return small
}

// blend draws src onto dst over r, scaled by opacity.
func blend(dst *image.RGBA, r image.Rectangle, src image.Image, sp image.Point, opacity float64) {
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sp, mask, image.Point{}, draw.Over)
}
