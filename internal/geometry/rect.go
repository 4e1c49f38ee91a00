// Package geometry holds the rectangle type shared by detection and masking,
// plus the transforms between detection space and display space.
package geometry

import "image"

// Rect is an axis-aligned rectangle in the pixel space of a specific buffer.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewRect builds a Rect.
func NewRect(x, y, width, height int) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.Width }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.Height }

// Area returns Width*Height.
func (r Rect) Area() int { return r.Width * r.Height }

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return r.X <= o.X && r.Y <= o.Y && r.Right() >= o.Right() && r.Bottom() >= o.Bottom()
}

// Intersects reports whether r and o share at least one pixel.
func (r Rect) Intersects(o Rect) bool {
	return !(r.Right() <= o.X || o.Right() <= r.X || r.Bottom() <= o.Y || o.Bottom() <= r.Y)
}

// Intersection returns the overlap of r and o. ok is false when they do not
// intersect.
func (r Rect) Intersection(o Rect) (Rect, bool) {
	if !r.Intersects(o) {
		return Rect{}, false
	}
	x := max(r.X, o.X)
	y := max(r.Y, o.Y)
	return Rect{
		X:      x,
		Y:      y,
		Width:  min(r.Right(), o.Right()) - x,
		Height: min(r.Bottom(), o.Bottom()) - y,
	}, true
}

// Clip returns r limited to the bounds rectangle.
func (r Rect) Clip(bounds Rect) Rect {
	in, ok := r.Intersection(bounds)
	if !ok {
		return Rect{}
	}
	return in
}

// ClipAll clips every rectangle to bounds and drops the ones that end up
// empty.
func ClipAll(rs []Rect, bounds Rect) []Rect {
	out := make([]Rect, 0, len(rs))
	for _, r := range rs {
		if r.Empty() {
			continue
		}
		if bounds.Contains(r) {
			out = append(out, r)
			continue
		}
		if c := r.Clip(bounds); !c.Empty() {
			out = append(out, c)
		}
	}
	return out
}

// ImageRect converts r to an image.Rectangle.
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.Right(), r.Bottom())
}
