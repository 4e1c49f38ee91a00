package capture

import (
	"fmt"
	"image"
)

// BytesPerPixel is the size of one BGRA pixel.
const BytesPerPixel = 4

// Frame is a captured image: BGRA, row-major, no row padding.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*BytesPerPixel),
	}
}

// Validate checks the buffer-length invariant.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Pix) != want {
		return fmt.Errorf("%w: %d bytes for %dx%d, want %d", ErrInvalidFrame, len(f.Pix), f.Width, f.Height, want)
	}
	return nil
}

// Stride returns the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * BytesPerPixel
}

// At returns the B, G, R, A bytes at (x, y).
func (f *Frame) At(x, y int) (b, g, r, a byte) {
	i := y*f.Stride() + x*BytesPerPixel
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]
}

// ToRGBA returns a converted copy for use with the image packages.
// Alpha is forced opaque; compositors leave it undefined.
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		o := i * BytesPerPixel
		img.Pix[o] = f.Pix[o+2]
		img.Pix[o+1] = f.Pix[o+1]
		img.Pix[o+2] = f.Pix[o]
		img.Pix[o+3] = 255
	}
	return img
}

// copyRows copies height rows of width*4 bytes from a buffer whose rows are
// pitch bytes apart into a tightly packed frame.
func copyRows(dst *Frame, src []byte, pitch int) error {
	row := dst.Stride()
	if pitch < row {
		return fmt.Errorf("%w: row pitch %d smaller than row %d", ErrInvalidFrame, pitch, row)
	}
	if need := (dst.Height-1)*pitch + row; len(src) < need {
		return fmt.Errorf("%w: source has %d bytes, need %d", ErrInvalidFrame, len(src), need)
	}
	if pitch == row {
		copy(dst.Pix, src[:row*dst.Height])
		return nil
	}
	for y := 0; y < dst.Height; y++ {
		copy(dst.Pix[y*row:(y+1)*row], src[y*pitch:y*pitch+row])
	}
	return nil
}
