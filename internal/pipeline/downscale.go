package pipeline

import (
	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
)

// Downscale resizes src by ratio with nearest-neighbor sampling. src is
// returned unchanged when the target size equals the source size.
func Downscale(src *capture.Frame, ratio float64) *capture.Frame {
	dw := geometry.ScaledSize(src.Width, ratio)
	dh := geometry.ScaledSize(src.Height, ratio)
	if dw == src.Width && dh == src.Height {
		return src
	}

	dst := capture.NewFrame(dw, dh)
	srcStride := src.Stride()
	dstStride := dst.Stride()

	// Column lookup is the same for every row.
	xs := make([]int, dw)
	for dx := range xs {
		xs[dx] = min(dx*src.Width/dw, src.Width-1) * capture.BytesPerPixel
	}

	for dy := 0; dy < dh; dy++ {
		sy := min(dy*src.Height/dh, src.Height-1)
		srow := src.Pix[sy*srcStride : (sy+1)*srcStride]
		drow := dst.Pix[dy*dstStride : (dy+1)*dstStride]
		for dx, sx := range xs {
			copy(drow[dx*capture.BytesPerPixel:dx*capture.BytesPerPixel+capture.BytesPerPixel], srow[sx:sx+capture.BytesPerPixel])
		}
	}
	return dst
}
