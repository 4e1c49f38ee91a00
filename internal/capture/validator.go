package capture

// validatorGrid is the number of sample positions per axis.
const validatorGrid = 8

// IsValid reports whether a frame has real content. It samples an 8x8 grid
// spread evenly across the frame and accepts it when at least one sample is
// non-zero and at least one sample differs from the first. Blank frames and
// frames cleared to a single color are rejected.
func IsValid(f *Frame) bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return false
	}
	if len(f.Pix) < f.Width*f.Height*BytesPerPixel {
		return false
	}

	var first uint32
	sampled, nonZero, different := false, false, false
	for gy := 0; gy < validatorGrid; gy++ {
		y := gy * (f.Height - 1) / (validatorGrid - 1)
		for gx := 0; gx < validatorGrid; gx++ {
			x := gx * (f.Width - 1) / (validatorGrid - 1)
			b, g, r, a := f.At(x, y)
			px := uint32(b) | uint32(g)<<8 | uint32(r)<<16 | uint32(a)<<24

			if px != 0 {
				nonZero = true
			}
			if !sampled {
				first, sampled = px, true
			} else if px != first {
				different = true
			}
			if nonZero && different {
				return true
			}
		}
	}
	return false
}
