package geometry

import "math"

const (
	// MinDownscaleRatio is the smallest ratio accepted for detection downscaling.
	MinDownscaleRatio = 0.1

	// downscaleCeiling: ratios at or above this are treated as "no downscale".
	downscaleCeiling = 0.9999
)

// EffectiveRatio turns a configured capture scale into the ratio actually
// applied. ok is false when no downscale should happen.
func EffectiveRatio(scale float64) (ratio float64, ok bool) {
	if !(scale > 0 && scale < downscaleCeiling) {
		return 1, false
	}
	return math.Max(scale, MinDownscaleRatio), true
}

// ScaledSize returns max(1, round(n*ratio)).
func ScaledSize(n int, ratio float64) int {
	s := int(math.Round(float64(n) * ratio))
	if s < 1 {
		return 1
	}
	return s
}

// ToNative maps a region detected on a buffer downscaled by ratio back to the
// native resolution, rounding each component to the nearest pixel.
func ToNative(r Rect, ratio float64) Rect {
	if ratio <= 0 || ratio == 1 {
		return r
	}
	return Rect{
		X:      roundInt(float64(r.X) / ratio),
		Y:      roundInt(float64(r.Y) / ratio),
		Width:  roundInt(float64(r.Width) / ratio),
		Height: roundInt(float64(r.Height) / ratio),
	}
}

// ToNativeAll applies ToNative to every region.
func ToNativeAll(rs []Rect, ratio float64) []Rect {
	out := make([]Rect, len(rs))
	for i, r := range rs {
		out[i] = ToNative(r, ratio)
	}
	return out
}

// Enlarge grows r by factor s about its center:
//
//	w' = round(w*s), h' = round(h*s)
//	x' = x - round((w*s - w)/2), y' = y - round((h*s - h)/2)
func Enlarge(r Rect, s float64) Rect {
	fw := float64(r.Width) * s
	fh := float64(r.Height) * s
	dx := roundInt((fw - float64(r.Width)) / 2)
	dy := roundInt((fh - float64(r.Height)) / 2)
	return Rect{
		X:      r.X - dx,
		Y:      r.Y - dy,
		Width:  roundInt(fw),
		Height: roundInt(fh),
	}
}

// EnlargeAll applies Enlarge to every region.
func EnlargeAll(rs []Rect, s float64) []Rect {
	out := make([]Rect, len(rs))
	for i, r := range rs {
		out[i] = Enlarge(r, s)
	}
	return out
}

// roundInt rounds half away from zero.
func roundInt(v float64) int {
	return int(math.Round(v))
}
