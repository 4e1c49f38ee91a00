package display

import "math"

// baseDPI is the DPI that corresponds to a scale factor of 1.0.
const baseDPI = 96.0

// ScaleFromDPI converts a DPI reading into a scale factor rounded to the
// nearest 0.25 step, the granularity desktop environments offer. Readings
// that are missing or implausible map to 1.0.
func ScaleFromDPI(dpi float64) float64 {
	if dpi <= 0 || math.IsNaN(dpi) || math.IsInf(dpi, 0) {
		return 1.0
	}
	scale := math.Round(dpi/baseDPI*4) / 4
	if scale < 1 {
		return 1.0
	}
	return scale
}
