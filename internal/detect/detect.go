// Package detect defines the contract between the pipeline and the region
// detector, plus an HTTP client for detectors running as a separate service.
package detect

import (
	"context"
	"errors"
	"math"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
)

// ErrDetect wraps every failure reported by a Detector.
var ErrDetect = errors.New("detection failed")

// Config is forwarded to the detector on every call.
type Config struct {
	Grayscale           bool           `json:"grayscale"`
	ImageScale          float64        `json:"image_scale"`
	MinSizePx           int            `json:"min_size_px"`
	MaxSizePx           int            `json:"max_size_px"`
	MinSizeRatio        float64        `json:"min_size_ratio,omitempty"`
	MaxSizeRatio        float64        `json:"max_size_ratio,omitempty"`
	ScaleFactor         float64        `json:"scale_factor"`
	NeighborCount       int            `json:"neighbor_count"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// FromConfig copies the detection section of the application config.
func FromConfig(c config.DetectionConfig) Config {
	return Config{
		Grayscale:           c.Grayscale,
		ImageScale:          c.ImageScale,
		MinSizePx:           c.MinSizePx,
		MaxSizePx:           c.MaxSizePx,
		MinSizeRatio:        c.MinSizeRatio,
		MaxSizeRatio:        c.MaxSizeRatio,
		ScaleFactor:         c.ScaleFactor,
		NeighborCount:       c.NeighborCount,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// EffectiveSizes resolves the min/max region size in pixels for a buffer of
// the given dimensions. A positive ratio overrides the matching pixel bound
// and is applied to the shorter side. Zero means unbounded.
func (c Config) EffectiveSizes(width, height int) (minPx, maxPx int) {
	short := float64(min(width, height))
	minPx, maxPx = c.MinSizePx, c.MaxSizePx
	if c.MinSizeRatio > 0 {
		minPx = int(math.Round(short * c.MinSizeRatio))
	}
	if c.MaxSizeRatio > 0 {
		maxPx = int(math.Round(short * c.MaxSizeRatio))
	}
	return minPx, maxPx
}

// Detector finds regions in a frame. Regions are expressed in the frame's
// own pixel space.
type Detector interface {
	Detect(ctx context.Context, frame *capture.Frame, cfg Config) ([]geometry.Rect, error)
}

// ReadyChecker is implemented by detectors that need warm-up before they
// can serve requests.
type ReadyChecker interface {
	Ready() bool
}

// IsReady reports whether d can serve requests. Detectors without a
// readiness notion are always ready.
func IsReady(d Detector) bool {
	if rc, ok := d.(ReadyChecker); ok {
		return rc.Ready()
	}
	return d != nil
}

// Func adapts a plain function to Detector.
type Func func(ctx context.Context, frame *capture.Frame, cfg Config) ([]geometry.Rect, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, frame *capture.Frame, cfg Config) ([]geometry.Rect, error) {
	return f(ctx, frame, cfg)
}
