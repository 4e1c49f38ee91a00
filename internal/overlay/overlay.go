// Package overlay owns the mask layer drawn over the monitored display.
package overlay

import (
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
)

// Events published by the Manager.
const (
	EventMosaicUpdate = "mosaic-update"
	EventVisibility   = "overlay-visibility"
	EventOpen         = "overlay-open"
	EventClose        = "overlay-close"
)

// Overlay is the surface the pipeline paints masks onto.
type Overlay interface {
	Open(d display.Descriptor) error
	// UpdateMask replaces the current masks. Coordinates are physical
	// pixels relative to the display origin; dpiScale lets a renderer
	// working in logical units convert them.
	UpdateMask(masks []geometry.Rect, renderScale, dpiScale float64)
	Show()
	Hide()
	Close()
}

// Publisher delivers events to whoever renders or observes the overlay.
type Publisher interface {
	Publish(event string, payload any)
}

// MaskPayload is the body of a mosaic-update event.
type MaskPayload struct {
	Mosaics     []geometry.Rect `json:"mosaics"`
	ScaleFactor float64         `json:"scale_factor"`
	Seq         uint64          `json:"seq"`
	Ts          int64           `json:"ts"`
}

// VisibilityPayload is the body of an overlay-visibility event.
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// OpenPayload is the body of an overlay-open event.
type OpenPayload struct {
	Display display.Descriptor `json:"display"`
	Style   string             `json:"style"`
}
