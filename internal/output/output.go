// Package output delivers pipeline results to observers: throttled events
// for the overlay and a Motion JPEG preview for debugging.
package output

import (
	"image"
)

// Output defines the interface for preview frame outputs.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	// Width of the scaled preview; 0 keeps the native width.
	Width   int
	Quality int
}
