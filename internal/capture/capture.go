// Package capture acquires raw BGRA frames of a display, choosing between
// several OS capture strategies and learning per display which one to prefer.
package capture

import (
	"errors"

	"github.com/bryanchriswhite/screenmask/internal/display"
)

// Method identifies a capture strategy.
type Method int

const (
	// MethodOptimized duplicates the output with a pooled device and staging surface.
	MethodOptimized Method = iota
	// MethodStandard duplicates the output with a fresh device per call.
	MethodStandard
	// MethodAlternative re-initializes COM and waits for accumulated frames.
	MethodAlternative
	// MethodGDI is the bitmap-copy fallback. It is not part of the selector.
	MethodGDI
)

func (m Method) String() string {
	switch m {
	case MethodOptimized:
		return "optimized"
	case MethodStandard:
		return "standard"
	case MethodAlternative:
		return "alternative"
	case MethodGDI:
		return "gdi"
	default:
		return "unknown"
	}
}

// MarshalText renders the method by name so JSON maps keyed by Method stay readable.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

var (
	// ErrNotSupported is returned by backends that cannot run on this platform.
	ErrNotSupported = errors.New("capture method not supported on this platform")

	// ErrNoMatchingOutput is returned when no adapter output matches the display geometry.
	ErrNoMatchingOutput = errors.New("no output matches display")

	// ErrDuplicationUnavailable is returned when a duplication session cannot be created.
	ErrDuplicationUnavailable = errors.New("output duplication unavailable")

	// ErrAcquireTimeout is returned when no compositor frame arrived in time.
	ErrAcquireTimeout = errors.New("frame acquisition timed out")

	// ErrResource is returned when a device or staging surface cannot be created.
	ErrResource = errors.New("capture resource unavailable")

	// ErrInvalidFrame is returned for frames whose buffer does not match their size.
	ErrInvalidFrame = errors.New("invalid frame buffer")

	// ErrAllMethodsFailed is returned when every method, fallback included, failed.
	ErrAllMethodsFailed = errors.New("all capture methods failed")
)

// Backend is a single capture strategy.
type Backend interface {
	Capture(d display.Descriptor) (*Frame, error)
	Method() Method
}

// Capturer captures a display by whatever means it chooses.
type Capturer interface {
	Capture(d display.Descriptor) (*Frame, error)
}
