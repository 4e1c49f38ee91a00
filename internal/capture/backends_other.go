//go:build !windows

package capture

import "github.com/bryanchriswhite/screenmask/internal/display"

// unsupportedDriver stands in for output duplication, which only exists on
// Windows.
type unsupportedDriver struct{}

func (unsupportedDriver) Open(display.Descriptor, bool) (DuplicationSession, error) {
	return nil, ErrNotSupported
}

// NewPlatformRouter builds the router for this platform: the duplication
// methods, which always report ErrNotSupported here, and the X11 fallback.
func NewPlatformRouter(selector *Selector) *Router {
	var backends []Backend
	for _, p := range Policies() {
		backends = append(backends, NewDuplicationBackend(p, unsupportedDriver{}))
	}
	return NewRouter(selector, backends, NewX11Backend())
}

// ListOutputs reports the outputs duplication can reach. There are none here.
func ListOutputs() ([]OutputBounds, error) {
	return nil, ErrNotSupported
}
