//go:build windows

package capture

// NewPlatformRouter builds the Windows router: one duplication backend per
// policy sharing a pooled device, and GDI as the fallback.
func NewPlatformRouter(selector *Selector) *Router {
	pool := NewPool(d3dFactory{})
	driver := newDXGIDriver(pool)

	var backends []Backend
	for _, p := range Policies() {
		backends = append(backends, NewDuplicationBackend(p, driver))
	}

	r := NewRouter(selector, backends, NewGDIBackend())
	r.AddCloser(pool)
	return r
}
