package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// Router captures a display by walking the selector's method order, checking
// each frame with the content validator, and falling back to the bitmap-copy
// backend when every adaptive method fails.
type Router struct {
	selector *Selector
	fallback Backend
	validate func(*Frame) bool

	mu       sync.RWMutex
	backends map[Method]Backend
	closers  []io.Closer
}

// NewRouter creates a router over backends. fallback may be nil.
func NewRouter(selector *Selector, backends []Backend, fallback Backend) *Router {
	if selector == nil {
		selector = NewSelector()
	}
	r := &Router{
		selector: selector,
		fallback: fallback,
		validate: IsValid,
		backends: make(map[Method]Backend, len(backends)),
	}
	for _, b := range backends {
		r.backends[b.Method()] = b
	}
	return r
}

// AddCloser registers a resource to release when the router closes.
func (r *Router) AddCloser(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

// Selector returns the router's method selector.
func (r *Router) Selector() *Selector {
	return r.selector
}

// Capture implements Capturer.
func (r *Router) Capture(d display.Descriptor) (*Frame, error) {
	log := logger.WithComponent("capture-router")

	var lastErr error
	for _, m := range r.selector.Order(d.ID) {
		r.mu.RLock()
		b, ok := r.backends[m]
		r.mu.RUnlock()

		if !ok {
			lastErr = fmt.Errorf("%s: %w", m, ErrNotSupported)
			r.selector.RecordFailure(d.ID, m)
			continue
		}

		frame, err := b.Capture(d)
		if err == nil && !r.validate(frame) {
			err = fmt.Errorf("%s: %w: blank or uniform content", m, ErrInvalidFrame)
		}
		if err != nil {
			log.Debug().
				Err(err).
				Int("display", d.ID).
				Str("method", m.String()).
				Msg("Capture method failed")
			r.selector.RecordFailure(d.ID, m)
			lastErr = err
			continue
		}

		r.selector.RecordSuccess(d.ID, m)
		return frame, nil
	}

	if r.fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrAllMethodsFailed, lastErr)
	}

	frame, err := r.fallback.Capture(d)
	if err == nil {
		err = frame.Validate()
	}
	if err != nil {
		log.Warn().
			Err(err).
			Int("display", d.ID).
			Str("method", r.fallback.Method().String()).
			Msg("Fallback capture failed")
		return nil, fmt.Errorf("%w: %w", ErrAllMethodsFailed, errors.Join(lastErr, err))
	}

	log.Debug().
		Int("display", d.ID).
		Str("method", r.fallback.Method().String()).
		Msg("Using fallback capture")
	return frame, nil
}

// Close releases backends and registered resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, b := range r.backends {
		if c, ok := b.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if c, ok := r.fallback.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}
