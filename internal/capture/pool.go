package capture

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// Releaser is a GPU object that must be released when no longer used.
type Releaser interface {
	Release()
}

// Device is a graphics device together with its immediate context.
type Device interface {
	Releaser
}

// Staging is a CPU-readable surface of a fixed size.
type Staging interface {
	Releaser
}

// DeviceFactory creates the objects a Pool manages.
type DeviceFactory interface {
	CreateDevice() (Device, error)
	CreateStaging(dev Device, width, height int) (Staging, error)
}

// Pool owns a long-lived device and a staging surface that is recreated only
// when the requested size changes. Handles returned by Acquire are not
// synchronized by the pool; callers serialize GPU work on them.
type Pool struct {
	mu      sync.Mutex
	factory DeviceFactory

	device  Device
	staging Staging
	width   int
	height  int
}

// NewPool creates an empty pool over factory.
func NewPool(factory DeviceFactory) *Pool {
	return &Pool{factory: factory}
}

// EnsureReady creates the device once.
func (p *Pool) EnsureReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureReadyLocked()
}

func (p *Pool) ensureReadyLocked() error {
	if p.device != nil {
		return nil
	}
	dev, err := p.factory.CreateDevice()
	if err != nil {
		return fmt.Errorf("%w: create device: %v", ErrResource, err)
	}
	p.device = dev
	logger.WithComponent("pool").Debug().Msg("Created capture device")
	return nil
}

// EnsureStaging makes sure a staging surface of width x height exists.
func (p *Pool) EnsureStaging(width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureReadyLocked(); err != nil {
		return err
	}
	return p.ensureStagingLocked(width, height)
}

func (p *Pool) ensureStagingLocked(width, height int) error {
	if p.staging != nil && p.width == width && p.height == height {
		return nil
	}
	if p.staging != nil {
		p.staging.Release()
		p.staging = nil
	}

	st, err := p.factory.CreateStaging(p.device, width, height)
	if err != nil {
		return fmt.Errorf("%w: create %dx%d staging surface: %v", ErrResource, width, height, err)
	}
	p.staging = st
	p.width = width
	p.height = height

	logger.WithComponent("pool").Debug().
		Int("width", width).
		Int("height", height).
		Msg("Created staging surface")
	return nil
}

// Acquire ensures the device and a width x height staging surface exist and
// returns both.
func (p *Pool) Acquire(width, height int) (Device, Staging, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureReadyLocked(); err != nil {
		return nil, nil, err
	}
	if err := p.ensureStagingLocked(width, height); err != nil {
		return nil, nil, err
	}
	return p.device, p.staging, nil
}

// Device returns the pooled device, creating it if needed.
func (p *Pool) Device() (Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureReadyLocked(); err != nil {
		return nil, err
	}
	return p.device, nil
}

// Invalidate drops every pooled object so the next call recreates them.
// Used after the device is lost.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

// Close releases everything the pool holds.
func (p *Pool) Close() error {
	p.Invalidate()
	return nil
}

func (p *Pool) releaseLocked() {
	if p.staging != nil {
		p.staging.Release()
		p.staging = nil
	}
	if p.device != nil {
		p.device.Release()
		p.device = nil
	}
	p.width, p.height = 0, 0
}
