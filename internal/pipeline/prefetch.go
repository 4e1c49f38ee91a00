// Package pipeline runs the capture, detect and mask loop for one display.
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// PrefetchStats counts prefetch outcomes since the Prefetcher was created.
type PrefetchStats struct {
	Triggered uint64 `json:"triggered"`
	Skipped   uint64 `json:"skipped"`
	Stored    uint64 `json:"stored"`
	Dropped   uint64 `json:"dropped"`
	Stale     uint64 `json:"stale"`
	Failed    uint64 `json:"failed"`
}

// ActiveFunc reports the display to capture and the session it belongs to.
type ActiveFunc func() (d display.Descriptor, session uint64, ok bool)

// Prefetcher captures the next frame in the background while the current
// one is processed. It holds at most one frame; a newer frame overwrites an
// unconsumed one. Frames are tagged with the session that was active when
// the capture started and only that session can take them.
type Prefetcher struct {
	capturer capture.Capturer
	lock     sync.Locker
	active   ActiveFunc

	platformFn func() (capture.PlatformContext, error)

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	slot    *capture.Frame
	slotTag uint64
	stats   PrefetchStats
}

// NewPrefetcher creates a prefetcher. lock serializes captures with the
// caller's own synchronous captures; active reports the display to capture.
func NewPrefetcher(c capture.Capturer, lock sync.Locker, active ActiveFunc) *Prefetcher {
	return &Prefetcher{
		capturer:   c,
		lock:       lock,
		active:     active,
		platformFn: capture.AcquirePlatformContext,
	}
}

// Trigger starts a background capture unless one is already running. It
// reports whether a capture was started.
func (p *Prefetcher) Trigger() bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.count(func(s *PrefetchStats) { s.Skipped++ })
		return false
	}
	p.count(func(s *PrefetchStats) { s.Triggered++ })

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.run()
	}()
	return true
}

func (p *Prefetcher) run() {
	log := logger.WithComponent("prefetch")

	ctx, err := p.platformFn()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set up capture thread")
		p.count(func(s *PrefetchStats) { s.Failed++ })
		return
	}
	defer ctx.Release()

	d, session, ok := p.active()
	if !ok {
		return
	}

	p.lock.Lock()
	frame, err := p.capturer.Capture(d)
	p.lock.Unlock()

	if err != nil {
		log.Debug().Err(err).Int("display", d.ID).Msg("Prefetch capture failed")
		p.count(func(s *PrefetchStats) { s.Failed++ })
		return
	}

	p.mu.Lock()
	if p.slot != nil {
		p.stats.Dropped++
	}
	p.slot = frame
	p.slotTag = session
	p.stats.Stored++
	p.mu.Unlock()
}

// Take removes the stored frame and returns it when it was captured for
// session. A frame from another session is discarded and nil is returned.
func (p *Prefetcher) Take(session uint64) *capture.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, tag := p.slot, p.slotTag
	p.slot = nil
	if f != nil && tag != session {
		p.stats.Stale++
		return nil
	}
	return f
}

// Clear discards any stored frame.
func (p *Prefetcher) Clear() {
	p.mu.Lock()
	p.slot = nil
	p.mu.Unlock()
}

// InFlight reports whether a background capture is running.
func (p *Prefetcher) InFlight() bool {
	return p.inFlight.Load()
}

// Stats returns a copy of the counters.
func (p *Prefetcher) Stats() PrefetchStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Wait blocks until every started capture has finished.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

func (p *Prefetcher) count(fn func(*PrefetchStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
