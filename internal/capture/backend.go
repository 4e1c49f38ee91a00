package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// GeometryTolerance is how far, in pixels, an output's size may differ from
// the display's before it no longer counts as the same screen.
const GeometryTolerance = 10

// DuplicationPolicy holds the tuning that distinguishes the duplication methods.
type DuplicationPolicy struct {
	Method Method

	// Pooled reuses the device and staging surface across calls.
	Pooled bool
	// Retries is the number of attempts at creating the duplication session.
	Retries    int
	RetryDelay time.Duration
	// AcquireTimeout bounds each wait for a compositor frame.
	AcquireTimeout time.Duration
	// ReinitCOM enters a fresh platform context for the duration of the call.
	ReinitCOM bool
	// AccumulatedAttempts, when non-zero, is how many acquisitions are tried
	// until one reports at least one accumulated frame.
	AccumulatedAttempts int
	AccumulatedDelay    time.Duration
}

var (
	OptimizedPolicy = DuplicationPolicy{
		Method:         MethodOptimized,
		Pooled:         true,
		Retries:        5,
		RetryDelay:     150 * time.Millisecond,
		AcquireTimeout: 250 * time.Millisecond,
	}

	StandardPolicy = DuplicationPolicy{
		Method:         MethodStandard,
		Retries:        3,
		RetryDelay:     100 * time.Millisecond,
		AcquireTimeout: 300 * time.Millisecond,
	}

	AlternativePolicy = DuplicationPolicy{
		Method:              MethodAlternative,
		Retries:             5,
		RetryDelay:          200 * time.Millisecond,
		AcquireTimeout:      1000 * time.Millisecond,
		ReinitCOM:           true,
		AccumulatedAttempts: 10,
		AccumulatedDelay:    100 * time.Millisecond,
	}
)

// Policies returns the duplication policies from highest to lowest performance.
func Policies() []DuplicationPolicy {
	return []DuplicationPolicy{OptimizedPolicy, StandardPolicy, AlternativePolicy}
}

// OutputBounds is an output's desktop rectangle as the compositor reports it.
type OutputBounds struct {
	Left, Top, Right, Bottom int
}

// MatchesOutput reports whether an output is the display: same origin, and
// a size within GeometryTolerance. Width is right-left+1 and height is
// bottom-top; the tolerance absorbs the off-by-one.
func MatchesOutput(d display.Descriptor, o OutputBounds) bool {
	if d.X != o.Left || d.Y != o.Top {
		return false
	}
	ow := o.Right - o.Left + 1
	oh := o.Bottom - o.Top
	return abs(d.Width-ow) <= GeometryTolerance && abs(d.Height-oh) <= GeometryTolerance
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DuplicationDriver opens duplication sessions on the platform's compositor.
type DuplicationDriver interface {
	// Open locates the output matching d and creates a duplication session on
	// it. Errors wrapping ErrDuplicationUnavailable are retried by the caller.
	Open(d display.Descriptor, pooled bool) (DuplicationSession, error)
}

// DuplicationSession is one subscription to an output's frames.
type DuplicationSession interface {
	// AcquireFrame waits up to timeout for the next frame and reports the
	// number of frames the compositor accumulated since the last one.
	AcquireFrame(timeout time.Duration) (accumulated uint32, err error)
	// ReadFrame copies the acquired frame out through a staging surface.
	ReadFrame() (*Frame, error)
	// ReleaseFrame hands the acquired frame back to the compositor.
	ReleaseFrame()
	Close() error
}

// DuplicationBackend runs the duplication algorithm under one policy.
type DuplicationBackend struct {
	policy DuplicationPolicy
	driver DuplicationDriver

	sleep      func(time.Duration)
	platformFn func() (PlatformContext, error)
}

// NewDuplicationBackend creates a backend for policy over driver.
func NewDuplicationBackend(policy DuplicationPolicy, driver DuplicationDriver) *DuplicationBackend {
	return &DuplicationBackend{
		policy:     policy,
		driver:     driver,
		sleep:      time.Sleep,
		platformFn: AcquirePlatformContext,
	}
}

// Method implements Backend.
func (b *DuplicationBackend) Method() Method {
	return b.policy.Method
}

// Capture implements Backend.
func (b *DuplicationBackend) Capture(d display.Descriptor) (*Frame, error) {
	log := logger.WithComponent("duplication").With().
		Str("method", b.policy.Method.String()).
		Int("display", d.ID).
		Logger()

	if b.policy.ReinitCOM {
		pc, err := b.platformFn()
		if err != nil {
			return nil, fmt.Errorf("%w: platform context: %v", ErrResource, err)
		}
		defer pc.Release()
	}

	sess, err := b.open(d)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	accumulated, err := b.acquire(sess)
	if err != nil {
		return nil, err
	}
	defer sess.ReleaseFrame()

	if accumulated == 0 {
		log.Debug().Msg("No accumulated frames")
	}

	frame, err := sess.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%s read frame: %w", b.policy.Method, err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	log.Debug().Int("width", frame.Width).Int("height", frame.Height).Msg("Frame captured")
	return frame, nil
}

// open creates the session, retrying while duplication is transiently unavailable.
func (b *DuplicationBackend) open(d display.Descriptor) (DuplicationSession, error) {
	retries := max(b.policy.Retries, 1)

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		sess, err := b.driver.Open(d, b.policy.Pooled)
		if err == nil {
			if attempt > 1 {
				logger.WithComponent("duplication").Debug().
					Str("method", b.policy.Method.String()).
					Int("attempt", attempt).
					Msg("Output duplication created after retry")
			}
			return sess, nil
		}
		if !errors.Is(err, ErrDuplicationUnavailable) {
			return nil, err
		}
		lastErr = err
		if attempt < retries {
			b.sleep(b.policy.RetryDelay)
		}
	}
	return nil, fmt.Errorf("%s: duplication failed after %d attempts: %w", b.policy.Method, retries, lastErr)
}

// acquire waits for a frame. Under a policy with AccumulatedAttempts it keeps
// acquiring until the compositor reports accumulated frames.
func (b *DuplicationBackend) acquire(sess DuplicationSession) (uint32, error) {
	if b.policy.AccumulatedAttempts <= 0 {
		n, err := sess.AcquireFrame(b.policy.AcquireTimeout)
		if err != nil {
			return 0, fmt.Errorf("%s acquire: %w", b.policy.Method, err)
		}
		return n, nil
	}

	var lastErr error
	for attempt := 1; attempt <= b.policy.AccumulatedAttempts; attempt++ {
		n, err := sess.AcquireFrame(b.policy.AcquireTimeout)
		if err == nil {
			if n > 0 {
				return n, nil
			}
			sess.ReleaseFrame()
		} else {
			lastErr = err
		}
		if attempt < b.policy.AccumulatedAttempts {
			b.sleep(b.policy.AccumulatedDelay)
		}
	}
	if lastErr == nil {
		lastErr = ErrAcquireTimeout
	}
	return 0, fmt.Errorf("%s: no accumulated frames after %d attempts: %w", b.policy.Method, b.policy.AccumulatedAttempts, lastErr)
}
