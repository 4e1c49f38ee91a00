package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/detect"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
	"github.com/bryanchriswhite/screenmask/internal/logger"
	"github.com/bryanchriswhite/screenmask/internal/overlay"
)

const (
	// MinInterval and MaxInterval bound the pause between ticks.
	MinInterval = 8 * time.Millisecond
	MaxInterval = time.Second
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("monitoring already running")

// State is the orchestrator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings are re-read at the start of every tick.
type Settings struct {
	Interval     time.Duration
	CaptureScale float64
	MosaicScale  float64
	Debug        bool
	Detection    detect.Config
}

// SettingsFunc supplies the current Settings.
type SettingsFunc func() Settings

// SettingsFromConfig returns a SettingsFunc reading the live configuration.
func SettingsFromConfig(m *config.Manager) SettingsFunc {
	return func() Settings {
		cfg := m.Get()
		return Settings{
			Interval:     time.Duration(cfg.Monitoring.IntervalMs) * time.Millisecond,
			CaptureScale: cfg.Monitoring.CaptureScale,
			MosaicScale:  cfg.Monitoring.MosaicScale,
			Debug:        cfg.Debug,
			Detection:    detect.FromConfig(cfg.Detection),
		}
	}
}

// RegionObserver is told about every successful detection, in native
// display coordinates before enlargement.
type RegionObserver interface {
	ObserveRegions(d display.Descriptor, regions []geometry.Rect)
}

// FrameSink receives raw frames while debugging is enabled.
type FrameSink interface {
	PushFrame(d display.Descriptor, f *capture.Frame)
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State    State               `json:"state"`
	Display  *display.Descriptor `json:"display,omitempty"`
	Ticks    uint64              `json:"ticks"`
	Failures uint64              `json:"failures"`
	LastTick time.Time           `json:"last_tick,omitempty"`
}

// ClampInterval limits d to [MinInterval, MaxInterval].
func ClampInterval(d time.Duration) time.Duration {
	return min(max(d, MinInterval), MaxInterval)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Capturer  capture.Capturer
	Detector  detect.Detector
	Overlay   overlay.Overlay
	Settings  SettingsFunc
	Observers []RegionObserver
	FrameSink FrameSink
}

// Orchestrator runs the capture, detect and mask loop for one display at
// a time.
type Orchestrator struct {
	capturer  capture.Capturer
	detector  detect.Detector
	overlay   overlay.Overlay
	settings  SettingsFunc
	observers []RegionObserver
	sink      FrameSink

	captureMu  sync.Mutex
	prefetch   *Prefetcher
	platformFn func() (capture.PlatformContext, error)

	mu       sync.Mutex
	state    State
	active   *display.Descriptor
	session  uint64
	stopChan chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
	ticks    uint64
	failures uint64
	lastTick time.Time
}

// New creates an idle orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		capturer:   opts.Capturer,
		detector:   opts.Detector,
		overlay:    opts.Overlay,
		settings:   opts.Settings,
		observers:  opts.Observers,
		sink:       opts.FrameSink,
		platformFn: capture.AcquirePlatformContext,
	}
	if o.settings == nil {
		o.settings = func() Settings { return Settings{Interval: 33 * time.Millisecond, MosaicScale: 1} }
	}
	o.prefetch = NewPrefetcher(o.capturer, &o.captureMu, o.activeDisplay)
	return o
}

// Prefetcher exposes the prefetcher for diagnostics.
func (o *Orchestrator) Prefetcher() *Prefetcher {
	return o.prefetch
}

// Start opens the overlay on d and begins the loop.
func (o *Orchestrator) Start(d display.Descriptor) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return ErrAlreadyRunning
	}
	if err := o.overlay.Open(d); err != nil {
		return fmt.Errorf("failed to open overlay: %w", err)
	}

	// A frame left over from an earlier session belongs to another display.
	o.prefetch.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	o.session++
	o.active = &d
	o.state = StateRunning
	o.stopChan = make(chan struct{})
	o.done = make(chan struct{})
	o.cancel = cancel

	logger.WithComponent("pipeline").Info().
		Int("display", d.ID).
		Str("name", d.Name).
		Msg("Monitoring started")

	go o.loop(ctx, d, o.session, o.stopChan, o.done)
	return nil
}

// Stop ends the session and waits for the loop to exit. It is a no-op
// when idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return
	}
	o.state = StateIdle
	o.active = nil
	stop, done, cancel := o.stopChan, o.done, o.cancel
	o.mu.Unlock()

	o.overlay.Close()
	close(stop)
	cancel()
	<-done

	o.prefetch.Clear()
	logger.WithComponent("pipeline").Info().Msg("Monitoring stopped")
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:    o.state,
		Ticks:    o.ticks,
		Failures: o.failures,
		LastTick: o.lastTick,
	}
	if o.active != nil {
		d := *o.active
		st.Display = &d
	}
	return st
}

func (o *Orchestrator) activeDisplay() (display.Descriptor, uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return display.Descriptor{}, 0, false
	}
	return *o.active, o.session, true
}

func (o *Orchestrator) current(session uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateRunning && o.session == session
}

func (o *Orchestrator) loop(ctx context.Context, d display.Descriptor, session uint64, stop, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("pipeline")

	pctx, err := o.platformFn()
	if err != nil {
		log.Error().Err(err).Msg("Failed to set up capture thread")
	} else {
		defer pctx.Release()
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		s := o.settings()
		o.tick(ctx, d, session, s)

		timer := time.NewTimer(ClampInterval(s.Interval))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs one capture, detect and mask pass. Failures are logged and
// counted; the loop carries on.
func (o *Orchestrator) tick(ctx context.Context, d display.Descriptor, session uint64, s Settings) {
	log := logger.WithComponent("pipeline")
	start := time.Now()

	frame := o.prefetch.Take(session)
	if frame == nil {
		var err error
		o.captureMu.Lock()
		frame, err = o.capturer.Capture(d)
		o.captureMu.Unlock()
		if err != nil {
			log.Warn().Err(err).Int("display", d.ID).Msg("Capture failed")
			o.record(false)
			return
		}
	}
	o.prefetch.Trigger()
	captureMs := time.Since(start).Milliseconds()

	if s.Debug && o.sink != nil {
		o.sink.PushFrame(d, frame)
	}

	if !detect.IsReady(o.detector) {
		log.Debug().Msg("Detector not ready, skipping detection")
		o.record(true)
		return
	}

	img, ratio := frame, 1.0
	if r, ok := geometry.EffectiveRatio(s.CaptureScale); ok {
		img, ratio = Downscale(frame, r), r
	}

	detectStart := time.Now()
	regions, err := o.detector.Detect(ctx, img, s.Detection)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Int("display", d.ID).Msg("Detection failed")
		}
		o.record(false)
		return
	}
	detectMs := time.Since(detectStart).Milliseconds()

	mapped := geometry.ToNativeAll(regions, ratio)
	if !o.current(session) {
		return
	}

	// Enlarged masks near an edge would reach past the display.
	bounds := geometry.NewRect(0, 0, frame.Width, frame.Height)
	masks := geometry.ClipAll(geometry.EnlargeAll(mapped, s.MosaicScale), bounds)

	o.overlay.UpdateMask(masks, s.MosaicScale, d.ScaleFactor)
	for _, obs := range o.observers {
		obs.ObserveRegions(d, mapped)
	}
	o.record(true)

	if logger.IsDebug() {
		masked := 0
		for _, m := range masks {
			masked += m.Area()
		}
		log.Debug().
			Int("display", d.ID).
			Int("regions", len(mapped)).
			Int("masked_px", masked).
			Int("width", img.Width).
			Int("height", img.Height).
			Int64("capture_ms", captureMs).
			Int64("detect_ms", detectMs).
			Msg("Tick complete")
	}
}

func (o *Orchestrator) record(ok bool) {
	o.mu.Lock()
	o.ticks++
	if !ok {
		o.failures++
	}
	o.lastTick = time.Now()
	o.mu.Unlock()
}
