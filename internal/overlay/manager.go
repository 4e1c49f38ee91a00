package overlay

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenmask/internal/config"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/geometry"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// Manager is the Overlay implementation that publishes mask payloads as
// events and keeps the latest one for polling clients.
type Manager struct {
	publisher Publisher
	style     func() string
	now       func() time.Time

	mu      sync.RWMutex
	open    bool
	visible bool
	display display.Descriptor
	latest  *MaskPayload
	seq     uint64
}

// NewManager creates an overlay manager. style is read on every call so
// config changes apply without reopening; nil means pixelate.
func NewManager(publisher Publisher, style func() string) *Manager {
	if style == nil {
		style = func() string { return config.MosaicStylePixelate }
	}
	return &Manager{
		publisher: publisher,
		style:     style,
		now:       time.Now,
	}
}

// Open attaches the overlay to d and makes it visible.
func (m *Manager) Open(d display.Descriptor) error {
	if d.Bounds().Empty() {
		return fmt.Errorf("cannot open overlay on %s: empty bounds", d)
	}

	m.mu.Lock()
	m.open = true
	m.visible = true
	m.display = d
	m.latest = nil
	m.mu.Unlock()

	logger.WithComponent("overlay").Info().
		Int("display", d.ID).
		Str("style", m.Style()).
		Msg("Overlay opened")

	m.publish(EventOpen, OpenPayload{Display: d, Style: m.Style()})
	return nil
}

// UpdateMask builds the next payload, stores it as the latest, and
// publishes it while the overlay is visible. It does nothing once the
// overlay is closed.
func (m *Manager) UpdateMask(masks []geometry.Rect, renderScale, dpiScale float64) {
	mosaics := make([]geometry.Rect, len(masks))
	copy(mosaics, masks)

	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return
	}
	m.seq++
	p := &MaskPayload{
		Mosaics:     mosaics,
		ScaleFactor: dpiScale,
		Seq:         m.seq,
		Ts:          m.now().UnixMilli(),
	}
	m.latest = p
	emit := m.visible
	m.mu.Unlock()

	logger.WithComponent("overlay").Debug().
		Int("mosaics", len(mosaics)).
		Float64("mosaic_scale", renderScale).
		Float64("dpi_scale", dpiScale).
		Uint64("seq", p.Seq).
		Msg("Applying mosaics")

	if emit {
		m.publish(EventMosaicUpdate, *p)
	}
}

// Show makes the overlay visible.
func (m *Manager) Show() { m.setVisible(true) }

// Hide stops publishing updates; they are still stored.
func (m *Manager) Hide() { m.setVisible(false) }

func (m *Manager) setVisible(v bool) {
	m.mu.Lock()
	changed := m.visible != v
	m.visible = v
	m.mu.Unlock()

	if changed {
		m.publish(EventVisibility, VisibilityPayload{Visible: v})
	}
}

// Close detaches the overlay and forgets the latest payload.
func (m *Manager) Close() {
	m.mu.Lock()
	wasOpen := m.open
	m.open = false
	m.visible = false
	m.latest = nil
	id := m.display.ID
	m.mu.Unlock()

	if !wasOpen {
		return
	}
	logger.WithComponent("overlay").Info().
		Int("display", id).
		Msg("Overlay closed")
	m.publish(EventClose, struct {
		DisplayID int `json:"display_id"`
	}{id})
}

// Latest returns a copy of the most recent payload, or nil.
func (m *Manager) Latest() *MaskPayload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil
	}
	p := *m.latest
	p.Mosaics = append([]geometry.Rect(nil), m.latest.Mosaics...)
	return &p
}

// Style returns the configured mosaic style.
func (m *Manager) Style() string {
	return m.style()
}

// Visible reports whether updates are currently published.
func (m *Manager) Visible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open && m.visible
}

// RenderPreview paints the latest mosaics onto img, which must hold the
// monitored display at native resolution, and labels the result.
func (m *Manager) RenderPreview(img *image.RGBA) {
	p := m.Latest()
	style := m.Style()

	var n int
	var seq uint64
	if p != nil {
		seq = p.Seq
		for _, r := range p.Mosaics {
			if applyMask(img, r.ImageRect(), style) {
				n++
			}
		}
	}

	drawLabel(img, fmt.Sprintf("%s  masks:%d  seq:%d", style, n, seq))
}

func (m *Manager) publish(event string, payload any) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(event, payload)
}
