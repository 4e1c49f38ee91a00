//go:build !windows

package capture

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// X11Backend is the bitmap-copy fallback on X11: it reads the display
// rectangle straight off the root window.
type X11Backend struct {
	mu     sync.Mutex
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
}

// NewX11Backend creates a backend that connects to the X server on first use.
func NewX11Backend() *X11Backend {
	return &X11Backend{}
}

// Method implements Backend.
func (c *X11Backend) Method() Method {
	return MethodGDI
}

func (c *X11Backend) connectLocked() error {
	if c.conn != nil {
		return nil
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	c.conn = conn
	c.screen = screen
	c.root = screen.Root

	logger.WithComponent("x11-capture").Info().
		Int("depth", int(screen.RootDepth)).
		Msg("Connected to X server")
	return nil
}

// Capture implements Backend.
func (c *X11Backend) Capture(d display.Descriptor) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.root),
		int16(d.X), int16(d.Y),
		uint16(d.Width), uint16(d.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		// The connection may have died; reconnect on the next call.
		c.conn.Close()
		c.conn = nil
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return zpixmapToFrame(reply.Data, d.Width, d.Height, int(c.screen.RootDepth))
}

// zpixmapToFrame repacks a 24/32-bit ZPixmap, which is BGRX on little-endian
// servers, into an opaque BGRA frame.
func zpixmapToFrame(data []byte, width, height, depth int) (*Frame, error) {
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("%w: unsupported X11 depth %d", ErrNotSupported, depth)
	}

	frame := NewFrame(width, height)
	if err := copyRows(frame, data, width*BytesPerPixel); err != nil {
		return nil, err
	}
	for i := 3; i < len(frame.Pix); i += BytesPerPixel {
		frame.Pix[i] = 255
	}
	return frame, nil
}

// Close closes the X connection.
func (c *X11Backend) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
