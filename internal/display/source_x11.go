//go:build !windows

package display

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

// X11Source enumerates displays through Xinerama, falling back to the
// default screen's root window when Xinerama is inactive.
type X11Source struct{}

// NewPlatformSource returns the X11 source on non-Windows platforms.
func NewPlatformSource() Source {
	return &X11Source{}
}

// Displays implements Source.
func (s *X11Source) Displays() ([]Descriptor, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()

	screen := xproto.Setup(conn).DefaultScreen(conn)
	scale := x11ScaleFactor(screen)

	log := logger.WithComponent("display")
	if err := xinerama.Init(conn); err != nil {
		log.Debug().Err(err).Msg("Xinerama extension not available")
		return rootDisplay(screen, scale), nil
	}

	active, err := xinerama.IsActive(conn).Reply()
	if err != nil || active.State == 0 {
		return rootDisplay(screen, scale), nil
	}

	reply, err := xinerama.QueryScreens(conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("xinerama QueryScreens failed: %w", err)
	}

	displays := make([]Descriptor, 0, len(reply.ScreenInfo))
	for i, info := range reply.ScreenInfo {
		displays = append(displays, Descriptor{
			ID:          i,
			Name:        fmt.Sprintf("xinerama-%d", i),
			X:           int(info.XOrg),
			Y:           int(info.YOrg),
			Width:       int(info.Width),
			Height:      int(info.Height),
			ScaleFactor: scale,
			Primary:     info.XOrg == 0 && info.YOrg == 0,
		})
	}
	return displays, nil
}

func rootDisplay(screen *xproto.ScreenInfo, scale float64) []Descriptor {
	return []Descriptor{{
		ID:          0,
		Name:        "root",
		Width:       int(screen.WidthInPixels),
		Height:      int(screen.HeightInPixels),
		ScaleFactor: scale,
		Primary:     true,
	}}
}

// x11ScaleFactor derives a DPI scale from the screen's physical width.
func x11ScaleFactor(screen *xproto.ScreenInfo) float64 {
	if screen.WidthInMillimeters == 0 {
		return 1.0
	}
	dpi := float64(screen.WidthInPixels) / (float64(screen.WidthInMillimeters) / 25.4)
	return ScaleFromDPI(dpi)
}
