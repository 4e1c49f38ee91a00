//go:build windows

package display

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/bryanchriswhite/screenmask/internal/logger"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	shcore                  = windows.NewLazySystemDLL("shcore.dll")
	procEnumDisplayMonitors = user32.NewProc("EnumDisplayMonitors")
	procGetMonitorInfoW     = user32.NewProc("GetMonitorInfoW")
	procEnumDisplaySettings = user32.NewProc("EnumDisplaySettingsW")
	procGetDpiForMonitor    = shcore.NewProc("GetDpiForMonitor")
)

const (
	monitorInfoPrimary  = 0x1
	mdtEffectiveDPI     = 0
	enumCurrentSettings = 0xFFFFFFFF
	cchDeviceName       = 32
)

type monitorInfoEx struct {
	CbSize     uint32
	RcMonitor  windows.Rect
	RcWork     windows.Rect
	DwFlags    uint32
	DeviceName [cchDeviceName]uint16
}

// devMode covers the DEVMODEW fields read here; the rest is padding.
type devMode struct {
	_            [68]byte
	DmSize       uint16
	_            [6]byte
	DmPositionX  int32
	DmPositionY  int32
	_            [86]byte
	DmPelsWidth  uint32
	DmPelsHeight uint32
	_            [40]byte
}

// Callbacks made by windows.NewCallback are never freed, so enumeration
// shares one callback and serializes on enumMu.
var (
	enumMu       sync.Mutex
	enumHandles  []windows.Handle
	enumCallback = windows.NewCallback(func(hMonitor windows.Handle, hdc windows.Handle, rect *windows.Rect, data uintptr) uintptr {
		enumHandles = append(enumHandles, hMonitor)
		return 1
	})
)

// enumMonitors returns the monitor handles in the order the OS reports them.
func enumMonitors() ([]windows.Handle, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumHandles = nil
	ret, _, callErr := procEnumDisplayMonitors.Call(0, 0, enumCallback, 0)
	handles := enumHandles
	enumHandles = nil
	if ret == 0 {
		return nil, fmt.Errorf("EnumDisplayMonitors failed: %w", callErr)
	}
	return handles, nil
}

// WindowsSource enumerates monitors through user32 and shcore.
type WindowsSource struct{}

// NewPlatformSource returns the Win32 monitor source.
func NewPlatformSource() Source {
	return &WindowsSource{}
}

// Displays implements Source.
func (s *WindowsSource) Displays() ([]Descriptor, error) {
	handles, err := enumMonitors()
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("display")
	displays := make([]Descriptor, 0, len(handles))
	for i, h := range handles {
		info := monitorInfoEx{}
		info.CbSize = uint32(unsafe.Sizeof(info))
		if ret, _, err := procGetMonitorInfoW.Call(uintptr(h), uintptr(unsafe.Pointer(&info))); ret == 0 {
			log.Warn().Err(err).Int("index", i).Msg("GetMonitorInfoW failed, skipping monitor")
			continue
		}

		bounds := info.RcMonitor
		if real, ok := realBounds(&info); ok {
			bounds = real
		}

		displays = append(displays, Descriptor{
			ID:          i,
			Name:        windows.UTF16ToString(info.DeviceName[:]),
			X:           int(bounds.Left),
			Y:           int(bounds.Top),
			Width:       int(bounds.Right - bounds.Left),
			Height:      int(bounds.Bottom - bounds.Top),
			ScaleFactor: monitorScale(h),
			Primary:     info.DwFlags&monitorInfoPrimary != 0,
		})
	}
	return displays, nil
}

// realBounds asks the display driver for the monitor's current mode, which
// reports physical pixels even when the monitor rectangle is DPI-virtualized.
func realBounds(info *monitorInfoEx) (windows.Rect, bool) {
	dm := devMode{}
	dm.DmSize = uint16(unsafe.Sizeof(dm))
	ret, _, _ := procEnumDisplaySettings.Call(
		uintptr(unsafe.Pointer(&info.DeviceName[0])),
		enumCurrentSettings,
		uintptr(unsafe.Pointer(&dm)),
	)
	if ret == 0 || dm.DmPelsWidth == 0 || dm.DmPelsHeight == 0 {
		return windows.Rect{}, false
	}
	return windows.Rect{
		Left:   dm.DmPositionX,
		Top:    dm.DmPositionY,
		Right:  dm.DmPositionX + int32(dm.DmPelsWidth),
		Bottom: dm.DmPositionY + int32(dm.DmPelsHeight),
	}, true
}

func monitorScale(h windows.Handle) float64 {
	if err := procGetDpiForMonitor.Find(); err != nil {
		return 1.0
	}
	var dpiX, dpiY uint32
	hr, _, _ := procGetDpiForMonitor.Call(
		uintptr(h),
		mdtEffectiveDPI,
		uintptr(unsafe.Pointer(&dpiX)),
		uintptr(unsafe.Pointer(&dpiY)),
	)
	if int32(hr) < 0 || dpiX == 0 {
		return 1.0
	}
	return float64(dpiX) / baseDPI
}
