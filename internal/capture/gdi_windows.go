//go:build windows

package capture

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/bryanchriswhite/screenmask/internal/display"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
)

const (
	srcCopy      = 0x00CC0020
	captureBlt   = 0x40000000
	biRGB        = 0
	dibRGBColors = 0
)

type bitmapInfoHeader struct {
	BiSize          uint32
	BiWidth         int32
	BiHeight        int32
	BiPlanes        uint16
	BiBitCount      uint16
	BiCompression   uint32
	BiSizeImage     uint32
	BiXPelsPerMeter int32
	BiYPelsPerMeter int32
	BiClrUsed       uint32
	BiClrImportant  uint32
}

type bitmapInfo struct {
	BmiHeader bitmapInfoHeader
	BmiColors [1]uint32
}

// GDIBackend copies the display out of the desktop device context. It works
// where duplication does not, such as remote sessions.
type GDIBackend struct {
	mu sync.Mutex
}

// NewGDIBackend creates the bitmap-copy backend.
func NewGDIBackend() *GDIBackend {
	return &GDIBackend{}
}

// Method implements Backend.
func (g *GDIBackend) Method() Method {
	return MethodGDI
}

// Capture implements Backend.
func (g *GDIBackend) Capture(d display.Descriptor) (*Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	width, height := d.Width, d.Height
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: display size %dx%d", ErrInvalidFrame, width, height)
	}

	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return nil, fmt.Errorf("%w: GetDC failed", ErrResource)
	}
	defer procReleaseDC.Call(0, screenDC)

	memDC, _, _ := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		return nil, fmt.Errorf("%w: CreateCompatibleDC failed", ErrResource)
	}
	defer procDeleteDC.Call(memDC)

	bitmap, _, _ := procCreateCompatibleBitmap.Call(screenDC, uintptr(width), uintptr(height))
	if bitmap == 0 {
		return nil, fmt.Errorf("%w: CreateCompatibleBitmap failed", ErrResource)
	}
	defer procDeleteObject.Call(bitmap)

	old, _, _ := procSelectObject.Call(memDC, bitmap)
	if old == 0 {
		return nil, fmt.Errorf("%w: SelectObject failed", ErrResource)
	}

	ret, _, _ := procBitBlt.Call(memDC, 0, 0, uintptr(width), uintptr(height),
		screenDC, uintptr(d.X), uintptr(d.Y), srcCopy|captureBlt)
	if ret == 0 {
		// Some desktops reject CAPTUREBLT; plain SRCCOPY still works there.
		ret, _, _ = procBitBlt.Call(memDC, 0, 0, uintptr(width), uintptr(height),
			screenDC, uintptr(d.X), uintptr(d.Y), srcCopy)
	}

	// GetDIBits requires the bitmap to be deselected.
	procSelectObject.Call(memDC, old)
	if ret == 0 {
		return nil, fmt.Errorf("BitBlt failed")
	}

	bi := bitmapInfo{
		BmiHeader: bitmapInfoHeader{
			BiSize:        uint32(unsafe.Sizeof(bitmapInfoHeader{})),
			BiWidth:       int32(width),
			BiHeight:      -int32(height),
			BiPlanes:      1,
			BiBitCount:    32,
			BiCompression: biRGB,
		},
	}

	frame := NewFrame(width, height)
	ret, _, _ = procGetDIBits.Call(
		memDC,
		bitmap,
		0,
		uintptr(height),
		uintptr(unsafe.Pointer(&frame.Pix[0])),
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
	)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits failed")
	}

	// GDI leaves the alpha byte undefined.
	for i := 3; i < len(frame.Pix); i += BytesPerPixel {
		frame.Pix[i] = 255
	}
	return frame, nil
}
