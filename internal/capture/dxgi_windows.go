//go:build windows

package capture

import (
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/bryanchriswhite/screenmask/internal/display"
	"github.com/bryanchriswhite/screenmask/internal/logger"
)

var (
	d3d11DLL = windows.NewLazySystemDLL("d3d11.dll")
	dxgiDLL  = windows.NewLazySystemDLL("dxgi.dll")

	procD3D11CreateDevice  = d3d11DLL.NewProc("D3D11CreateDevice")
	procCreateDXGIFactory1 = dxgiDLL.NewProc("CreateDXGIFactory1")
)

const (
	d3dDriverTypeUnknown  = 0
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport = 0x20

	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	d3d11MapRead       = 1
	dxgiFormatB8G8R8A8 = 87

	dxgiErrNotFound      = 0x887A0002
	dxgiErrDeviceRemoved = 0x887A0005
	dxgiErrDeviceReset   = 0x887A0007
	dxgiErrAccessLost    = 0x887A0026
	dxgiErrWaitTimeout   = 0x887A0027

	// vtable indices
	dxgiFactory1EnumAdapters1  = 12
	dxgiDeviceGetAdapter       = 7
	dxgiAdapterEnumOutputs     = 7
	dxgiOutputGetDesc          = 7
	dxgiOutput1DuplicateOutput = 22
	dxgiDuplAcquireNextFrame   = 8
	dxgiDuplReleaseFrame       = 14
	d3d11DeviceCreateTexture2D = 5
	d3d11Texture2DGetDesc      = 10
	d3d11CtxMap                = 14
	d3d11CtxUnmap              = 15
	d3d11CtxCopyResource       = 47
)

var (
	iidIDXGIFactory1   = comGUID{0x770aae78, 0xf26f, 0x4dba, [8]byte{0xa8, 0x29, 0x25, 0x3c, 0x83, 0xd1, 0xb3, 0x87}}
	iidIDXGIDevice     = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidID3D11Texture2D = comGUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
	iidIDXGIOutput1    = comGUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC.
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// dxgiOutputDesc matches DXGI_OUTPUT_DESC.
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

// dxgiOutDuplFrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// d3dDevice is an ID3D11Device with its immediate context.
type d3dDevice struct {
	device  uintptr
	context uintptr
}

func (d *d3dDevice) Release() {
	comRelease(d.context)
	comRelease(d.device)
	d.context, d.device = 0, 0
}

// d3dStaging is a CPU-readable BGRA texture.
type d3dStaging struct {
	texture uintptr
}

func (s *d3dStaging) Release() {
	comRelease(s.texture)
	s.texture = 0
}

// createD3DDevice creates a device on adapter, or on the default hardware
// adapter when adapter is zero.
func createD3DDevice(adapter uintptr) (*d3dDevice, error) {
	driverType := uintptr(d3dDriverTypeHardware)
	if adapter != 0 {
		driverType = d3dDriverTypeUnknown
	}

	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32
	hr, _, _ := procD3D11CreateDevice.Call(
		adapter,
		driverType,
		0,
		d3d11CreateDeviceBGRASupport,
		uintptr(unsafe.Pointer(&featureLevel)),
		1,
		d3d11SDKVersion,
		uintptr(unsafe.Pointer(&device)),
		uintptr(unsafe.Pointer(&actualLevel)),
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("%w: D3D11CreateDevice failed: 0x%08X", ErrResource, uint32(hr))
	}
	return &d3dDevice{device: device, context: context}, nil
}

func createStagingTexture(dev *d3dDevice, width, height int) (*d3dStaging, error) {
	desc := d3d11Texture2DDesc{
		Width:          uint32(width),
		Height:         uint32(height),
		MipLevels:      1,
		ArraySize:      1,
		Format:         dxgiFormatB8G8R8A8,
		SampleCount:    1,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}
	var texture uintptr
	if _, err := comCall(dev.device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&desc)),
		0,
		uintptr(unsafe.Pointer(&texture)),
	); err != nil {
		return nil, fmt.Errorf("%w: CreateTexture2D staging: %v", ErrResource, err)
	}
	return &d3dStaging{texture: texture}, nil
}

// d3dFactory is the DeviceFactory behind the optimized method's pool.
type d3dFactory struct{}

func (d3dFactory) CreateDevice() (Device, error) {
	return createD3DDevice(0)
}

func (d3dFactory) CreateStaging(dev Device, width, height int) (Staging, error) {
	d, ok := dev.(*d3dDevice)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected device type %T", ErrResource, dev)
	}
	return createStagingTexture(d, width, height)
}

// outputMatches reads an output's description and checks it against d.
func outputMatches(output uintptr, d display.Descriptor) bool {
	var desc dxgiOutputDesc
	if _, err := comCall(output, dxgiOutputGetDesc, uintptr(unsafe.Pointer(&desc))); err != nil {
		return false
	}
	if desc.AttachedToDesktop == 0 {
		return false
	}
	return MatchesOutput(d, OutputBounds{
		Left:   int(desc.Left),
		Top:    int(desc.Top),
		Right:  int(desc.Right),
		Bottom: int(desc.Bottom),
	})
}

// findOutputOnAdapter walks adapter's outputs and returns the matching one
// as IDXGIOutput1.
func findOutputOnAdapter(adapter uintptr, d display.Descriptor) (uintptr, error) {
	for i := 0; ; i++ {
		var output uintptr
		hr, _, _ := syscall.SyscallN(
			comVtblFn(adapter, dxgiAdapterEnumOutputs),
			adapter,
			uintptr(i),
			uintptr(unsafe.Pointer(&output)),
		)
		if uint32(hr) == dxgiErrNotFound {
			return 0, ErrNoMatchingOutput
		}
		if int32(hr) < 0 {
			return 0, fmt.Errorf("EnumOutputs(%d): 0x%08X", i, uint32(hr))
		}

		if !outputMatches(output, d) {
			comRelease(output)
			continue
		}

		var output1 uintptr
		_, err := comCall(output, vtblQueryInterface,
			uintptr(unsafe.Pointer(&iidIDXGIOutput1)),
			uintptr(unsafe.Pointer(&output1)),
		)
		comRelease(output)
		if err != nil {
			return 0, fmt.Errorf("%w: QueryInterface IDXGIOutput1: %v", ErrDuplicationUnavailable, err)
		}
		return output1, nil
	}
}

// findOutput searches every adapter for the display. The caller releases
// both returned objects.
func findOutput(d display.Descriptor) (adapter, output1 uintptr, err error) {
	var factory uintptr
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(&iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if int32(hr) < 0 {
		return 0, 0, fmt.Errorf("%w: CreateDXGIFactory1: 0x%08X", ErrResource, uint32(hr))
	}
	defer comRelease(factory)

	for i := 0; ; i++ {
		var a uintptr
		hr, _, _ := syscall.SyscallN(
			comVtblFn(factory, dxgiFactory1EnumAdapters1),
			factory,
			uintptr(i),
			uintptr(unsafe.Pointer(&a)),
		)
		if uint32(hr) == dxgiErrNotFound {
			return 0, 0, fmt.Errorf("%w: %s", ErrNoMatchingOutput, d)
		}
		if int32(hr) < 0 {
			return 0, 0, fmt.Errorf("EnumAdapters1(%d): 0x%08X", i, uint32(hr))
		}

		o, err := findOutputOnAdapter(a, d)
		if err == nil {
			return a, o, nil
		}
		comRelease(a)
		if !errors.Is(err, ErrNoMatchingOutput) {
			return 0, 0, err
		}
	}
}

// deviceAdapter returns the adapter a device was created on.
func deviceAdapter(dev *d3dDevice) (uintptr, error) {
	var dxgiDevice uintptr
	if _, err := comCall(dev.device, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIDevice)),
		uintptr(unsafe.Pointer(&dxgiDevice)),
	); err != nil {
		return 0, fmt.Errorf("%w: QueryInterface IDXGIDevice: %v", ErrResource, err)
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		return 0, fmt.Errorf("%w: IDXGIDevice::GetAdapter: %v", ErrResource, err)
	}
	return adapter, nil
}

// dxgiDriver opens desktop duplication sessions.
type dxgiDriver struct {
	pool *Pool
}

func newDXGIDriver(pool *Pool) *dxgiDriver {
	return &dxgiDriver{pool: pool}
}

// Open implements DuplicationDriver. Pooled sessions duplicate through the
// pool's device, so only outputs on its adapter can match.
func (drv *dxgiDriver) Open(d display.Descriptor, pooled bool) (DuplicationSession, error) {
	var (
		dev     *d3dDevice
		output1 uintptr
	)

	if pooled {
		pd, err := drv.pool.Device()
		if err != nil {
			return nil, err
		}
		dev = pd.(*d3dDevice)
		adapter, err := deviceAdapter(dev)
		if err != nil {
			drv.pool.Invalidate()
			return nil, err
		}
		output1, err = findOutputOnAdapter(adapter, d)
		comRelease(adapter)
		if err != nil {
			return nil, err
		}
	} else {
		adapter, o, err := findOutput(d)
		if err != nil {
			return nil, err
		}
		dev, err = createD3DDevice(adapter)
		comRelease(adapter)
		if err != nil {
			comRelease(o)
			return nil, err
		}
		output1 = o
	}

	var duplication uintptr
	_, err := comCall(output1, dxgiOutput1DuplicateOutput,
		dev.device,
		uintptr(unsafe.Pointer(&duplication)),
	)
	comRelease(output1)
	if err != nil {
		if !pooled {
			dev.Release()
		}
		return nil, fmt.Errorf("%w: IDXGIOutput1::DuplicateOutput: %v", ErrDuplicationUnavailable, err)
	}

	return &dxgiSession{
		driver:      drv,
		dev:         dev,
		pooled:      pooled,
		duplication: duplication,
	}, nil
}

// dxgiSession is one IDXGIOutputDuplication plus the frame it holds.
type dxgiSession struct {
	driver      *dxgiDriver
	dev         *d3dDevice
	pooled      bool
	duplication uintptr

	acquired bool
	texture  uintptr
}

func (s *dxgiSession) AcquireFrame(timeout time.Duration) (uint32, error) {
	var info dxgiOutDuplFrameInfo
	var resource uintptr
	hr, _, _ := syscall.SyscallN(
		comVtblFn(s.duplication, dxgiDuplAcquireNextFrame),
		s.duplication,
		uintptr(timeout.Milliseconds()),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&resource)),
	)

	switch code := uint32(hr); {
	case code == dxgiErrWaitTimeout:
		return 0, ErrAcquireTimeout
	case code == dxgiErrAccessLost:
		return 0, fmt.Errorf("%w: access lost", ErrDuplicationUnavailable)
	case code == dxgiErrDeviceRemoved || code == dxgiErrDeviceReset:
		if s.pooled {
			s.driver.pool.Invalidate()
		}
		return 0, fmt.Errorf("%w: device lost: 0x%08X", ErrResource, code)
	case int32(hr) < 0:
		return 0, fmt.Errorf("AcquireNextFrame: 0x%08X", code)
	}
	s.acquired = true

	var texture uintptr
	_, err := comCall(resource, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidID3D11Texture2D)),
		uintptr(unsafe.Pointer(&texture)),
	)
	comRelease(resource)
	if err != nil {
		s.ReleaseFrame()
		return 0, fmt.Errorf("QueryInterface ID3D11Texture2D: %w", err)
	}
	s.texture = texture
	return info.AccumulatedFrames, nil
}

func (s *dxgiSession) ReadFrame() (*Frame, error) {
	if s.texture == 0 {
		return nil, fmt.Errorf("%w: no acquired frame", ErrInvalidFrame)
	}

	var desc d3d11Texture2DDesc
	syscall.SyscallN(comVtblFn(s.texture, d3d11Texture2DGetDesc), s.texture, uintptr(unsafe.Pointer(&desc)))
	width, height := int(desc.Width), int(desc.Height)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: texture size %dx%d", ErrInvalidFrame, width, height)
	}

	var staging *d3dStaging
	if s.pooled {
		_, st, err := s.driver.pool.Acquire(width, height)
		if err != nil {
			return nil, err
		}
		staging = st.(*d3dStaging)
	} else {
		st, err := createStagingTexture(s.dev, width, height)
		if err != nil {
			return nil, err
		}
		defer st.Release()
		staging = st
	}

	ctx := s.dev.context
	syscall.SyscallN(comVtblFn(ctx, d3d11CtxCopyResource), ctx, staging.texture, s.texture)

	var mapped d3d11MappedSubresource
	hr, _, _ := syscall.SyscallN(
		comVtblFn(ctx, d3d11CtxMap),
		ctx,
		staging.texture,
		0,
		d3d11MapRead,
		0,
		uintptr(unsafe.Pointer(&mapped)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("%w: Map staging texture: 0x%08X", ErrResource, uint32(hr))
	}
	defer syscall.SyscallN(comVtblFn(ctx, d3d11CtxUnmap), ctx, staging.texture, 0)

	pitch := int(mapped.RowPitch)
	frame := NewFrame(width, height)
	src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), (height-1)*pitch+width*BytesPerPixel)
	if err := copyRows(frame, src, pitch); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *dxgiSession) ReleaseFrame() {
	if s.texture != 0 {
		comRelease(s.texture)
		s.texture = 0
	}
	if s.acquired {
		syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplReleaseFrame), s.duplication)
		s.acquired = false
	}
}

func (s *dxgiSession) Close() error {
	s.ReleaseFrame()
	comRelease(s.duplication)
	s.duplication = 0
	if !s.pooled {
		s.dev.Release()
	}
	return nil
}

// ListOutputs returns the attached outputs of the default adapter, which are
// the displays the optimized method can reach.
func ListOutputs() ([]OutputBounds, error) {
	dev, err := createD3DDevice(0)
	if err != nil {
		return nil, err
	}
	defer dev.Release()

	adapter, err := deviceAdapter(dev)
	if err != nil {
		return nil, err
	}
	defer comRelease(adapter)

	log := logger.WithComponent("dxgi")
	var outputs []OutputBounds
	for i := 0; ; i++ {
		var output uintptr
		hr, _, _ := syscall.SyscallN(
			comVtblFn(adapter, dxgiAdapterEnumOutputs),
			adapter,
			uintptr(i),
			uintptr(unsafe.Pointer(&output)),
		)
		if int32(hr) < 0 {
			if uint32(hr) != dxgiErrNotFound {
				log.Warn().Int("index", i).Str("hr", fmt.Sprintf("0x%08X", uint32(hr))).Msg("EnumOutputs failed")
			}
			break
		}

		var desc dxgiOutputDesc
		_, err := comCall(output, dxgiOutputGetDesc, uintptr(unsafe.Pointer(&desc)))
		comRelease(output)
		if err != nil || desc.AttachedToDesktop == 0 {
			continue
		}
		outputs = append(outputs, OutputBounds{
			Left:   int(desc.Left),
			Top:    int(desc.Top),
			Right:  int(desc.Right),
			Bottom: int(desc.Bottom),
		})
	}
	return outputs, nil
}
