//go:build windows

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	d3d11DLL = windows.NewLazySystemDLL("d3d11.dll")

	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
)

// D3D11/DXGI constants
const (
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport = 0x20

	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	d3d11MapRead       = 1
	dxgiFormatB8G8R8A8 = 87

	dxgiErrWaitTimeout = 0x887A0027
	dxgiErrAccessLost  = 0x887A0026
	dxgiErrNotFound    = 0x887A0002

	// AcquireNextFrame timeout. Returns immediately when a frame is ready,
	// so this only bounds idle polling on a static desktop.
	acquireTimeoutMs = 100

	// DXGI/D3D11 COM vtable indices
	dxgiDeviceGetAdapter        = 7  // IDXGIDevice
	dxgiAdapterEnumOutputs      = 7  // IDXGIAdapter
	dxgiOutput1DuplicateOutput  = 22 // IDXGIOutput1
	dxgiDuplGetDesc             = 7  // IDXGIOutputDuplication
	dxgiDuplAcquireNextFrame    = 8  // IDXGIOutputDuplication
	dxgiDuplMapDesktopSurface   = 12 // IDXGIOutputDuplication
	dxgiDuplUnMapDesktopSurface = 13 // IDXGIOutputDuplication
	dxgiDuplReleaseFrame        = 14 // IDXGIOutputDuplication
	d3d11DeviceCreateTexture2D  = 5  // ID3D11Device
	d3d11TextureGetDesc         = 10 // ID3D11Texture2D
	d3d11CtxMap                 = 14 // ID3D11DeviceContext
	d3d11CtxUnmap               = 15 // ID3D11DeviceContext
	d3d11CtxCopyResource        = 47 // ID3D11DeviceContext
)

// COM GUIDs for DXGI interfaces
var (
	iidIDXGIDevice     = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidID3D11Texture2D = comGUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
	iidIDXGIOutput1    = comGUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC (44 bytes).
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32 // DXGI_SAMPLE_DESC.Count
	SampleQuality  uint32 // DXGI_SAMPLE_DESC.Quality
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

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

// dxgiModeDesc matches DXGI_MODE_DESC.
type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// dxgiOutDuplDesc matches DXGI_OUTDUPL_DESC.
type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32 // BOOL
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

// dxgiMappedRect matches DXGI_MAPPED_RECT.
type dxgiMappedRect struct {
	Pitch int32
	PBits uintptr
}

// dxgiError turns a failed duplication HRESULT into an error. Access loss
// can surface from any duplication call, not just AcquireNextFrame, and is
// wrapped so the session loop reinitializes duplication instead of demoting.
func dxgiError(op string, hr uint32) error {
	if hr == dxgiErrAccessLost {
		return fmt.Errorf("%s: 0x%08X: %w", op, hr, errAccessLost)
	}
	return fmt.Errorf("%s: 0x%08X", op, hr)
}

// dxgiSource captures one display via DXGI Desktop Duplication. All COM
// objects are owned by the thread that opened the source.
type dxgiSource struct {
	device      uintptr // ID3D11Device
	context     uintptr // ID3D11DeviceContext
	duplication uintptr // IDXGIOutputDuplication

	// Staging texture for the GPU readback path, created lazily from the
	// first acquired frame and recreated when the desktop mode changes.
	staging       uintptr // ID3D11Texture2D
	stagingWidth  uint32
	stagingHeight uint32

	// When the duplication keeps the desktop image in system memory,
	// MapDesktopSurface reads it directly and the staging copy is skipped.
	systemMemory bool

	log *slog.Logger
}

// openDXGI initializes D3D11 and duplicates the given output.
func openDXGI(displayIndex int) (pullSource, error) {
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32

	hr, _, _ := procD3D11CreateDevice.Call(
		0,                                      // pAdapter (NULL = default)
		uintptr(d3dDriverTypeHardware),         // DriverType
		0,                                      // Software
		uintptr(d3d11CreateDeviceBGRASupport),  // Flags
		uintptr(unsafe.Pointer(&featureLevel)), // pFeatureLevels
		1,                                      // FeatureLevels count
		uintptr(d3d11SDKVersion),               // SDKVersion
		uintptr(unsafe.Pointer(&device)),       // ppDevice
		uintptr(unsafe.Pointer(&actualLevel)),  // pFeatureLevel
		uintptr(unsafe.Pointer(&context)),      // ppImmediateContext
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}

	// QueryInterface → IDXGIDevice
	var dxgiDevice uintptr
	_, err := comCall(device, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIDevice)),
		uintptr(unsafe.Pointer(&dxgiDevice)),
	)
	if err != nil {
		comRelease(context)
		comRelease(device)
		return nil, fmt.Errorf("QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	// GetAdapter
	var adapter uintptr
	_, err = comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter)))
	if err != nil {
		comRelease(context)
		comRelease(device)
		return nil, fmt.Errorf("IDXGIDevice::GetAdapter: %w", err)
	}
	defer comRelease(adapter)

	// EnumOutputs
	var output uintptr
	hr, enumErr := comCall(adapter, dxgiAdapterEnumOutputs,
		uintptr(displayIndex),
		uintptr(unsafe.Pointer(&output)),
	)
	if enumErr != nil {
		comRelease(context)
		comRelease(device)
		if uint32(hr) == dxgiErrNotFound {
			return nil, fmt.Errorf("display %d: %w", displayIndex, ErrNoDisplay)
		}
		return nil, fmt.Errorf("IDXGIAdapter::EnumOutputs: %w", enumErr)
	}

	// QueryInterface → IDXGIOutput1
	var output1 uintptr
	_, err = comCall(output, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidIDXGIOutput1)),
		uintptr(unsafe.Pointer(&output1)),
	)
	comRelease(output)
	if err != nil {
		comRelease(context)
		comRelease(device)
		return nil, fmt.Errorf("QueryInterface IDXGIOutput1: %w", err)
	}
	defer comRelease(output1)

	// DuplicateOutput
	var duplication uintptr
	_, err = comCall(output1, dxgiOutput1DuplicateOutput,
		device,
		uintptr(unsafe.Pointer(&duplication)),
	)
	if err != nil {
		comRelease(context)
		comRelease(device)
		return nil, fmt.Errorf("IDXGIOutput1::DuplicateOutput: %w", err)
	}

	var duplDesc dxgiOutDuplDesc
	hr, _, _ = syscall.SyscallN(
		comVtblFn(duplication, dxgiDuplGetDesc),
		duplication,
		uintptr(unsafe.Pointer(&duplDesc)),
	)
	if int32(hr) < 0 {
		comRelease(duplication)
		comRelease(context)
		comRelease(device)
		return nil, fmt.Errorf("IDXGIOutputDuplication::GetDesc failed: 0x%08X", uint32(hr))
	}

	s := &dxgiSource{
		device:       device,
		context:      context,
		duplication:  duplication,
		systemMemory: duplDesc.DesktopImageInSystemMemory != 0,
		log:          slog.Default(),
	}
	s.log.Info("desktop duplication initialized",
		"display", displayIndex,
		"width", duplDesc.ModeDesc.Width,
		"height", duplDesc.ModeDesc.Height,
		"systemMemory", s.systemMemory)
	return s, nil
}

// captureFrame acquires the next desktop frame.
// Returns (nil, nil) when no frame arrived within the acquire timeout.
func (s *dxgiSource) captureFrame() (*Frame, error) {
	var frameInfo dxgiOutDuplFrameInfo
	var resource uintptr

	hr, _, _ := syscall.SyscallN(
		comVtblFn(s.duplication, dxgiDuplAcquireNextFrame),
		s.duplication,
		uintptr(acquireTimeoutMs),
		uintptr(unsafe.Pointer(&frameInfo)),
		uintptr(unsafe.Pointer(&resource)),
	)

	switch {
	case uint32(hr) == dxgiErrWaitTimeout:
		return nil, nil
	case int32(hr) < 0:
		return nil, dxgiError("AcquireNextFrame", uint32(hr))
	}

	// From here the frame is held and must be released on every path.
	defer syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplReleaseFrame), s.duplication)
	defer comRelease(resource)

	if frameInfo.AccumulatedFrames == 0 {
		return nil, nil
	}

	if s.systemMemory {
		frame, err := s.readSystemMemory()
		if err == nil {
			return frame, nil
		}
		if errors.Is(err, errAccessLost) {
			return nil, err
		}
		// MapDesktopSurface can refuse when an app has the surface
		// locked. Drop to the staging copy for this frame.
		s.log.Debug("MapDesktopSurface failed, using staging copy", "error", err)
	}
	return s.readStaging(resource)
}

// readSystemMemory maps the duplication's system-memory desktop image
// directly, skipping the GPU round trip.
func (s *dxgiSource) readSystemMemory() (*Frame, error) {
	var duplDesc dxgiOutDuplDesc
	hr, _, _ := syscall.SyscallN(
		comVtblFn(s.duplication, dxgiDuplGetDesc),
		s.duplication,
		uintptr(unsafe.Pointer(&duplDesc)),
	)
	if int32(hr) < 0 {
		return nil, dxgiError("GetDesc", uint32(hr))
	}

	var rect dxgiMappedRect
	hr, _, _ = syscall.SyscallN(
		comVtblFn(s.duplication, dxgiDuplMapDesktopSurface),
		s.duplication,
		uintptr(unsafe.Pointer(&rect)),
	)
	if int32(hr) < 0 {
		return nil, dxgiError("MapDesktopSurface", uint32(hr))
	}
	defer syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplUnMapDesktopSurface), s.duplication)

	width := int(duplDesc.ModeDesc.Width)
	height := int(duplDesc.ModeDesc.Height)
	pitch := int(rect.Pitch)
	src := unsafe.Slice((*byte)(unsafe.Pointer(rect.PBits)), height*pitch)
	return frameFromBGRA(src, pitch, width, height, false), nil
}

// readStaging copies the acquired GPU texture into a CPU-readable staging
// texture and maps it.
func (s *dxgiSource) readStaging(resource uintptr) (*Frame, error) {
	var texture uintptr
	_, err := comCall(resource, vtblQueryInterface,
		uintptr(unsafe.Pointer(&iidID3D11Texture2D)),
		uintptr(unsafe.Pointer(&texture)),
	)
	if err != nil {
		return nil, fmt.Errorf("QueryInterface ID3D11Texture2D: %w", err)
	}
	defer comRelease(texture)

	var texDesc d3d11Texture2DDesc
	syscall.SyscallN(comVtblFn(texture, d3d11TextureGetDesc),
		texture, uintptr(unsafe.Pointer(&texDesc)))
	if texDesc.Width == 0 || texDesc.Height == 0 {
		return nil, fmt.Errorf("acquired texture has zero dimensions")
	}

	if err := s.ensureStaging(texDesc.Width, texDesc.Height); err != nil {
		return nil, err
	}

	// CopyResource is void. Errors surface through the Map below.
	syscall.SyscallN(
		comVtblFn(s.context, d3d11CtxCopyResource),
		s.context,
		s.staging,
		texture,
	)

	var mapped d3d11MappedSubresource
	hr, _, _ := syscall.SyscallN(
		comVtblFn(s.context, d3d11CtxMap),
		s.context,
		s.staging,
		0, // Subresource
		uintptr(d3d11MapRead),
		0, // Flags
		uintptr(unsafe.Pointer(&mapped)),
	)
	if int32(hr) < 0 {
		return nil, dxgiError("Map staging texture", uint32(hr))
	}
	defer syscall.SyscallN(comVtblFn(s.context, d3d11CtxUnmap), s.context, s.staging, 0)

	width := int(texDesc.Width)
	height := int(texDesc.Height)
	pitch := int(mapped.RowPitch)
	src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), height*pitch)
	return frameFromBGRA(src, pitch, width, height, false), nil
}

// ensureStaging (re)creates the staging texture to match the acquired
// frame dimensions. Mode changes mid-stream land here.
func (s *dxgiSource) ensureStaging(width, height uint32) error {
	if s.staging != 0 && s.stagingWidth == width && s.stagingHeight == height {
		return nil
	}
	if s.staging != 0 {
		comRelease(s.staging)
		s.staging = 0
		s.log.Info("desktop mode changed, recreating staging texture",
			"width", width, "height", height)
	}

	desc := d3d11Texture2DDesc{
		Width:          width,
		Height:         height,
		MipLevels:      1,
		ArraySize:      1,
		Format:         dxgiFormatB8G8R8A8,
		SampleCount:    1,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}
	var staging uintptr
	_, err := comCall(s.device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&desc)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&staging)),
	)
	if err != nil {
		return fmt.Errorf("CreateTexture2D staging: %w", err)
	}
	s.staging = staging
	s.stagingWidth = width
	s.stagingHeight = height
	return nil
}

// close releases all DXGI resources.
func (s *dxgiSource) close() {
	if s.staging != 0 {
		comRelease(s.staging)
		s.staging = 0
	}
	if s.duplication != 0 {
		comRelease(s.duplication)
		s.duplication = 0
	}
	if s.context != 0 {
		comRelease(s.context)
		s.context = 0
	}
	if s.device != 0 {
		comRelease(s.device)
		s.device = 0
	}
}
