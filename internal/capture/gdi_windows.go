//go:build windows

package capture

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procGetDC            = user32.NewProc("GetDC")
	procReleaseDC        = user32.NewProc("ReleaseDC")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")

	procCreateCompatibleDC = gdi32.NewProc("CreateCompatibleDC")
	procCreateDIBSection   = gdi32.NewProc("CreateDIBSection")
	procSelectObject       = gdi32.NewProc("SelectObject")
	procBitBlt             = gdi32.NewProc("BitBlt")
	procDeleteDC           = gdi32.NewProc("DeleteDC")
	procDeleteObject       = gdi32.NewProc("DeleteObject")
)

const (
	smCxScreen   = 0
	smCyScreen   = 1
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

// gdiSource captures the primary screen with GDI BitBlt into a DIB
// section. It is the lesser path: slower, primary display only, but it
// works where desktop duplication is unavailable.
type gdiSource struct {
	screenDC uintptr
	memDC    uintptr
	bitmap   uintptr
	oldObj   uintptr
	bits     uintptr // DIB pixel memory, owned by the bitmap handle
	width    int
	height   int
}

// openGDI creates the screen DC, a compatible memory DC, and a top-down
// 32bpp DIB section selected into it. Only the primary screen is
// addressable through GDI, so a non-zero display index is rejected.
func openGDI(displayIndex int) (pullSource, error) {
	if displayIndex != 0 {
		return nil, fmt.Errorf("display %d: GDI captures the primary display only: %w", displayIndex, ErrNoDisplay)
	}

	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("GetSystemMetrics returned zero dimensions")
	}
	width := int(w)
	height := int(h)

	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return nil, fmt.Errorf("GetDC failed")
	}

	memDC, _, _ := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		procReleaseDC.Call(0, screenDC)
		return nil, fmt.Errorf("CreateCompatibleDC failed")
	}

	bi := bitmapInfo{
		BmiHeader: bitmapInfoHeader{
			BiSize:        uint32(unsafe.Sizeof(bitmapInfoHeader{})),
			BiWidth:       int32(width),
			BiHeight:      -int32(height), // negative = top-down
			BiPlanes:      1,
			BiBitCount:    32,
			BiCompression: biRGB,
		},
	}
	var bits uintptr
	bitmap, _, _ := procCreateDIBSection.Call(
		memDC,
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
		uintptr(unsafe.Pointer(&bits)),
		0, 0,
	)
	if bitmap == 0 || bits == 0 {
		procDeleteDC.Call(memDC)
		procReleaseDC.Call(0, screenDC)
		return nil, fmt.Errorf("CreateDIBSection failed")
	}

	oldObj, _, _ := procSelectObject.Call(memDC, bitmap)
	if oldObj == 0 {
		procDeleteObject.Call(bitmap)
		procDeleteDC.Call(memDC)
		procReleaseDC.Call(0, screenDC)
		return nil, fmt.Errorf("SelectObject failed")
	}

	return &gdiSource{
		screenDC: screenDC,
		memDC:    memDC,
		bitmap:   bitmap,
		oldObj:   oldObj,
		bits:     bits,
		width:    width,
		height:   height,
	}, nil
}

// captureFrame blits the screen into the DIB section and converts it.
// GDI has no frame-change notion, so every call yields a frame.
func (s *gdiSource) captureFrame() (*Frame, error) {
	ret, _, _ := procBitBlt.Call(s.memDC, 0, 0, uintptr(s.width), uintptr(s.height),
		s.screenDC, 0, 0, srcCopy|captureBlt)
	if ret == 0 {
		return nil, fmt.Errorf("BitBlt failed")
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(s.bits)), s.width*s.height*4)
	// GDI leaves the alpha channel as garbage. Force opaque.
	return frameFromBGRA(src, s.width*4, s.width, s.height, true), nil
}

// close releases handles in reverse creation order.
func (s *gdiSource) close() {
	if s.oldObj != 0 && s.memDC != 0 {
		procSelectObject.Call(s.memDC, s.oldObj)
	}
	if s.bitmap != 0 {
		procDeleteObject.Call(s.bitmap)
		s.bitmap = 0
	}
	if s.memDC != 0 {
		procDeleteDC.Call(s.memDC)
		s.memDC = 0
	}
	if s.screenDC != 0 {
		procReleaseDC.Call(0, s.screenDC)
		s.screenDC = 0
	}
	s.bits = 0
}
