//go:build darwin && cgo

package capture

/*
#include <stdint.h>
*/
import "C"

import "unsafe"

// goStreamFrame is called from the ScreenCaptureKit sample handler queue
// with a locked CVPixelBuffer. The pixel memory is only valid for the
// duration of this call, so the conversion copies it out immediately. A
// callback that raced the stream teardown finds no registered receiver
// and drops the frame.
//
//export goStreamFrame
func goStreamFrame(handle C.uintptr_t, base unsafe.Pointer, stride, width, height C.int) {
	fn := sckSinks.lookup(uintptr(handle))
	if fn == nil {
		return
	}
	src := unsafe.Slice((*byte)(base), int(height)*int(stride))
	fn(frameFromBGRA(src, int(stride), int(width), int(height), false))
}
