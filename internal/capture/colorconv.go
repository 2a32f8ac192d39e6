package capture

// compactBGRA converts a possibly row-padded BGRA buffer into a tightly
// packed RGBA buffer of exactly width*height*4 bytes. stride is the source
// bytes-per-row and may exceed width*4; the excess is skipped. When opaque
// is set the output alpha is forced to 255 (for sources whose alpha channel
// carries no meaning, e.g. a screen bitmap).
//
// The source buffer length is validated against stride and height before
// scanning. Driver-supplied dimensions can't be trusted on their own: on a
// short or mis-strided input the function returns a zeroed buffer of the
// declared output size instead of reading out of bounds. Non-positive
// dimensions yield nil.
func compactBGRA(src []byte, stride, width, height int, opaque bool) []byte {
	if width <= 0 || height <= 0 {
		return nil
	}
	dst := make([]byte, width*height*4)
	// The last row only needs width*4 bytes, not a full stride.
	if stride < width*4 || len(src) < (height-1)*stride+width*4 {
		return dst
	}

	rowBytes := width * 4
	for y := 0; y < height; y++ {
		srcRow := src[y*stride : y*stride+rowBytes]
		dstRow := dst[y*rowBytes : (y+1)*rowBytes]
		if opaque {
			for x := 0; x < rowBytes; x += 4 {
				dstRow[x] = srcRow[x+2]
				dstRow[x+1] = srcRow[x+1]
				dstRow[x+2] = srcRow[x]
				dstRow[x+3] = 255
			}
		} else {
			for x := 0; x < rowBytes; x += 4 {
				dstRow[x] = srcRow[x+2]
				dstRow[x+1] = srcRow[x+1]
				dstRow[x+2] = srcRow[x]
				dstRow[x+3] = srcRow[x+3]
			}
		}
	}
	return dst
}

// frameFromBGRA wraps compactBGRA in a Frame.
func frameFromBGRA(src []byte, stride, width, height int, opaque bool) *Frame {
	return &Frame{
		Width:  uint32(width),
		Height: uint32(height),
		Stride: uint32(width * 4),
		Pixels: compactBGRA(src, stride, width, height, opaque),
	}
}
