// Package capture produces a paced stream of decoded desktop frames using
// whichever capture mechanism the host OS makes available, degrading to a
// lesser mechanism when the preferred one fails mid-stream.
package capture

import (
	"errors"
	"fmt"
)

// Frame is one captured image. Pixels is always tightly packed RGBA
// (Stride == Width*4, len(Pixels) == Width*Height*4) regardless of the
// source's native layout — backends convert before handing a Frame out.
type Frame struct {
	Width  uint32
	Height uint32
	Stride uint32
	Pixels []byte
}

// FrameSink receives one Frame per invocation from the capture thread.
// It must return quickly. A non-nil error signals that the consumer is
// gone; the backend treats it as a stop request and exits its loop.
type FrameSink func(Frame) error

// Kind identifies a capture backend. The set is closed and
// platform-determined at build time.
type Kind int

const (
	// KindAuto picks the best mechanism for the platform.
	KindAuto Kind = iota
	// KindDuplication is DXGI Desktop Duplication (Windows).
	KindDuplication
	// KindGDI is BitBlt screen capture (Windows).
	KindGDI
	// KindStreaming is ScreenCaptureKit continuous streaming (macOS).
	KindStreaming
	// KindLibrary is the cross-platform screenshot library fallback.
	KindLibrary
)

// String returns the config-file spelling of k.
func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindDuplication:
		return "duplication"
	case KindGDI:
		return "gdi"
	case KindStreaming:
		return "streaming"
	case KindLibrary:
		return "library"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the config-file spelling of a backend kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "auto":
		return KindAuto, nil
	case "duplication", "dxgi":
		return KindDuplication, nil
	case "gdi":
		return KindGDI, nil
	case "streaming", "sck":
		return KindStreaming, nil
	case "library":
		return KindLibrary, nil
	default:
		return KindAuto, fmt.Errorf("unknown capture backend %q", s)
	}
}

// Config holds capture parameters.
type Config struct {
	// DisplayIndex selects which display to capture (0 = first enumerated).
	DisplayIndex int

	// FPS is the target frame rate for Start. 0 is rejected.
	FPS uint32

	// Kind forces a specific backend. KindAuto follows the platform policy.
	Kind Kind
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{DisplayIndex: 0, FPS: 60, Kind: KindAuto}
}

// Backend is a capture mechanism bound to one display.
//
// Start spawns (or registers) the single frame-producing thread and
// returns once the mechanism is initialized; it is idempotent while
// running. Stop is idempotent, safe on a never-started backend, and does
// not return until the producer has exited and released every resource
// handle. Screenshot captures a single frame through a throwaway session.
type Backend interface {
	Start(sink FrameSink, fps uint32) error
	Stop() error
	Screenshot() (*Frame, error)
}

// ErrNoDisplay is returned when no capturable display is found.
var ErrNoDisplay = errors.New("no capturable display found")

// ErrInvalidFPS is returned when Start is called with fps == 0.
var ErrInvalidFPS = errors.New("fps must be greater than zero")

// ErrNotSupported is returned when the requested backend does not exist
// on this platform.
var ErrNotSupported = errors.New("capture backend not supported on this platform")

// errAccessLost marks a capture-session invalidation (display mode change,
// GPU reset, session lock). The pacing loop reinitializes the mechanism
// and demotes to the fallback if that fails. Never surfaced to callers.
var errAccessLost = errors.New("capture access lost")

// New creates the capture backend for cfg following the platform policy:
// the preferred native mechanism where one exists, the screenshot-library
// fallback everywhere else.
func New(cfg Config) (Backend, error) {
	return newPlatformBackend(cfg)
}
