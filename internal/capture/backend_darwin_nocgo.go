//go:build darwin && !cgo

package capture

import "fmt"

// newPlatformBackend without CGo cannot reach ScreenCaptureKit, so macOS
// degrades to the portable library path.
func newPlatformBackend(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindAuto, KindLibrary:
		return newLibraryBackend(cfg), nil
	case KindStreaming:
		return nil, fmt.Errorf("backend %s requires cgo: %w", cfg.Kind, ErrNotSupported)
	default:
		return nil, fmt.Errorf("backend %s: %w", cfg.Kind, ErrNotSupported)
	}
}
