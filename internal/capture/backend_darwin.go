//go:build darwin && cgo

package capture

import (
	"fmt"
	"log/slog"
)

// newPlatformBackend uses ScreenCaptureKit streaming on macOS.
func newPlatformBackend(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindAuto, KindStreaming:
		return &sckBackend{display: cfg.DisplayIndex, log: slog.Default()}, nil
	case KindLibrary:
		return newLibraryBackend(cfg), nil
	default:
		return nil, fmt.Errorf("backend %s: %w", cfg.Kind, ErrNotSupported)
	}
}
