//go:build windows

package capture

import (
	"fmt"
	"log/slog"

	"github.com/go-ole/go-ole"
)

// comThreadSetup initializes a multithreaded COM apartment on the capture
// thread and returns its teardown. S_FALSE (already initialized) is fine.
func comThreadSetup() func() {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != uintptr(1) { // S_FALSE
			slog.Warn("CoInitializeEx failed", "error", err)
			return func() {}
		}
	}
	return ole.CoUninitialize
}

// newPlatformBackend selects the Windows capture path: desktop duplication
// with a GDI fallback by default.
func newPlatformBackend(cfg Config) (Backend, error) {
	b := &pullBackend{
		display:     cfg.DisplayIndex,
		threadSetup: comThreadSetup,
		log:         slog.Default(),
	}
	switch cfg.Kind {
	case KindAuto:
		b.openPreferred = openDXGI
		b.openFallback = openGDI
	case KindDuplication:
		b.openPreferred = openDXGI
	case KindGDI:
		b.openFallback = openGDI
	case KindLibrary:
		b.openFallback = openLibrary
	case KindStreaming:
		return nil, fmt.Errorf("backend %s: %w", cfg.Kind, ErrNotSupported)
	default:
		return nil, fmt.Errorf("backend %s: %w", cfg.Kind, ErrNotSupported)
	}
	return b, nil
}
