//go:build !windows && !darwin

package capture

import "fmt"

// newPlatformBackend falls back to the portable library path on platforms
// without a native capture mechanism.
func newPlatformBackend(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindAuto, KindLibrary:
		return newLibraryBackend(cfg), nil
	default:
		return nil, fmt.Errorf("backend %s: %w", cfg.Kind, ErrNotSupported)
	}
}
