package capture

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kbinani/screenshot"
)

// librarySource captures through the portable screenshot library. It is
// the universal fallback: available on every platform, with no
// frame-change detection and no GPU path.
type librarySource struct {
	display int
	log     *slog.Logger
}

func openLibrary(displayIndex int) (pullSource, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays: %w", ErrNoDisplay)
	}
	if displayIndex < 0 || displayIndex >= n {
		return nil, fmt.Errorf("display %d of %d: %w", displayIndex, n, ErrNoDisplay)
	}
	return &librarySource{display: displayIndex, log: slog.Default()}, nil
}

// captureFrame grabs the display's bounds. The library returns a tightly
// packed RGBA image, so no pixel conversion is needed. Transient capture
// errors are absorbed as "no frame": the library path has nothing left to
// fall back to, so a session on it rides out glitches instead of dying.
func (s *librarySource) captureFrame() (*Frame, error) {
	bounds := screenshot.GetDisplayBounds(s.display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		s.log.Warn("library capture failed", "display", s.display, "error", err)
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}
	w := bounds.Dx()
	h := bounds.Dy()
	return &Frame{
		Width:  uint32(w),
		Height: uint32(h),
		Stride: uint32(w * 4),
		Pixels: img.Pix,
	}, nil
}

func (s *librarySource) close() {}

// newLibraryBackend returns a backend that only uses the portable
// library path, with no preferred/fallback pair.
func newLibraryBackend(cfg Config) Backend {
	return &pullBackend{
		display:      cfg.DisplayIndex,
		openFallback: openLibrary,
		log:          slog.Default(),
	}
}
