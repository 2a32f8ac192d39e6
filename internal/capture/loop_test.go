package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// stubSource drives the pacing loop with scripted results.
type stubSource struct {
	capture func() (*Frame, error)
	closed  atomic.Int32
}

func (s *stubSource) captureFrame() (*Frame, error) { return s.capture() }
func (s *stubSource) close()                        { s.closed.Add(1) }

func testFrame() *Frame {
	return &Frame{Width: 1, Height: 1, Stride: 4, Pixels: []byte{1, 2, 3, 255}}
}

// collectFrames returns a sink that forwards into a buffered channel and a
// helper that waits for n deliveries.
func collectFrames(t *testing.T) (FrameSink, func(n int) []Frame) {
	t.Helper()
	ch := make(chan Frame, 256)
	sink := func(f Frame) error {
		select {
		case ch <- f:
		default:
		}
		return nil
	}
	wait := func(n int) []Frame {
		t.Helper()
		frames := make([]Frame, 0, n)
		deadline := time.After(5 * time.Second)
		for len(frames) < n {
			select {
			case f := <-ch:
				frames = append(frames, f)
			case <-deadline:
				t.Fatalf("timed out waiting for %d frames, got %d", n, len(frames))
			}
		}
		return frames
	}
	return sink, wait
}

func TestStartRejectsZeroFPS(t *testing.T) {
	b := &pullBackend{
		openFallback: func(int) (pullSource, error) {
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
	}
	if err := b.Start(func(Frame) error { return nil }, 0); !errors.Is(err, ErrInvalidFPS) {
		t.Fatalf("expected ErrInvalidFPS, got %v", err)
	}
}

func TestStartInitFailure(t *testing.T) {
	b := &pullBackend{
		openPreferred: func(int) (pullSource, error) { return nil, fmt.Errorf("preferred broken") },
		openFallback:  func(int) (pullSource, error) { return nil, fmt.Errorf("fallback broken") },
	}
	if err := b.Start(func(Frame) error { return nil }, 30); err == nil {
		t.Fatal("expected init error")
	}
	if b.running.Load() {
		t.Fatal("backend must not be running after failed init")
	}
	// Stop after failed Start must be a no-op.
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	var opens atomic.Int32
	src := &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}
	b := &pullBackend{
		openFallback: func(int) (pullSource, error) {
			opens.Add(1)
			return src, nil
		},
	}
	sink, wait := collectFrames(t)

	if err := b.Start(sink, 100); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start while running is a no-op and must not open another source.
	if err := b.Start(sink, 100); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	wait(2)

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if got := opens.Load(); got != 1 {
		t.Fatalf("expected 1 source open, got %d", got)
	}
	if got := src.closed.Load(); got != 1 {
		t.Fatalf("expected source closed once, got %d", got)
	}
}

func TestStopNeverStarted(t *testing.T) {
	b := &pullBackend{}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop on never-started backend: %v", err)
	}
}

func TestLoopPacing(t *testing.T) {
	b := &pullBackend{
		openFallback: func(int) (pullSource, error) {
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
	}
	sink, wait := collectFrames(t)

	const fps = 50
	start := time.Now()
	if err := b.Start(sink, fps); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	const n = 10
	wait(n)
	elapsed := time.Since(start)

	// n frames at 20ms spacing need at least (n-1) full intervals. Allow
	// generous slack for scheduler jitter but catch a loop that free-runs.
	min := time.Duration(n-1) * (time.Second / fps) * 8 / 10
	if elapsed < min {
		t.Fatalf("%d frames in %v, expected at least %v", n, elapsed, min)
	}
}

func TestDemoteOnCaptureError(t *testing.T) {
	var preferredOpens atomic.Int32
	b := &pullBackend{
		openPreferred: func(int) (pullSource, error) {
			preferredOpens.Add(1)
			return &stubSource{capture: func() (*Frame, error) {
				return nil, fmt.Errorf("surface gone")
			}}, nil
		},
		openFallback: func(int) (pullSource, error) {
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
	}
	sink, wait := collectFrames(t)

	if err := b.Start(sink, 100); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	// Frames keep flowing from the fallback after the preferred source
	// failed with a non-recoverable error.
	wait(3)

	// A plain failure must not trigger reinitialization of the preferred
	// mechanism.
	if got := preferredOpens.Load(); got != 1 {
		t.Fatalf("expected 1 preferred open, got %d", got)
	}
}

func TestAccessLostReinitializes(t *testing.T) {
	var preferredOpens atomic.Int32
	var fallbackOpens atomic.Int32
	b := &pullBackend{
		openPreferred: func(int) (pullSource, error) {
			n := preferredOpens.Add(1)
			if n == 1 {
				// First source dies with access-lost on its first capture.
				return &stubSource{capture: func() (*Frame, error) {
					return nil, fmt.Errorf("AcquireNextFrame: 0x887A0026: %w", errAccessLost)
				}}, nil
			}
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
		openFallback: func(int) (pullSource, error) {
			fallbackOpens.Add(1)
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
	}
	sink, wait := collectFrames(t)

	if err := b.Start(sink, 100); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	wait(3)

	if got := preferredOpens.Load(); got != 2 {
		t.Fatalf("expected preferred reopened once (2 opens), got %d", got)
	}
	if got := fallbackOpens.Load(); got != 0 {
		t.Fatalf("expected no fallback opens, got %d", got)
	}
}

func TestAccessLostFromReadbackReinitializes(t *testing.T) {
	// Access loss can surface past the acquire stage, during frame readback,
	// where the source wraps it under an outer operation error. The loop must
	// still recognize it and reinitialize instead of demoting.
	var preferredOpens atomic.Int32
	var fallbackOpens atomic.Int32
	b := &pullBackend{
		openPreferred: func(int) (pullSource, error) {
			n := preferredOpens.Add(1)
			if n == 1 {
				return &stubSource{capture: func() (*Frame, error) {
					return nil, fmt.Errorf("readback: %w",
						fmt.Errorf("Map staging texture: 0x887A0026: %w", errAccessLost))
				}}, nil
			}
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
		openFallback: func(int) (pullSource, error) {
			fallbackOpens.Add(1)
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
	}
	sink, wait := collectFrames(t)

	if err := b.Start(sink, 100); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	wait(3)

	if got := preferredOpens.Load(); got != 2 {
		t.Fatalf("expected preferred reopened once (2 opens), got %d", got)
	}
	if got := fallbackOpens.Load(); got != 0 {
		t.Fatalf("expected no fallback opens, got %d", got)
	}
}

func TestAccessLostReinitFailureDemotes(t *testing.T) {
	var preferredOpens atomic.Int32
	b := &pullBackend{
		openPreferred: func(int) (pullSource, error) {
			if preferredOpens.Add(1) > 1 {
				return nil, fmt.Errorf("device still lost")
			}
			return &stubSource{capture: func() (*Frame, error) {
				return nil, fmt.Errorf("capture: %w", errAccessLost)
			}}, nil
		},
		openFallback: func(int) (pullSource, error) {
			return &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}, nil
		},
	}
	sink, wait := collectFrames(t)

	if err := b.Start(sink, 100); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	wait(3)

	if got := preferredOpens.Load(); got != 2 {
		t.Fatalf("expected 2 preferred opens (initial + failed reinit), got %d", got)
	}
}

func TestUnrecoverableStops(t *testing.T) {
	b := &pullBackend{
		openPreferred: func(int) (pullSource, error) {
			return &stubSource{capture: func() (*Frame, error) {
				return nil, fmt.Errorf("surface gone")
			}}, nil
		},
		// No fallback: the first error ends the session.
	}
	if err := b.Start(func(Frame) error { return nil }, 100); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for b.running.Load() {
		select {
		case <-deadline:
			t.Fatal("loop did not stop after unrecoverable error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSinkErrorStopsLoop(t *testing.T) {
	src := &stubSource{capture: func() (*Frame, error) { return testFrame(), nil }}
	b := &pullBackend{
		openFallback: func(int) (pullSource, error) { return src, nil },
	}

	var deliveries atomic.Int32
	sink := func(Frame) error {
		if deliveries.Add(1) >= 2 {
			return fmt.Errorf("consumer gone")
		}
		return nil
	}

	if err := b.Start(sink, 200); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for b.running.Load() {
		select {
		case <-deadline:
			t.Fatal("loop did not stop after sink error")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := src.closed.Load(); got != 1 {
		t.Fatalf("expected source closed once, got %d", got)
	}
	// No deliveries after the sink reported the consumer gone.
	settled := deliveries.Load()
	time.Sleep(50 * time.Millisecond)
	if got := deliveries.Load(); got != settled {
		t.Fatalf("deliveries continued after stop: %d -> %d", settled, got)
	}
}

func TestScreenshotRetriesNoFrame(t *testing.T) {
	var calls atomic.Int32
	b := &pullBackend{
		openFallback: func(int) (pullSource, error) {
			return &stubSource{capture: func() (*Frame, error) {
				if calls.Add(1) < 3 {
					return nil, nil
				}
				return testFrame(), nil
			}}, nil
		},
	}

	f, err := b.Screenshot()
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if f == nil || f.Width != 1 || f.Height != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 capture attempts, got %d", got)
	}
}

func TestScreenshotExhaustsRetries(t *testing.T) {
	src := &stubSource{capture: func() (*Frame, error) { return nil, nil }}
	b := &pullBackend{
		openFallback:       func(int) (pullSource, error) { return src, nil },
		screenshotAttempts: 4,
	}

	if _, err := b.Screenshot(); err == nil {
		t.Fatal("expected error after retry budget exhausted")
	}
	if got := src.closed.Load(); got != 1 {
		t.Fatalf("expected source closed once, got %d", got)
	}
}

func TestScreenshotInitFailure(t *testing.T) {
	b := &pullBackend{
		openFallback: func(int) (pullSource, error) { return nil, ErrNoDisplay },
	}
	if _, err := b.Screenshot(); !errors.Is(err, ErrNoDisplay) {
		t.Fatalf("expected ErrNoDisplay, got %v", err)
	}
}
