package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// pullSource is a capture mechanism that yields one frame on demand.
// captureFrame returns (nil, nil) when no new frame is available within the
// source's acquire timeout — the normal steady state on a static desktop.
// An error wrapping errAccessLost means the mechanism must be reinitialized;
// any other error demotes the session to the fallback source.
type pullSource interface {
	captureFrame() (*Frame, error)
	close()
}

// sourceFactory opens a pullSource bound to a display.
type sourceFactory func(displayIndex int) (pullSource, error)

// pullBackend drives a pull-based source at a fixed rate on a dedicated
// thread. It owns the initialize → capture → classify → recover cycle for
// the preferred/fallback source pair.
type pullBackend struct {
	display int

	// openPreferred creates the preferred mechanism; nil if the platform
	// has none. openFallback creates the lesser mechanism used when the
	// preferred one cannot initialize or degrades permanently.
	openPreferred sourceFactory
	openFallback  sourceFactory

	// threadSetup runs on the capture thread before the source is opened
	// and returns the matching teardown (e.g. COM apartment init).
	threadSetup func() func()

	// screenshotAttempts bounds the acquire retries in Screenshot before
	// giving up on a source that keeps reporting "no frame".
	screenshotAttempts int

	mu      sync.Mutex
	running atomic.Bool
	done    chan struct{}

	log *slog.Logger
}

func (b *pullBackend) logger() *slog.Logger {
	if b.log != nil {
		return b.log
	}
	return slog.Default()
}

// openInitial tries the preferred source first, then the fallback.
// demoted reports whether the session starts on the fallback.
func (b *pullBackend) openInitial() (src pullSource, demoted bool, err error) {
	var preferredErr error
	if b.openPreferred != nil {
		src, preferredErr = b.openPreferred(b.display)
		if preferredErr == nil {
			return src, false, nil
		}
		b.logger().Warn("preferred capture mechanism unavailable", "error", preferredErr)
	}
	if b.openFallback != nil {
		src, err = b.openFallback(b.display)
		if err == nil {
			return src, true, nil
		}
	}
	if preferredErr != nil {
		if err != nil {
			return nil, false, fmt.Errorf("no capture mechanism available: %v; fallback: %w", preferredErr, err)
		}
		return nil, false, fmt.Errorf("no capture mechanism available: %w", preferredErr)
	}
	if err != nil {
		return nil, false, fmt.Errorf("no capture mechanism available: %w", err)
	}
	return nil, false, ErrNotSupported
}

// Start launches the capture thread. Initialization happens on that thread
// (the source's handles are only ever touched by their owning thread) and
// Start blocks until it has either succeeded or failed. Idempotent while
// running.
func (b *pullBackend) Start(sink FrameSink, fps uint32) error {
	if fps == 0 {
		return ErrInvalidFPS
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running.Load() {
		return nil
	}

	interval := time.Second / time.Duration(fps)
	initErr := make(chan error, 1)
	done := make(chan struct{})

	b.running.Store(true)
	go b.loop(sink, interval, initErr, done)

	if err := <-initErr; err != nil {
		b.running.Store(false)
		<-done
		return err
	}
	b.done = done
	return nil
}

// Stop clears the running flag and joins the capture thread. It does not
// return until every resource handle has been released. Safe to call twice
// or on a backend that never started.
func (b *pullBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.running.Store(false)
	if b.done != nil {
		<-b.done
		b.done = nil
	}
	return nil
}

// Screenshot opens a throwaway source, polls it until the first frame, and
// tears it down. Sources that can report "no frame" get a bounded retry
// budget.
func (b *pullBackend) Screenshot() (*Frame, error) {
	type result struct {
		frame *Frame
		err   error
	}
	ch := make(chan result, 1)

	// Same thread discipline as the streaming loop: the source lives and
	// dies on one locked OS thread.
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if b.threadSetup != nil {
			defer b.threadSetup()()
		}

		src, _, err := b.openInitial()
		if err != nil {
			ch <- result{nil, err}
			return
		}
		defer src.close()

		attempts := b.screenshotAttempts
		if attempts <= 0 {
			attempts = 10
		}
		for i := 0; i < attempts; i++ {
			frame, err := src.captureFrame()
			if err != nil {
				ch <- result{nil, err}
				return
			}
			if frame != nil {
				ch <- result{frame, nil}
				return
			}
		}
		ch <- result{nil, fmt.Errorf("no frame produced after %d attempts", attempts)}
	}()

	r := <-ch
	return r.frame, r.err
}

// loop is the fixed-rate pacing loop. Each iteration captures at most one
// frame, classifies any failure, and sleeps out the remainder of the target
// interval so deliveries approximate the requested rate.
func (b *pullBackend) loop(sink FrameSink, interval time.Duration, initErr chan<- error, done chan<- struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if b.threadSetup != nil {
		defer b.threadSetup()()
	}

	src, demoted, err := b.openInitial()
	initErr <- err
	if err != nil {
		return
	}
	defer func() {
		if src != nil {
			src.close()
		}
	}()

	log := b.logger()
	for b.running.Load() {
		start := time.Now()

		frame, err := src.captureFrame()
		switch {
		case err == nil && frame != nil:
			if sinkErr := sink(*frame); sinkErr != nil {
				// Consumer gone — clean stop, not an error.
				log.Info("frame sink closed, stopping capture", "error", sinkErr)
				b.running.Store(false)
			}
		case err == nil:
			// No new frame within the acquire timeout. Normal.
		default:
			src, demoted, err = b.recover(src, demoted, err)
			if err != nil {
				log.Error("capture unrecoverable, stopping", "error", err)
				b.running.Store(false)
			}
		}

		if elapsed := time.Since(start); elapsed < interval {
			time.Sleep(interval - elapsed)
		}
	}
}

// recover applies the mid-stream recovery policy: on access-lost,
// reinitialize the same mechanism in place and demote to the fallback only
// if that fails too; on any other failure demote immediately. A demoted
// session never promotes back within its lifetime.
func (b *pullBackend) recover(src pullSource, demoted bool, captureErr error) (pullSource, bool, error) {
	log := b.logger()
	src.close()

	if !demoted && errors.Is(captureErr, errAccessLost) && b.openPreferred != nil {
		log.Warn("capture access lost, reinitializing", "error", captureErr)
		if next, err := b.openPreferred(b.display); err == nil {
			return next, false, nil
		} else {
			log.Warn("reinitialize failed, demoting to fallback", "error", err)
		}
	} else if !demoted {
		log.Warn("capture failed, demoting to fallback", "error", captureErr)
	}

	if demoted || b.openFallback == nil {
		return nil, demoted, captureErr
	}
	next, err := b.openFallback(b.display)
	if err != nil {
		return nil, demoted, fmt.Errorf("fallback after %v: %w", captureErr, err)
	}
	return next, true, nil
}

var _ Backend = (*pullBackend)(nil)
