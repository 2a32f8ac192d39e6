//go:build darwin && cgo

package capture

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation -framework CoreMedia -framework CoreVideo -framework AppKit -framework ScreenCaptureKit

#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>
#include <CoreMedia/CoreMedia.h>
#include <CoreVideo/CoreVideo.h>
#include <AppKit/AppKit.h>
#include <ScreenCaptureKit/ScreenCaptureKit.h>
#include <stdint.h>

// Implemented in Go (sck_export_darwin.go).
extern void goStreamFrame(uintptr_t handle, void* base, int stride, int width, int height);

// FCStreamOutput receives screen sample buffers from ScreenCaptureKit and
// hands the locked pixel data to Go. The pixel pointer is only valid for
// the duration of the goStreamFrame call.
@interface FCStreamOutput : NSObject <SCStreamOutput, SCStreamDelegate>
@property (nonatomic) uintptr_t handle;
@end

@implementation FCStreamOutput
- (void)stream:(SCStream *)stream didOutputSampleBuffer:(CMSampleBufferRef)sampleBuffer ofType:(SCStreamOutputType)type {
    if (type != SCStreamOutputTypeScreen) return;
    CVPixelBufferRef pb = CMSampleBufferGetImageBuffer(sampleBuffer);
    if (pb == NULL) return;
    if (CVPixelBufferLockBaseAddress(pb, kCVPixelBufferLock_ReadOnly) != kCVReturnSuccess) return;
    void* base = CVPixelBufferGetBaseAddress(pb);
    if (base != NULL) {
        goStreamFrame(self.handle, base,
                      (int)CVPixelBufferGetBytesPerRow(pb),
                      (int)CVPixelBufferGetWidth(pb),
                      (int)CVPixelBufferGetHeight(pb));
    }
    CVPixelBufferUnlockBaseAddress(pb, kCVPixelBufferLock_ReadOnly);
}
@end

// One active stream at a time. The Go side serializes access with a
// try-lock before touching these.
static SCStream* g_stream = nil;
static FCStreamOutput* g_output = nil;
static dispatch_queue_t g_queue = NULL;

// fcStartStream enumerates shareable content, builds a filter for the
// requested display, and starts a BGRA screen stream at the requested
// rate. Returns 0 on success.
int fcStartStream(int displayIndex, int fps, uintptr_t handle) {
    __block SCDisplay* targetDisplay = nil;
    __block int error = 0;
    dispatch_semaphore_t sem = dispatch_semaphore_create(0);

    [SCShareableContent getShareableContentExcludingDesktopWindows:NO
                                             onScreenWindowsOnly:YES
                                             completionHandler:^(SCShareableContent* _Nullable content, NSError* _Nullable err) {
        if (err != nil || content == nil || content.displays.count == 0) {
            error = 2;
            dispatch_semaphore_signal(sem);
            return;
        }
        if ((NSUInteger)displayIndex >= content.displays.count) {
            error = 1;
            dispatch_semaphore_signal(sem);
            return;
        }
        targetDisplay = content.displays[(NSUInteger)displayIndex];
        dispatch_semaphore_signal(sem);
    }];
    dispatch_semaphore_wait(sem, DISPATCH_TIME_FOREVER);
    if (error != 0 || targetDisplay == nil) return error != 0 ? error : 2;

    // SCDisplay.width/height are in points. Multiply by the backing scale
    // factor so Retina displays capture at native pixel resolution.
    CGFloat scaleFactor = 1.0;
    CGDirectDisplayID targetID = targetDisplay.displayID;
    for (NSScreen* screen in [NSScreen screens]) {
        NSNumber* screenNum = screen.deviceDescription[@"NSScreenNumber"];
        if (screenNum && [screenNum unsignedIntValue] == targetID) {
            scaleFactor = [screen backingScaleFactor];
            break;
        }
    }

    SCContentFilter* filter = [[SCContentFilter alloc] initWithDisplay:targetDisplay excludingWindows:@[]];
    SCStreamConfiguration* config = [[SCStreamConfiguration alloc] init];
    config.width = (size_t)(targetDisplay.width * scaleFactor);
    config.height = (size_t)(targetDisplay.height * scaleFactor);
    config.minimumFrameInterval = CMTimeMake(1, fps);
    config.queueDepth = 5;
    config.pixelFormat = kCVPixelFormatType_32BGRA;
    config.showsCursor = YES;

    g_output = [[FCStreamOutput alloc] init];
    g_output.handle = handle;
    g_stream = [[SCStream alloc] initWithFilter:filter configuration:config delegate:g_output];
    if (g_queue == NULL) {
        g_queue = dispatch_queue_create("framecast.capture", DISPATCH_QUEUE_SERIAL);
    }

    NSError* addErr = nil;
    if (![g_stream addStreamOutput:g_output type:SCStreamOutputTypeScreen sampleHandlerQueue:g_queue error:&addErr]) {
        g_stream = nil;
        g_output = nil;
        return 4;
    }

    __block int startError = 0;
    dispatch_semaphore_t startSem = dispatch_semaphore_create(0);
    [g_stream startCaptureWithCompletionHandler:^(NSError* _Nullable err) {
        if (err != nil) startError = 3;
        dispatch_semaphore_signal(startSem);
    }];
    dispatch_semaphore_wait(startSem, DISPATCH_TIME_FOREVER);
    if (startError != 0) {
        g_stream = nil;
        g_output = nil;
        return startError;
    }
    return 0;
}

// fcStopStream stops the active stream and waits for completion, after
// which no further goStreamFrame callbacks are delivered. Sample buffers
// already enqueued on the handler queue when the stop completes are drained
// with a barrier before returning.
void fcStopStream(void) {
    if (g_stream == nil) return;
    dispatch_semaphore_t sem = dispatch_semaphore_create(0);
    [g_stream stopCaptureWithCompletionHandler:^(NSError* _Nullable err) {
        dispatch_semaphore_signal(sem);
    }];
    dispatch_semaphore_wait(sem, DISPATCH_TIME_FOREVER);
    if (g_queue != NULL) {
        dispatch_sync(g_queue, ^{});
    }
    g_stream = nil;
    g_output = nil;
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// sckMu guards the C stream globals. Held for the lifetime of a stream.
var sckMu sync.Mutex

// sckSinks resolves the id carried by each sample callback to its frame
// receiver. Ids are registered before the stream starts and removed after
// it is fully stopped; a callback racing the teardown sees no receiver and
// drops its frame.
var sckSinks sinkRegistry

func startSCKStream(display, fps int, frame func(*Frame)) (uintptr, error) {
	id := sckSinks.add(frame)
	code := int(C.fcStartStream(C.int(display), C.int(fps), C.uintptr_t(id)))
	if code != 0 {
		sckSinks.remove(id)
		return 0, sckError(code)
	}
	return id, nil
}

func sckError(code int) error {
	switch code {
	case 1:
		return ErrNoDisplay
	case 2:
		return fmt.Errorf("shareable content unavailable (screen recording permission not granted?)")
	case 3:
		return fmt.Errorf("stream failed to start")
	case 4:
		return fmt.Errorf("failed to attach stream output")
	default:
		return fmt.Errorf("stream error %d", code)
	}
}

// sckBackend is the macOS push backend: ScreenCaptureKit delivers frames
// on its own queue, so there is no pacing loop on the Go side. The rate
// is enforced by the stream configuration.
type sckBackend struct {
	display int

	mu      sync.Mutex
	running bool
	sinkID  uintptr

	log *slog.Logger
}

// Start spins up the stream and returns once ScreenCaptureKit has
// confirmed the capture is live, so permission and display errors
// surface here rather than being swallowed. Idempotent while running.
func (b *sckBackend) Start(sink FrameSink, fps uint32) error {
	if fps == 0 {
		return ErrInvalidFPS
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if !sckMu.TryLock() {
		return fmt.Errorf("another capture session is active")
	}

	var gone atomic.Bool
	frame := func(f *Frame) {
		if gone.Load() {
			return
		}
		if err := sink(*f); err != nil {
			gone.Store(true)
			b.log.Info("frame sink closed, stopping capture", "error", err)
			go b.Stop()
		}
	}

	id, err := startSCKStream(b.display, int(fps), frame)
	if err != nil {
		sckMu.Unlock()
		return err
	}
	b.sinkID = id
	b.running = true
	return nil
}

// Stop tears the stream down and waits until ScreenCaptureKit confirms no
// further frames will be delivered. Safe to call twice or when never
// started.
func (b *sckBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	C.fcStopStream()
	sckSinks.remove(b.sinkID)
	b.running = false
	sckMu.Unlock()
	return nil
}

// Screenshot runs a short-lived stream and returns its first frame.
func (b *sckBackend) Screenshot() (*Frame, error) {
	if !sckMu.TryLock() {
		return nil, fmt.Errorf("another capture session is active")
	}
	defer sckMu.Unlock()

	ch := make(chan *Frame, 1)
	var once sync.Once
	id, err := startSCKStream(b.display, 30, func(f *Frame) {
		once.Do(func() { ch <- f })
	})
	if err != nil {
		return nil, err
	}
	defer sckSinks.remove(id)
	defer C.fcStopStream()

	select {
	case f := <-ch:
		return f, nil
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("timed out waiting for first frame")
	}
}

var _ Backend = (*sckBackend)(nil)
