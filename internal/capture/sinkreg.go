package capture

import "sync"

// sinkRegistry hands out numeric ids for frame receivers so OS callback
// threads never hold a Go pointer. Stream callbacks can still be in flight
// on an OS-owned queue for a short window after a stop; looking up a
// removed id returns nil and the caller drops the frame, instead of
// touching state that has been torn down.
type sinkRegistry struct {
	mu    sync.Mutex
	next  uintptr
	sinks map[uintptr]func(*Frame)
}

func (r *sinkRegistry) add(fn func(*Frame)) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks == nil {
		r.sinks = make(map[uintptr]func(*Frame))
	}
	r.next++
	r.sinks[r.next] = fn
	return r.next
}

func (r *sinkRegistry) remove(id uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sinks, id)
}

func (r *sinkRegistry) lookup(id uintptr) func(*Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[id]
}
