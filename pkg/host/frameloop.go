// Package host provides a per-frame tick fan-out for processes that do
// not have an engine frame signal of their own.
package host

import (
	"context"
	"sync"
	"time"
)

type frameHandler struct {
	id uint64
	fn func()
}

// FrameLoop dispatches a tick to every attached handler. It satisfies
// the mediator's FrameHook contract. Handlers run synchronously on the
// goroutine calling Tick, in attachment order, so a host can pump its
// transport before the mediator's drain step runs.
type FrameLoop struct {
	mut_handlers sync.Mutex
	nextId       uint64
	handlers     []frameHandler
}

func CreateFrameLoop() *FrameLoop {
	return &FrameLoop{
		mut_handlers: sync.Mutex{},
	}
}

func (f *FrameLoop) AddFrameHandler(fn func()) uint64 {
	f.mut_handlers.Lock()
	defer f.mut_handlers.Unlock()

	f.nextId++
	f.handlers = append(f.handlers, frameHandler{id: f.nextId, fn: fn})
	return f.nextId
}

func (f *FrameLoop) RemoveFrameHandler(id uint64) {
	f.mut_handlers.Lock()
	defer f.mut_handlers.Unlock()

	for i, h := range f.handlers {
		if h.id == id {
			f.handlers = append(f.handlers[:i], f.handlers[i+1:]...)
			return
		}
	}
}

// Tick invokes every attached handler once.
func (f *FrameLoop) Tick() {
	f.mut_handlers.Lock()
	snapshot := make([]func(), 0, len(f.handlers))
	for _, h := range f.handlers {
		snapshot = append(snapshot, h.fn)
	}
	f.mut_handlers.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}

// Run ticks at the given interval until the context is cancelled.
func (f *FrameLoop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick()
		}
	}
}
