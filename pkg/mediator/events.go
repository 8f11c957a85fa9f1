package mediator

import (
	"sync"

	"github.com/driftwood-games/peermux/pkg/p2p"
)

type EventKind uint8

const (
	// EventQueueOverflow fires when a drain pass hits the queue size
	// limit and leaves remaining packets in the platform buffer. Flow
	// control, not an error.
	EventQueueOverflow EventKind = iota
	// EventConnectionRequestReceived fires when a connection request
	// arrives for a socket with no registered endpoint and is buffered.
	EventConnectionRequestReceived
	// EventConnectionRequestRemoved fires when a buffered connection
	// request leaves the pending store, either flushed to a newly
	// registered endpoint or purged by a connection-closed notification.
	EventConnectionRequestRemoved
)

// ConnectionInfo identifies one buffered connection request.
type ConnectionInfo struct {
	SocketID     string
	LocalUserID  p2p.UserID
	RemoteUserID p2p.UserID
}

// Event is delivered to subscribed observers. Request is set for the
// connection-request kinds and nil for EventQueueOverflow.
type Event struct {
	Kind    EventKind
	Request *ConnectionInfo
}

type eventHub struct {
	mut_handlers sync.Mutex
	nextId       uint64
	handlers     map[uint64]func(Event)
}

func (h *eventHub) subscribe(fn func(Event)) uint64 {
	h.mut_handlers.Lock()
	defer h.mut_handlers.Unlock()

	if h.handlers == nil {
		h.handlers = make(map[uint64]func(Event))
	}
	h.nextId++
	h.handlers[h.nextId] = fn
	return h.nextId
}

func (h *eventHub) unsubscribe(id uint64) {
	h.mut_handlers.Lock()
	defer h.mut_handlers.Unlock()
	delete(h.handlers, id)
}

// emit invokes handlers outside the registry lock so a handler may
// subscribe or unsubscribe reentrantly.
func (h *eventHub) emit(ev Event) {
	h.mut_handlers.Lock()
	snapshot := make([]func(Event), 0, len(h.handlers))
	for _, fn := range h.handlers {
		snapshot = append(snapshot, fn)
	}
	h.mut_handlers.Unlock()

	for _, fn := range snapshot {
		fn(ev)
	}
}
