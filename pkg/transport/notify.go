package transport

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/driftwood-games/peermux/pkg/p2p"
)

// deferredNotification is one lifecycle event waiting for the next
// Pump. Exactly one field is set.
type deferredNotification struct {
	established *p2p.ConnectionEstablishedInfo
	interrupted *p2p.ConnectionInterruptedInfo
	closed      *p2p.ConnectionClosedInfo
	request     *p2p.ConnectionRequestInfo
}

// notifyHub implements the notification half of p2p.Interface for a
// single local user. Producers (read pumps, peer transports) queue
// events from any goroutine; dispatchPending delivers them synchronously
// on the goroutine that calls it, which keeps the callback contract of
// p2p.Interface: callbacks never run concurrently with each other or
// with the caller's drain step.
type notifyHub struct {
	user p2p.UserID

	mut_notify  sync.Mutex
	nextId      uint64
	established map[p2p.NotificationID]func(p2p.ConnectionEstablishedInfo)
	interrupted map[p2p.NotificationID]func(p2p.ConnectionInterruptedInfo)
	closed      map[p2p.NotificationID]func(p2p.ConnectionClosedInfo)
	request     map[p2p.NotificationID]func(p2p.ConnectionRequestInfo)
	deferred    *queue.Queue
}

func createNotifyHub(user p2p.UserID) *notifyHub {
	return &notifyHub{
		user:        user,
		established: make(map[p2p.NotificationID]func(p2p.ConnectionEstablishedInfo)),
		interrupted: make(map[p2p.NotificationID]func(p2p.ConnectionInterruptedInfo)),
		closed:      make(map[p2p.NotificationID]func(p2p.ConnectionClosedInfo)),
		request:     make(map[p2p.NotificationID]func(p2p.ConnectionRequestInfo)),
		deferred:    queue.New(),
	}
}

func (h *notifyHub) nextNotificationIdLocked() p2p.NotificationID {
	h.nextId++
	return p2p.NotificationID(h.nextId)
}

func (h *notifyHub) AddNotifyPeerConnectionEstablished(localUser p2p.UserID, cb func(p2p.ConnectionEstablishedInfo)) p2p.NotificationID {
	if localUser != h.user || cb == nil {
		return p2p.InvalidNotificationID
	}
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	id := h.nextNotificationIdLocked()
	h.established[id] = cb
	return id
}

func (h *notifyHub) AddNotifyPeerConnectionInterrupted(localUser p2p.UserID, cb func(p2p.ConnectionInterruptedInfo)) p2p.NotificationID {
	if localUser != h.user || cb == nil {
		return p2p.InvalidNotificationID
	}
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	id := h.nextNotificationIdLocked()
	h.interrupted[id] = cb
	return id
}

func (h *notifyHub) AddNotifyPeerConnectionClosed(localUser p2p.UserID, cb func(p2p.ConnectionClosedInfo)) p2p.NotificationID {
	if localUser != h.user || cb == nil {
		return p2p.InvalidNotificationID
	}
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	id := h.nextNotificationIdLocked()
	h.closed[id] = cb
	return id
}

func (h *notifyHub) AddNotifyPeerConnectionRequest(localUser p2p.UserID, cb func(p2p.ConnectionRequestInfo)) p2p.NotificationID {
	if localUser != h.user || cb == nil {
		return p2p.InvalidNotificationID
	}
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	id := h.nextNotificationIdLocked()
	h.request[id] = cb
	return id
}

func (h *notifyHub) RemoveNotifyPeerConnectionEstablished(id p2p.NotificationID) {
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	delete(h.established, id)
}

func (h *notifyHub) RemoveNotifyPeerConnectionInterrupted(id p2p.NotificationID) {
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	delete(h.interrupted, id)
}

func (h *notifyHub) RemoveNotifyPeerConnectionClosed(id p2p.NotificationID) {
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	delete(h.closed, id)
}

func (h *notifyHub) RemoveNotifyPeerConnectionRequest(id p2p.NotificationID) {
	h.mut_notify.Lock()
	defer h.mut_notify.Unlock()
	delete(h.request, id)
}

func (h *notifyHub) queueEstablished(info p2p.ConnectionEstablishedInfo) {
	h.mut_notify.Lock()
	h.deferred.Add(deferredNotification{established: &info})
	h.mut_notify.Unlock()
}

func (h *notifyHub) queueInterrupted(info p2p.ConnectionInterruptedInfo) {
	h.mut_notify.Lock()
	h.deferred.Add(deferredNotification{interrupted: &info})
	h.mut_notify.Unlock()
}

func (h *notifyHub) queueClosed(info p2p.ConnectionClosedInfo) {
	h.mut_notify.Lock()
	h.deferred.Add(deferredNotification{closed: &info})
	h.mut_notify.Unlock()
}

func (h *notifyHub) queueRequest(info p2p.ConnectionRequestInfo) {
	h.mut_notify.Lock()
	h.deferred.Add(deferredNotification{request: &info})
	h.mut_notify.Unlock()
}

// dispatchPending drains the deferred queue, invoking the callbacks
// registered at dispatch time. Callbacks run with the hub unlocked so
// they may add or remove notifications reentrantly.
func (h *notifyHub) dispatchPending() {
	for {
		h.mut_notify.Lock()
		if h.deferred.Length() == 0 {
			h.mut_notify.Unlock()
			return
		}
		ev := h.deferred.Remove().(deferredNotification)

		switch {
		case ev.established != nil:
			cbs := make([]func(p2p.ConnectionEstablishedInfo), 0, len(h.established))
			for _, cb := range h.established {
				cbs = append(cbs, cb)
			}
			h.mut_notify.Unlock()
			for _, cb := range cbs {
				cb(*ev.established)
			}
		case ev.interrupted != nil:
			cbs := make([]func(p2p.ConnectionInterruptedInfo), 0, len(h.interrupted))
			for _, cb := range h.interrupted {
				cbs = append(cbs, cb)
			}
			h.mut_notify.Unlock()
			for _, cb := range cbs {
				cb(*ev.interrupted)
			}
		case ev.closed != nil:
			cbs := make([]func(p2p.ConnectionClosedInfo), 0, len(h.closed))
			for _, cb := range h.closed {
				cbs = append(cbs, cb)
			}
			h.mut_notify.Unlock()
			for _, cb := range cbs {
				cb(*ev.closed)
			}
		case ev.request != nil:
			cbs := make([]func(p2p.ConnectionRequestInfo), 0, len(h.request))
			for _, cb := range h.request {
				cbs = append(cbs, cb)
			}
			h.mut_notify.Unlock()
			for _, cb := range cbs {
				cb(*ev.request)
			}
		default:
			h.mut_notify.Unlock()
		}
	}
}
