// Package mediator routes inbound peer-to-peer datagrams and connection
// lifecycle notifications to the multiplayer session instances that own
// them. Multiple session instances may exist in a process, each bound
// to a distinct logical socket id; the mediator is the single consumer
// of the platform's receive buffer and sorts what it drains into
// per-socket queues that the owning instances poll.
package mediator

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/driftwood-games/peermux/internal"
	"github.com/driftwood-games/peermux/internal/obs"
	"github.com/driftwood-games/peermux/pkg/message"
	"github.com/driftwood-games/peermux/pkg/p2p"
)

type NotInitializedError struct{}

func (e *NotInitializedError) Error() string {
	return "Mediator has not been initialized - call Initialize with a local user identity before starting a multiplayer instance"
}

type NoLocalUserError struct{}

func (e *NoLocalUserError) Error() string {
	return "Local user id has not been set"
}

type EmptySocketIDError struct{}

func (e *EmptySocketIDError) Error() string {
	return "Endpoint has an empty socket id - endpoint is not active"
}

type SocketAlreadyRegisteredError struct {
	SocketID string
}

func (e *SocketAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("An endpoint is already registered for socket %q", e.SocketID)
}

type NotificationRegistrationError struct {
	Kind string
}

func (e *NotificationRegistrationError) Error() string {
	return fmt.Sprintf("Failed to add connection %s callback", e.Kind)
}

type MissingDependencyError struct {
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("Missing required mediator dependency %q", e.Dependency)
}

// FrameHook is the host's per-frame trigger. The mediator attaches its
// drain step on Initialize and detaches it on Terminate.
type FrameHook interface {
	AddFrameHandler(fn func()) uint64
	RemoveFrameHandler(id uint64)
}

// DefaultQueueSizeLimit caps the total packet count across all socket
// queues when MediatorConfig.QueueSizeLimit is left zero.
const DefaultQueueSizeLimit = 2048

type MediatorConfig struct {
	P2P    p2p.Interface
	Frames FrameHook

	// QueueSizeLimit bounds the total buffered packet count across all
	// socket queues. Zero means DefaultQueueSizeLimit.
	QueueSizeLimit int

	Logger *zap.Logger
}

// Mediator demultiplexes received packets by destination socket and
// dispatches connection lifecycle notifications to registered
// endpoints, buffering connection requests whose destination socket has
// no endpoint yet.
//
// mut is the single mutual-exclusion domain for the registration table,
// the pending-request store and lifecycle state; register both creates
// a queue and flushes pending requests, so the structures cannot be
// guarded independently. Endpoint callbacks and observer events are
// always invoked with mut released.
type Mediator struct {
	sdk    p2p.Interface
	frames FrameHook
	log    *zap.Logger
	events eventHub

	store *internal.PacketStore

	mut            sync.Mutex
	initialized    bool
	localUser      p2p.UserID
	endpoints      map[string]Endpoint
	pending        []ConnectionInfo
	queueSizeLimit int

	frameHandle       uint64
	notifyEstablished p2p.NotificationID
	notifyInterrupted p2p.NotificationID
	notifyClosed      p2p.NotificationID
	notifyRequest     p2p.NotificationID
}

func CreateMediator(config MediatorConfig) (*Mediator, error) {
	if config.P2P == nil {
		return nil, &MissingDependencyError{Dependency: "P2P"}
	}
	if config.Frames == nil {
		return nil, &MissingDependencyError{Dependency: "Frames"}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	queueSizeLimit := DefaultQueueSizeLimit
	if config.QueueSizeLimit > 0 {
		queueSizeLimit = config.QueueSizeLimit
	}

	return &Mediator{
		sdk:    config.P2P,
		frames: config.Frames,
		log:    logger.With(zap.String("component", "mediator")),

		store: internal.CreatePacketStore(),

		endpoints:      make(map[string]Endpoint),
		queueSizeLimit: queueSizeLimit,
	}, nil
}

// Initialize binds the mediator to the given local user identity,
// registers the four platform notifications and attaches the drain step
// to the host frame trigger. Idempotent: a second call while already
// initialized is a no-op.
func (m *Mediator) Initialize(localUser p2p.UserID) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	if m.initialized {
		return nil
	}
	if localUser == "" {
		return &NoLocalUserError{}
	}

	m.notifyClosed = m.sdk.AddNotifyPeerConnectionClosed(localUser, m.onRemoteConnectionClosed)
	m.notifyEstablished = m.sdk.AddNotifyPeerConnectionEstablished(localUser, m.onPeerConnectionEstablished)
	m.notifyInterrupted = m.sdk.AddNotifyPeerConnectionInterrupted(localUser, m.onPeerConnectionInterrupted)
	m.notifyRequest = m.sdk.AddNotifyPeerConnectionRequest(localUser, m.onIncomingConnectionRequest)

	for _, reg := range []struct {
		id   p2p.NotificationID
		kind string
	}{
		{m.notifyClosed, "closed"},
		{m.notifyEstablished, "established"},
		{m.notifyInterrupted, "interrupted"},
		{m.notifyRequest, "request"},
	} {
		if reg.id == p2p.InvalidNotificationID {
			m.removeNotificationsLocked()
			return &NotificationRegistrationError{Kind: reg.kind}
		}
	}

	m.frameHandle = m.frames.AddFrameHandler(m.onFrameTick)
	m.localUser = localUser
	m.initialized = true

	m.log.Info("Mediator initialized", zap.String("localUser", string(localUser)))
	return nil
}

// Terminate detaches the frame handler, removes the platform
// notifications and clears the local identity. All registrations,
// buffered packets and pending connection requests are dropped
// unconditionally: no endpoint reference is meaningfully valid once the
// local identity is gone. A request-removed event is emitted for every
// pending entry discarded this way. No-op when not initialized.
func (m *Mediator) Terminate() {
	m.mut.Lock()
	if !m.initialized {
		m.mut.Unlock()
		return
	}

	m.frames.RemoveFrameHandler(m.frameHandle)
	m.removeNotificationsLocked()

	dropped := m.pending
	m.pending = nil
	for socketId := range m.endpoints {
		m.store.RemoveSocket(socketId)
		delete(m.endpoints, socketId)
	}

	m.localUser = ""
	m.initialized = false
	m.mut.Unlock()

	obs.QueuedPackets.Set(0)
	obs.RegisteredSockets.Set(0)
	obs.PendingRequests.Set(0)
	m.log.Info("Mediator terminated", zap.Int("droppedPendingRequests", len(dropped)))

	for i := range dropped {
		req := dropped[i]
		m.events.emit(Event{Kind: EventConnectionRequestRemoved, Request: &req})
	}
}

func (m *Mediator) removeNotificationsLocked() {
	if m.notifyEstablished != p2p.InvalidNotificationID {
		m.sdk.RemoveNotifyPeerConnectionEstablished(m.notifyEstablished)
		m.notifyEstablished = p2p.InvalidNotificationID
	}
	if m.notifyInterrupted != p2p.InvalidNotificationID {
		m.sdk.RemoveNotifyPeerConnectionInterrupted(m.notifyInterrupted)
		m.notifyInterrupted = p2p.InvalidNotificationID
	}
	if m.notifyClosed != p2p.InvalidNotificationID {
		m.sdk.RemoveNotifyPeerConnectionClosed(m.notifyClosed)
		m.notifyClosed = p2p.InvalidNotificationID
	}
	if m.notifyRequest != p2p.InvalidNotificationID {
		m.sdk.RemoveNotifyPeerConnectionRequest(m.notifyRequest)
		m.notifyRequest = p2p.InvalidNotificationID
	}
}

func (m *Mediator) IsInitialized() bool {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.initialized
}

func (m *Mediator) LocalUserID() p2p.UserID {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.localUser
}

// RegisterPeer registers an endpoint and its socket with the mediator.
// Once registered, the socket receives packets, platform notifications
// and connection requests. Any pending connection requests matching the
// socket are flushed to the endpoint immediately, each one emitting a
// request-removed event.
func (m *Mediator) RegisterPeer(endpoint Endpoint) error {
	socketId := endpoint.SocketID()

	m.mut.Lock()
	if !m.initialized {
		m.mut.Unlock()
		return &NotInitializedError{}
	}
	if socketId == "" {
		m.mut.Unlock()
		return &EmptySocketIDError{}
	}
	if _, has := m.endpoints[socketId]; has {
		m.mut.Unlock()
		return &SocketAlreadyRegisteredError{SocketID: socketId}
	}

	m.endpoints[socketId] = endpoint
	if err := m.store.AddSocket(socketId); err != nil {
		delete(m.endpoints, socketId)
		m.mut.Unlock()
		return err
	}

	flushed := m.takePendingLocked(socketId)
	registered := len(m.endpoints)
	pendingLeft := len(m.pending)
	m.mut.Unlock()

	obs.RegisteredSockets.Set(float64(registered))
	obs.PendingRequests.Set(float64(pendingLeft))
	m.log.Info("Registered socket endpoint", zap.String("socketId", socketId), zap.Int("flushedRequests", len(flushed)))

	for i := range flushed {
		req := flushed[i]
		endpoint.OnConnectionRequest(p2p.ConnectionRequestInfo{
			LocalUserID:  req.LocalUserID,
			RemoteUserID: req.RemoteUserID,
			SocketID:     req.SocketID,
		})
		m.events.emit(Event{Kind: EventConnectionRequestRemoved, Request: &req})
	}
	return nil
}

// takePendingLocked removes and returns every pending connection
// request destined for socketId. Caller holds m.mut.
func (m *Mediator) takePendingLocked(socketId string) []ConnectionInfo {
	var matched []ConnectionInfo
	kept := m.pending[:0]
	for _, req := range m.pending {
		if req.SocketID == socketId {
			matched = append(matched, req)
			continue
		}
		kept = append(kept, req)
	}
	m.pending = kept
	return matched
}

// UnregisterPeer removes the endpoint's registration, discarding every
// packet still buffered for its socket. No-op if the endpoint's socket
// is not currently registered. Pending requests for other sockets are
// untouched.
func (m *Mediator) UnregisterPeer(endpoint Endpoint) {
	socketId := endpoint.SocketID()

	m.mut.Lock()
	if _, has := m.endpoints[socketId]; !has {
		m.mut.Unlock()
		return
	}
	m.store.RemoveSocket(socketId)
	delete(m.endpoints, socketId)
	registered := len(m.endpoints)
	m.mut.Unlock()

	obs.RegisteredSockets.Set(float64(registered))
	obs.QueuedPackets.Set(float64(m.store.TotalCount()))
	m.log.Info("Unregistered socket endpoint", zap.String("socketId", socketId))
}

func (m *Mediator) HasSocket(socketId string) bool {
	return m.store.HasSocket(socketId)
}

func (m *Mediator) Sockets() []string {
	return m.store.Sockets()
}

func (m *Mediator) QueueSizeLimit() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.queueSizeLimit
}

// SetQueueSizeLimit adjusts the global packet cap. Takes effect on the
// next drain iteration. Non-positive limits are ignored.
func (m *Mediator) SetQueueSizeLimit(limit int) {
	if limit <= 0 {
		m.log.Warn("Ignoring non-positive queue size limit", zap.Int("limit", limit))
		return
	}
	m.mut.Lock()
	m.queueSizeLimit = limit
	m.mut.Unlock()
}

// PollNextPacket removes and returns the next packet buffered for the
// socket. The boolean is false when the socket is unknown or its queue
// is empty.
func (m *Mediator) PollNextPacket(socketId string) (*p2p.ReceivedPacket, bool) {
	packet, ok := m.store.PollNext(socketId)
	if ok {
		obs.QueuedPackets.Set(float64(m.store.TotalCount()))
	}
	return packet, ok
}

func (m *Mediator) PacketCount(socketId string) int {
	return m.store.Count(socketId)
}

func (m *Mediator) TotalPacketCount() int {
	return m.store.TotalCount()
}

func (m *Mediator) PacketCountFromRemoteUser(remoteUser p2p.UserID, socketId string) (int, error) {
	return m.store.CountFromSender(socketId, remoteUser)
}

func (m *Mediator) ClearPacketQueue(socketId string) error {
	if err := m.store.Clear(socketId); err != nil {
		return err
	}
	obs.QueuedPackets.Set(float64(m.store.TotalCount()))
	return nil
}

// ClearPacketsFromRemoteUser drops every buffered packet for the socket
// whose sender matches. Called by a session instance when a remote peer
// disconnects, to flush its stale in-flight data.
func (m *Mediator) ClearPacketsFromRemoteUser(socketId string, remoteUser p2p.UserID) error {
	if err := m.store.ClearFromSender(socketId, remoteUser); err != nil {
		return err
	}
	obs.QueuedPackets.Set(float64(m.store.TotalCount()))
	return nil
}

// NextPacketIsPeerIDPacket reports whether the socket's queue is
// non-empty and its front packet is a peer identification packet.
func (m *Mediator) NextPacketIsPeerIDPacket(socketId string) bool {
	packet, ok := m.store.PeekNext(socketId)
	if !ok {
		return false
	}
	return message.IsPeerIDPacket(packet.Payload)
}

func (m *Mediator) ConnectionRequestCount() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return len(m.pending)
}

// Subscribe registers an observer for queue-overflow and
// connection-request events. The returned id cancels the subscription
// via Unsubscribe.
func (m *Mediator) Subscribe(fn func(Event)) uint64 {
	return m.events.subscribe(fn)
}

func (m *Mediator) Unsubscribe(id uint64) {
	m.events.unsubscribe(id)
}

// onFrameTick is the drain step, run once per host frame trigger. It
// pulls packets out of the platform receive buffer and sorts them into
// per-socket queues until the buffer runs dry or the queue size limit
// is hit. Peer identification packets go to the front of their queue so
// the identity handshake is consumed before any of that peer's data.
func (m *Mediator) onFrameTick() {
	m.mut.Lock()
	if !m.initialized || m.localUser == "" || len(m.endpoints) == 0 {
		m.mut.Unlock()
		return
	}
	localUser := m.localUser
	limit := m.queueSizeLimit
	m.mut.Unlock()

	if m.store.TotalCount() >= limit {
		return
	}

	for {
		size, available, err := m.sdk.NextPacketSize(localUser)
		if err != nil {
			m.log.Error("Failed to get packet size", zap.Error(err))
			obs.DrainErrorsTotal.WithLabelValues("size").Inc()
			return
		}
		if !available {
			return
		}

		packet, err := m.sdk.ReceivePacket(localUser, size)
		if err != nil {
			if errors.Is(err, p2p.ErrNotFound) {
				m.log.Error("Failed to get packet - packet is too large, this should not have happened", zap.Uint32("size", size))
			} else {
				m.log.Error("Failed to get packet", zap.Error(err))
			}
			obs.DrainErrorsTotal.WithLabelValues("receive").Inc()
			return
		}

		if !m.store.HasSocket(packet.SocketID) {
			// No endpoint registered for this destination. Drop it.
			obs.PacketsDroppedTotal.Inc()
			continue
		}

		var pushErr error
		if message.IsPeerIDPacket(packet.Payload) {
			pushErr = m.store.PushFront(packet.SocketID, &packet)
		} else {
			pushErr = m.store.PushBack(packet.SocketID, &packet)
		}
		if pushErr != nil {
			// Socket unregistered between the lookup and the push.
			obs.PacketsDroppedTotal.Inc()
			continue
		}

		obs.PacketsReceivedTotal.Inc()
		total := m.store.TotalCount()
		obs.QueuedPackets.Set(float64(total))

		m.mut.Lock()
		limit = m.queueSizeLimit
		m.mut.Unlock()
		if total >= limit {
			obs.QueueOverflowTotal.Inc()
			m.log.Warn("Packet queue full - leaving remaining packets for the next frame", zap.Int("total", total), zap.Int("limit", limit))
			m.events.emit(Event{Kind: EventQueueOverflow})
			return
		}
	}
}

// onPeerConnectionEstablished forwards the notification to the endpoint
// registered for the socket, if any. Not buffered: unlike connection
// requests, an established event is meaningless to an endpoint that
// registers later.
func (m *Mediator) onPeerConnectionEstablished(info p2p.ConnectionEstablishedInfo) {
	m.mut.Lock()
	endpoint, has := m.endpoints[info.SocketID]
	m.mut.Unlock()
	if !has {
		return
	}

	obs.NotificationsForwarded.WithLabelValues("established").Inc()
	endpoint.OnConnectionEstablished(info)
}

func (m *Mediator) onPeerConnectionInterrupted(info p2p.ConnectionInterruptedInfo) {
	m.mut.Lock()
	endpoint, has := m.endpoints[info.SocketID]
	m.mut.Unlock()
	if !has {
		return
	}

	obs.NotificationsForwarded.WithLabelValues("interrupted").Inc()
	endpoint.OnConnectionInterrupted(info)
}

// onRemoteConnectionClosed purges the first pending connection request
// matching the closed connection, then forwards the notification to the
// registered endpoint if one exists. The two halves are independent: a
// pending request can be purged with no endpoint registered, and an
// endpoint can be notified with no pending request outstanding.
func (m *Mediator) onRemoteConnectionClosed(info p2p.ConnectionClosedInfo) {
	m.mut.Lock()
	if info.LocalUserID != m.localUser {
		m.mut.Unlock()
		m.log.Warn("Dropping connection closed notification for foreign local user", zap.String("localUser", string(info.LocalUserID)))
		return
	}

	var removed *ConnectionInfo
	for i, req := range m.pending {
		if req.RemoteUserID == info.RemoteUserID && req.SocketID == info.SocketID {
			removed = &ConnectionInfo{SocketID: req.SocketID, LocalUserID: req.LocalUserID, RemoteUserID: req.RemoteUserID}
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	pendingLeft := len(m.pending)
	endpoint, has := m.endpoints[info.SocketID]
	m.mut.Unlock()

	if removed != nil {
		obs.PendingRequests.Set(float64(pendingLeft))
		m.events.emit(Event{Kind: EventConnectionRequestRemoved, Request: removed})
	}
	if !has {
		return
	}

	obs.NotificationsForwarded.WithLabelValues("closed").Inc()
	endpoint.OnConnectionClosed(info)
}

// onIncomingConnectionRequest forwards the request to the registered
// endpoint, or buffers it so a session instance that opens the matching
// socket later can still receive it.
func (m *Mediator) onIncomingConnectionRequest(info p2p.ConnectionRequestInfo) {
	m.mut.Lock()
	if info.LocalUserID != m.localUser {
		m.mut.Unlock()
		m.log.Warn("Dropping connection request for foreign local user", zap.String("localUser", string(info.LocalUserID)))
		return
	}

	endpoint, has := m.endpoints[info.SocketID]
	if !has {
		req := ConnectionInfo{
			SocketID:     info.SocketID,
			LocalUserID:  info.LocalUserID,
			RemoteUserID: info.RemoteUserID,
		}
		m.pending = append(m.pending, req)
		pendingCount := len(m.pending)
		m.mut.Unlock()

		obs.PendingRequests.Set(float64(pendingCount))
		m.log.Info("Buffered connection request for unregistered socket", zap.String("socketId", info.SocketID), zap.String("remoteUser", string(info.RemoteUserID)))
		m.events.emit(Event{Kind: EventConnectionRequestReceived, Request: &req})
		return
	}
	m.mut.Unlock()

	obs.NotificationsForwarded.WithLabelValues("request").Inc()
	endpoint.OnConnectionRequest(info)
}
