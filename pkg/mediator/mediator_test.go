package mediator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftwood-games/peermux/pkg/host"
	"github.com/driftwood-games/peermux/pkg/mediator"
	"github.com/driftwood-games/peermux/pkg/message"
	"github.com/driftwood-games/peermux/pkg/p2p"
)

const testUser p2p.UserID = "local-user"

// fakeSDK is a scripted p2p.Interface: tests preload its receive buffer
// and fire lifecycle notifications by hand.
type fakeSDK struct {
	packets []p2p.ReceivedPacket

	sizeErr error
	recvErr error

	nextId        p2p.NotificationID
	addCount      int
	removeCount   int
	failAdds      bool
	cbEstablished func(p2p.ConnectionEstablishedInfo)
	cbInterrupted func(p2p.ConnectionInterruptedInfo)
	cbClosed      func(p2p.ConnectionClosedInfo)
	cbRequest     func(p2p.ConnectionRequestInfo)
}

func (f *fakeSDK) push(socketId string, sender p2p.UserID, event message.EventType, data string) {
	f.packets = append(f.packets, p2p.ReceivedPacket{
		Sender:   sender,
		SocketID: socketId,
		Payload:  message.NewPayload(event, []byte(data)),
	})
}

func (f *fakeSDK) NextPacketSize(localUser p2p.UserID) (uint32, bool, error) {
	if f.sizeErr != nil {
		return 0, false, f.sizeErr
	}
	if localUser != testUser {
		return 0, false, p2p.ErrInvalidParameters
	}
	if len(f.packets) == 0 {
		return 0, false, nil
	}
	return uint32(len(f.packets[0].Payload)), true, nil
}

func (f *fakeSDK) ReceivePacket(localUser p2p.UserID, maxSize uint32) (p2p.ReceivedPacket, error) {
	if f.recvErr != nil {
		return p2p.ReceivedPacket{}, f.recvErr
	}
	if localUser != testUser || len(f.packets) == 0 {
		return p2p.ReceivedPacket{}, p2p.ErrInvalidParameters
	}
	if uint32(len(f.packets[0].Payload)) > maxSize {
		return p2p.ReceivedPacket{}, p2p.ErrNotFound
	}
	packet := f.packets[0]
	f.packets = f.packets[1:]
	return packet, nil
}

func (f *fakeSDK) addNotify() p2p.NotificationID {
	if f.failAdds {
		return p2p.InvalidNotificationID
	}
	f.addCount++
	f.nextId++
	return f.nextId
}

func (f *fakeSDK) AddNotifyPeerConnectionEstablished(localUser p2p.UserID, cb func(p2p.ConnectionEstablishedInfo)) p2p.NotificationID {
	f.cbEstablished = cb
	return f.addNotify()
}

func (f *fakeSDK) AddNotifyPeerConnectionInterrupted(localUser p2p.UserID, cb func(p2p.ConnectionInterruptedInfo)) p2p.NotificationID {
	f.cbInterrupted = cb
	return f.addNotify()
}

func (f *fakeSDK) AddNotifyPeerConnectionClosed(localUser p2p.UserID, cb func(p2p.ConnectionClosedInfo)) p2p.NotificationID {
	f.cbClosed = cb
	return f.addNotify()
}

func (f *fakeSDK) AddNotifyPeerConnectionRequest(localUser p2p.UserID, cb func(p2p.ConnectionRequestInfo)) p2p.NotificationID {
	f.cbRequest = cb
	return f.addNotify()
}

func (f *fakeSDK) RemoveNotifyPeerConnectionEstablished(id p2p.NotificationID) { f.removeCount++ }
func (f *fakeSDK) RemoveNotifyPeerConnectionInterrupted(id p2p.NotificationID) { f.removeCount++ }
func (f *fakeSDK) RemoveNotifyPeerConnectionClosed(id p2p.NotificationID)      { f.removeCount++ }
func (f *fakeSDK) RemoveNotifyPeerConnectionRequest(id p2p.NotificationID)     { f.removeCount++ }

type stubEndpoint struct {
	socketId    string
	requests    []p2p.ConnectionRequestInfo
	established []p2p.ConnectionEstablishedInfo
	interrupted []p2p.ConnectionInterruptedInfo
	closed      []p2p.ConnectionClosedInfo
}

func (s *stubEndpoint) SocketID() string { return s.socketId }
func (s *stubEndpoint) OnConnectionRequest(info p2p.ConnectionRequestInfo) {
	s.requests = append(s.requests, info)
}
func (s *stubEndpoint) OnConnectionEstablished(info p2p.ConnectionEstablishedInfo) {
	s.established = append(s.established, info)
}
func (s *stubEndpoint) OnConnectionInterrupted(info p2p.ConnectionInterruptedInfo) {
	s.interrupted = append(s.interrupted, info)
}
func (s *stubEndpoint) OnConnectionClosed(info p2p.ConnectionClosedInfo) {
	s.closed = append(s.closed, info)
}

type eventRecorder struct {
	events []mediator.Event
}

func (r *eventRecorder) record(ev mediator.Event) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) countKind(kind mediator.EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	sdk    *fakeSDK
	frames *host.FrameLoop
	med    *mediator.Mediator
	events *eventRecorder
}

func setup(t *testing.T, queueSizeLimit int) *fixture {
	t.Helper()

	sdk := &fakeSDK{}
	frames := host.CreateFrameLoop()
	med, err := mediator.CreateMediator(mediator.MediatorConfig{
		P2P:            sdk,
		Frames:         frames,
		QueueSizeLimit: queueSizeLimit,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)

	events := &eventRecorder{}
	med.Subscribe(events.record)

	return &fixture{sdk: sdk, frames: frames, med: med, events: events}
}

func (fx *fixture) initAndRegister(t *testing.T, socketId string) *stubEndpoint {
	t.Helper()
	require.NoError(t, fx.med.Initialize(testUser))
	endpoint := &stubEndpoint{socketId: socketId}
	require.NoError(t, fx.med.RegisterPeer(endpoint))
	return endpoint
}

func TestCreateMediatorRequiresDependencies(t *testing.T) {
	_, err := mediator.CreateMediator(mediator.MediatorConfig{Frames: host.CreateFrameLoop()})
	var missing *mediator.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "P2P", missing.Dependency)

	_, err = mediator.CreateMediator(mediator.MediatorConfig{P2P: &fakeSDK{}})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Frames", missing.Dependency)
}

func TestInitializeRequiresLocalUser(t *testing.T) {
	fx := setup(t, 0)

	var noUser *mediator.NoLocalUserError
	require.ErrorAs(t, fx.med.Initialize(""), &noUser)
	assert.False(t, fx.med.IsInitialized())
}

func TestInitializeIsIdempotent(t *testing.T) {
	fx := setup(t, 0)

	require.NoError(t, fx.med.Initialize(testUser))
	require.NoError(t, fx.med.Initialize(testUser))
	assert.Equal(t, 4, fx.sdk.addCount, "notifications must only be registered once")
	assert.Equal(t, testUser, fx.med.LocalUserID())
}

func TestInitializeRollsBackFailedNotificationRegistration(t *testing.T) {
	fx := setup(t, 0)
	fx.sdk.failAdds = true

	var regErr *mediator.NotificationRegistrationError
	require.ErrorAs(t, fx.med.Initialize(testUser), &regErr)
	assert.False(t, fx.med.IsInitialized())
}

func TestRegisterRequiresInitialization(t *testing.T) {
	fx := setup(t, 0)

	var notInit *mediator.NotInitializedError
	require.ErrorAs(t, fx.med.RegisterPeer(&stubEndpoint{socketId: "A"}), &notInit)
}

func TestRegisterRejectsEmptySocketID(t *testing.T) {
	fx := setup(t, 0)
	require.NoError(t, fx.med.Initialize(testUser))

	var empty *mediator.EmptySocketIDError
	require.ErrorAs(t, fx.med.RegisterPeer(&stubEndpoint{socketId: ""}), &empty)
}

func TestRegisterRejectsDuplicateSocketAndKeepsFirst(t *testing.T) {
	fx := setup(t, 0)
	first := fx.initAndRegister(t, "A")

	second := &stubEndpoint{socketId: "A"}
	var dup *mediator.SocketAlreadyRegisteredError
	require.ErrorAs(t, fx.med.RegisterPeer(second), &dup)
	assert.Equal(t, "A", dup.SocketID)

	// The original registration still receives notifications.
	fx.sdk.cbEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "A"})
	assert.Len(t, first.established, 1)
	assert.Empty(t, second.established)
}

func TestDrainSortsPacketsBySocketInArrivalOrder(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")
	fx.initAndRegister(t, "B")

	fx.sdk.push("A", "R1", message.EventStorePacket, "a1")
	fx.sdk.push("B", "R1", message.EventStorePacket, "b1")
	fx.sdk.push("A", "R2", message.EventStorePacket, "a2")
	fx.frames.Tick()

	assert.Equal(t, 2, fx.med.PacketCount("A"))
	assert.Equal(t, 1, fx.med.PacketCount("B"))
	assert.Equal(t, 3, fx.med.TotalPacketCount())

	p1, ok := fx.med.PollNextPacket("A")
	require.True(t, ok)
	assert.Equal(t, "a1", string(p1.Payload[message.HeaderSize:]))
	p2, ok := fx.med.PollNextPacket("A")
	require.True(t, ok)
	assert.Equal(t, "a2", string(p2.Payload[message.HeaderSize:]))
	_, ok = fx.med.PollNextPacket("A")
	assert.False(t, ok)
}

func TestPeerIDPacketsJumpTheQueue(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.sdk.push("A", "R1", message.EventStorePacket, "d2")
	fx.sdk.push("A", "R2", message.EventReceivePeerID, "id")
	fx.frames.Tick()

	assert.True(t, fx.med.NextPacketIsPeerIDPacket("A"))

	first, ok := fx.med.PollNextPacket("A")
	require.True(t, ok)
	assert.True(t, message.IsPeerIDPacket(first.Payload))

	assert.False(t, fx.med.NextPacketIsPeerIDPacket("A"))
	second, _ := fx.med.PollNextPacket("A")
	third, _ := fx.med.PollNextPacket("A")
	assert.Equal(t, "d1", string(second.Payload[message.HeaderSize:]))
	assert.Equal(t, "d2", string(third.Payload[message.HeaderSize:]))
}

func TestQueueSizeLimitStopsDrainAndSignalsOnce(t *testing.T) {
	fx := setup(t, 3)
	fx.initAndRegister(t, "A")

	for i := 0; i < 5; i++ {
		fx.sdk.push("A", "R1", message.EventStorePacket, string(rune('1'+i)))
	}
	fx.frames.Tick()

	assert.Equal(t, 3, fx.med.PacketCount("A"))
	assert.Equal(t, 1, fx.events.countKind(mediator.EventQueueOverflow), "overflow event must fire exactly once")
	assert.Len(t, fx.sdk.packets, 2, "remaining packets stay in the platform buffer")

	// Arrival order preserved for the packets that made it in.
	for _, want := range []string{"1", "2", "3"} {
		packet, ok := fx.med.PollNextPacket("A")
		require.True(t, ok)
		assert.Equal(t, want, string(packet.Payload[message.HeaderSize:]))
	}

	// Consumers drained the queues, so the next tick picks up the rest.
	fx.frames.Tick()
	assert.Equal(t, 2, fx.med.PacketCount("A"))
}

func TestDrainIsNoopWithoutRegisteredSockets(t *testing.T) {
	fx := setup(t, 0)
	require.NoError(t, fx.med.Initialize(testUser))

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.frames.Tick()

	assert.Len(t, fx.sdk.packets, 1, "nothing may be drained with zero registered sockets")
	assert.Equal(t, 0, fx.med.TotalPacketCount())
}

func TestDrainDropsPacketsForUnknownSocketAndContinues(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")

	fx.sdk.push("B", "R1", message.EventStorePacket, "stale")
	fx.sdk.push("A", "R1", message.EventStorePacket, "live")
	fx.frames.Tick()

	assert.Equal(t, 1, fx.med.PacketCount("A"))
	assert.Equal(t, 0, fx.med.PacketCount("B"))
	assert.Empty(t, fx.sdk.packets)
}

func TestDrainAbortsOnSizeQueryProtocolViolation(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.sdk.sizeErr = p2p.ErrInvalidParameters
	fx.frames.Tick()
	assert.Equal(t, 0, fx.med.TotalPacketCount())

	// The mediator stays usable on the next trigger.
	fx.sdk.sizeErr = nil
	fx.frames.Tick()
	assert.Equal(t, 1, fx.med.PacketCount("A"))
}

func TestDrainAbortsOnOversizedPacket(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.sdk.recvErr = p2p.ErrNotFound
	fx.frames.Tick()
	assert.Equal(t, 0, fx.med.TotalPacketCount())

	fx.sdk.recvErr = nil
	fx.frames.Tick()
	assert.Equal(t, 1, fx.med.PacketCount("A"))
}

func TestClearPacketQueueIsIdempotent(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.sdk.push("A", "R1", message.EventStorePacket, "d2")
	fx.frames.Tick()

	require.NoError(t, fx.med.ClearPacketQueue("A"))
	assert.Equal(t, 0, fx.med.PacketCount("A"))
	require.NoError(t, fx.med.ClearPacketQueue("A"))
	assert.Equal(t, 0, fx.med.PacketCount("A"))

	assert.Error(t, fx.med.ClearPacketQueue("unknown"))
}

func TestClearPacketsFromRemoteUser(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")

	fx.sdk.push("A", "R1", message.EventStorePacket, "r1a")
	fx.sdk.push("A", "R2", message.EventStorePacket, "r2a")
	fx.sdk.push("A", "R1", message.EventStorePacket, "r1b")
	fx.frames.Tick()

	before := fx.med.PacketCount("A")
	fromR1, err := fx.med.PacketCountFromRemoteUser("R1", "A")
	require.NoError(t, err)
	assert.Equal(t, 2, fromR1)

	require.NoError(t, fx.med.ClearPacketsFromRemoteUser("A", "R1"))

	after := fx.med.PacketCount("A")
	assert.Equal(t, before-fromR1, after)
	left, err := fx.med.PacketCountFromRemoteUser("R1", "A")
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	packet, ok := fx.med.PollNextPacket("A")
	require.True(t, ok)
	assert.Equal(t, p2p.UserID("R2"), packet.Sender)

	assert.Error(t, fx.med.ClearPacketsFromRemoteUser("unknown", "R1"))
	_, err = fx.med.PacketCountFromRemoteUser("R1", "unknown")
	assert.Error(t, err)
}

func TestTotalCountMatchesPerSocketSum(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")
	fx.initAndRegister(t, "B")

	fx.sdk.push("A", "R1", message.EventStorePacket, "a")
	fx.sdk.push("B", "R1", message.EventStorePacket, "b")
	fx.sdk.push("B", "R2", message.EventStorePacket, "c")
	fx.frames.Tick()

	sum := 0
	for _, socketId := range fx.med.Sockets() {
		sum += fx.med.PacketCount(socketId)
	}
	assert.Equal(t, sum, fx.med.TotalPacketCount())
	assert.LessOrEqual(t, fx.med.TotalPacketCount(), fx.med.QueueSizeLimit())
}

func TestPendingRequestBufferedThenFlushedOnRegister(t *testing.T) {
	fx := setup(t, 0)
	require.NoError(t, fx.med.Initialize(testUser))

	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "B"})

	assert.Equal(t, 1, fx.med.ConnectionRequestCount())
	assert.Equal(t, 1, fx.events.countKind(mediator.EventConnectionRequestReceived))

	endpoint := &stubEndpoint{socketId: "B"}
	require.NoError(t, fx.med.RegisterPeer(endpoint))

	require.Len(t, endpoint.requests, 1)
	assert.Equal(t, p2p.UserID("R"), endpoint.requests[0].RemoteUserID)
	assert.Equal(t, 0, fx.med.ConnectionRequestCount())
	assert.Equal(t, 1, fx.events.countKind(mediator.EventConnectionRequestRemoved))
}

func TestConnectionClosedPurgesPendingRequest(t *testing.T) {
	fx := setup(t, 0)
	require.NoError(t, fx.med.Initialize(testUser))

	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "B"})
	require.Equal(t, 1, fx.med.ConnectionRequestCount())

	fx.sdk.cbClosed(p2p.ConnectionClosedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "B"})

	assert.Equal(t, 0, fx.med.ConnectionRequestCount())
	assert.Equal(t, 1, fx.events.countKind(mediator.EventConnectionRequestRemoved))
}

func TestConnectionClosedOnlyPurgesMatchingPair(t *testing.T) {
	fx := setup(t, 0)
	require.NoError(t, fx.med.Initialize(testUser))

	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R1", SocketID: "B"})
	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R2", SocketID: "B"})

	fx.sdk.cbClosed(p2p.ConnectionClosedInfo{LocalUserID: testUser, RemoteUserID: "R1", SocketID: "B"})
	assert.Equal(t, 1, fx.med.ConnectionRequestCount())

	// The survivor still flushes on registration.
	endpoint := &stubEndpoint{socketId: "B"}
	require.NoError(t, fx.med.RegisterPeer(endpoint))
	require.Len(t, endpoint.requests, 1)
	assert.Equal(t, p2p.UserID("R2"), endpoint.requests[0].RemoteUserID)
}

func TestConnectionRequestForwardedDirectlyWhenRegistered(t *testing.T) {
	fx := setup(t, 0)
	endpoint := fx.initAndRegister(t, "A")

	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "A"})

	require.Len(t, endpoint.requests, 1)
	assert.Equal(t, 0, fx.med.ConnectionRequestCount())
	assert.Equal(t, 0, fx.events.countKind(mediator.EventConnectionRequestReceived))
}

func TestEstablishedAndInterruptedForwardOrDrop(t *testing.T) {
	fx := setup(t, 0)
	endpoint := fx.initAndRegister(t, "A")

	fx.sdk.cbEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "A"})
	fx.sdk.cbEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "nobody"})
	fx.sdk.cbInterrupted(p2p.ConnectionInterruptedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "A"})
	fx.sdk.cbInterrupted(p2p.ConnectionInterruptedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "nobody"})

	assert.Len(t, endpoint.established, 1)
	assert.Len(t, endpoint.interrupted, 1)
}

func TestClosedForwardsToEndpointIndependentOfPendingMatch(t *testing.T) {
	fx := setup(t, 0)
	endpoint := fx.initAndRegister(t, "A")

	fx.sdk.cbClosed(p2p.ConnectionClosedInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "A"})

	assert.Len(t, endpoint.closed, 1)
	assert.Equal(t, 0, fx.events.countKind(mediator.EventConnectionRequestRemoved))
}

func TestNotificationsForForeignLocalUserAreDropped(t *testing.T) {
	fx := setup(t, 0)
	endpoint := fx.initAndRegister(t, "A")

	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: "someone-else", RemoteUserID: "R", SocketID: "A"})
	fx.sdk.cbClosed(p2p.ConnectionClosedInfo{LocalUserID: "someone-else", RemoteUserID: "R", SocketID: "A"})

	assert.Empty(t, endpoint.requests)
	assert.Empty(t, endpoint.closed)
	assert.Equal(t, 0, fx.med.ConnectionRequestCount())
}

func TestUnregisterDiscardsQueuedPackets(t *testing.T) {
	fx := setup(t, 0)
	endpoint := fx.initAndRegister(t, "A")

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.frames.Tick()
	require.Equal(t, 1, fx.med.PacketCount("A"))

	fx.med.UnregisterPeer(endpoint)
	assert.False(t, fx.med.HasSocket("A"))
	assert.Equal(t, 0, fx.med.TotalPacketCount())

	// Unregistering again is a no-op.
	fx.med.UnregisterPeer(endpoint)

	// A fresh registration starts with an empty queue.
	require.NoError(t, fx.med.RegisterPeer(&stubEndpoint{socketId: "A"}))
	assert.Equal(t, 0, fx.med.PacketCount("A"))
	_, ok := fx.med.PollNextPacket("A")
	assert.False(t, ok)
}

func TestSetQueueSizeLimitTakesEffectOnNextDrain(t *testing.T) {
	fx := setup(t, 100)
	fx.initAndRegister(t, "A")

	fx.med.SetQueueSizeLimit(1)
	assert.Equal(t, 1, fx.med.QueueSizeLimit())

	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.sdk.push("A", "R1", message.EventStorePacket, "d2")
	fx.frames.Tick()

	assert.Equal(t, 1, fx.med.PacketCount("A"))
	assert.Len(t, fx.sdk.packets, 1)

	fx.med.SetQueueSizeLimit(0)
	assert.Equal(t, 1, fx.med.QueueSizeLimit(), "non-positive limits are ignored")
}

func TestTerminateClearsRegistrationsAndPendingRequests(t *testing.T) {
	fx := setup(t, 0)
	fx.initAndRegister(t, "A")
	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "B"})

	fx.med.Terminate()

	assert.False(t, fx.med.IsInitialized())
	assert.Equal(t, p2p.UserID(""), fx.med.LocalUserID())
	assert.False(t, fx.med.HasSocket("A"))
	assert.Equal(t, 0, fx.med.ConnectionRequestCount())
	assert.Equal(t, 4, fx.sdk.removeCount)
	assert.Equal(t, 1, fx.events.countKind(mediator.EventConnectionRequestRemoved))

	// Frame handler is detached: a tick must not drain anything.
	fx.sdk.push("A", "R1", message.EventStorePacket, "d1")
	fx.frames.Tick()
	assert.Len(t, fx.sdk.packets, 1)

	// Terminate before (re)initialization is a no-op.
	fx.med.Terminate()
	assert.Equal(t, 4, fx.sdk.removeCount)

	// The mediator can come back up under a new identity.
	require.NoError(t, fx.med.Initialize(testUser))
	require.NoError(t, fx.med.RegisterPeer(&stubEndpoint{socketId: "A"}))
	fx.frames.Tick()
	assert.Equal(t, 1, fx.med.PacketCount("A"))
}

func TestUnsubscribeStopsEventDelivery(t *testing.T) {
	fx := setup(t, 0)
	require.NoError(t, fx.med.Initialize(testUser))

	recorder := &eventRecorder{}
	id := fx.med.Subscribe(recorder.record)
	fx.med.Unsubscribe(id)

	fx.sdk.cbRequest(p2p.ConnectionRequestInfo{LocalUserID: testUser, RemoteUserID: "R", SocketID: "B"})
	assert.Empty(t, recorder.events)
}
