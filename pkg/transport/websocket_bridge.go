package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftwood-games/peermux/pkg/p2p"
)

type WebsocketBridgeParams struct {
	LocalUserID  p2p.UserID
	RemoteUserID p2p.UserID

	MaxReadMessageSize int64

	Logger *zap.Logger
}

// WebsocketBridge implements p2p.Interface for exactly one remote peer
// over a WebSocket connection, tunneling datagrams and connection
// lifecycle control frames. It substitutes for the platform SDK in
// development and integration setups where two processes talk directly
// to each other.
//
// Start runs the read pump and must be running for anything to arrive;
// frames it reads are buffered and surface through NextPacketSize /
// ReceivePacket and through notification callbacks delivered on Pump.
type WebsocketBridge struct {
	*notifyHub

	localUser  p2p.UserID
	remoteUser p2p.UserID
	conn       *websocket.Conn
	serializer FrameSerializer
	log        *zap.Logger

	mut_write sync.Mutex

	mut_inbound sync.Mutex
	inbound     *queue.Queue
	openSockets map[string]bool
}

var _ p2p.Interface = (*WebsocketBridge)(nil)

// CreateWebsocketBridge wraps an already-established WebSocket
// connection. The accepting process upgrades the HTTP request itself
// and hands the connection over; the dialing process uses
// DialWebsocketBridge.
func CreateWebsocketBridge(conn *websocket.Conn, params WebsocketBridgeParams) (*WebsocketBridge, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.MaxReadMessageSize > 0 {
		conn.SetReadLimit(params.MaxReadMessageSize)
	}

	return &WebsocketBridge{
		notifyHub:  createNotifyHub(params.LocalUserID),
		localUser:  params.LocalUserID,
		remoteUser: params.RemoteUserID,
		conn:       conn,
		serializer: FrameSerializer{},
		log: logger.With(
			zap.String("transport", "WebsocketBridge"),
			zap.String("user", string(params.LocalUserID)),
		),
		inbound:     queue.New(),
		openSockets: make(map[string]bool),
	}, nil
}

func DialWebsocketBridge(ctx context.Context, url string, params WebsocketBridgeParams) (*WebsocketBridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return CreateWebsocketBridge(conn, params)
}

func (b *WebsocketBridge) UserID() p2p.UserID {
	return b.localUser
}

// Pump delivers buffered notifications synchronously on the calling
// goroutine, once per host frame.
func (b *WebsocketBridge) Pump() {
	b.dispatchPending()
}

// Start runs the read pump until the context is cancelled or the
// connection goes away. When the connection drops, every socket still
// open over this bridge gets a closed notification.
func (b *WebsocketBridge) Start(ctx context.Context) error {
	defer b.conn.Close()

	go func() {
		<-ctx.Done()
		b.conn.Close()
	}()

	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}
	for {
		msgType, payload, msgErr := b.conn.ReadMessage()
		if msgErr != nil {
			if websocket.IsCloseError(msgErr, expectedCloseErrors...) {
				b.log.Info("Bridge peer closed the connection")
			} else if strings.Contains(msgErr.Error(), "use of closed network connection") {
				b.log.Info("Bridge connection closed locally")
			} else {
				b.log.Warn("Bridge read failed, tearing down", zap.Error(msgErr))
			}
			b.closeAllSockets()
			return nil
		}

		if msgType != websocket.BinaryMessage {
			b.log.Info("Ignoring non-binary bridge message", zap.Int("size", len(payload)))
			continue
		}

		frame, parseErr := b.serializer.Parse(payload)
		if parseErr != nil {
			b.log.Error("Dropping malformed bridge frame", zap.Error(parseErr))
			continue
		}
		b.handleFrame(frame)
	}
}

func (b *WebsocketBridge) handleFrame(frame *Frame) {
	switch frame.Type {
	case FrameType_Data:
		data := make([]byte, len(frame.Payload))
		copy(data, frame.Payload)

		b.mut_inbound.Lock()
		b.inbound.Add(&p2p.ReceivedPacket{
			Sender:   b.remoteUser,
			SocketID: frame.SocketID,
			Channel:  frame.Channel,
			Payload:  data,
		})
		b.mut_inbound.Unlock()

	case FrameType_ConnectRequest:
		b.trackSocket(frame.SocketID, true)
		b.queueRequest(p2p.ConnectionRequestInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: frame.SocketID})

	case FrameType_ConnectAccept:
		b.trackSocket(frame.SocketID, true)
		b.queueEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: frame.SocketID})

	case FrameType_Close:
		b.trackSocket(frame.SocketID, false)
		b.queueClosed(p2p.ConnectionClosedInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: frame.SocketID})

	case FrameType_Interrupt:
		b.queueInterrupted(p2p.ConnectionInterruptedInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: frame.SocketID})

	case FrameType_NONE:
	default:
	}
}

func (b *WebsocketBridge) trackSocket(socketId string, open bool) {
	b.mut_inbound.Lock()
	defer b.mut_inbound.Unlock()
	if open {
		b.openSockets[socketId] = true
	} else {
		delete(b.openSockets, socketId)
	}
}

func (b *WebsocketBridge) closeAllSockets() {
	b.mut_inbound.Lock()
	sockets := make([]string, 0, len(b.openSockets))
	for socketId := range b.openSockets {
		sockets = append(sockets, socketId)
	}
	b.openSockets = make(map[string]bool)
	b.mut_inbound.Unlock()

	for _, socketId := range sockets {
		b.queueClosed(p2p.ConnectionClosedInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: socketId})
	}
}

func (b *WebsocketBridge) writeFrame(frame *Frame) error {
	msg, err := b.serializer.Serialize(frame)
	if err != nil {
		return err
	}

	b.mut_write.Lock()
	defer b.mut_write.Unlock()
	return b.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (b *WebsocketBridge) NextPacketSize(localUser p2p.UserID) (uint32, bool, error) {
	if localUser != b.localUser {
		return 0, false, p2p.ErrInvalidParameters
	}

	b.mut_inbound.Lock()
	defer b.mut_inbound.Unlock()

	if b.inbound.Length() == 0 {
		return 0, false, nil
	}
	packet := b.inbound.Peek().(*p2p.ReceivedPacket)
	return uint32(len(packet.Payload)), true, nil
}

func (b *WebsocketBridge) ReceivePacket(localUser p2p.UserID, maxSize uint32) (p2p.ReceivedPacket, error) {
	if localUser != b.localUser {
		return p2p.ReceivedPacket{}, p2p.ErrInvalidParameters
	}

	b.mut_inbound.Lock()
	defer b.mut_inbound.Unlock()

	if b.inbound.Length() == 0 {
		return p2p.ReceivedPacket{}, p2p.ErrNotFound
	}
	packet := b.inbound.Peek().(*p2p.ReceivedPacket)
	if uint32(len(packet.Payload)) > maxSize {
		return p2p.ReceivedPacket{}, p2p.ErrNotFound
	}
	b.inbound.Remove()
	return *packet, nil
}

// SendPacket tunnels a datagram to the remote peer.
func (b *WebsocketBridge) SendPacket(socketId string, channel uint8, payload []byte) error {
	return b.writeFrame(&Frame{
		Type:     FrameType_Data,
		Channel:  channel,
		SocketID: socketId,
		Payload:  payload,
	})
}

// OpenConnection asks the remote peer to accept a connection on the
// given socket.
func (b *WebsocketBridge) OpenConnection(socketId string) error {
	b.trackSocket(socketId, true)
	return b.writeFrame(&Frame{Type: FrameType_ConnectRequest, SocketID: socketId})
}

// AcceptConnection completes a connection the remote peer requested.
// Both sides see an established notification.
func (b *WebsocketBridge) AcceptConnection(socketId string) error {
	b.trackSocket(socketId, true)
	if err := b.writeFrame(&Frame{Type: FrameType_ConnectAccept, SocketID: socketId}); err != nil {
		return err
	}
	b.queueEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: socketId})
	return nil
}

// CloseConnection tears down a socket's connection on both sides.
func (b *WebsocketBridge) CloseConnection(socketId string) error {
	b.trackSocket(socketId, false)
	if err := b.writeFrame(&Frame{Type: FrameType_Close, SocketID: socketId}); err != nil {
		return err
	}
	b.queueClosed(p2p.ConnectionClosedInfo{LocalUserID: b.localUser, RemoteUserID: b.remoteUser, SocketID: socketId})
	return nil
}
