// Package transport provides implementations of the p2p.Interface
// boundary for environments without the platform SDK: an in-process
// loopback network for tests and demos, and a WebSocket bridge for
// running two processes against each other.
package transport

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/driftwood-games/peermux/pkg/errors"
	"github.com/driftwood-games/peermux/pkg/p2p"
)

type UnknownUserError struct {
	UserID p2p.UserID
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("No transport is attached for user %q", e.UserID)
}

type DuplicateUserError struct {
	UserID p2p.UserID
}

func (e *DuplicateUserError) Error() string {
	return fmt.Sprintf("A transport is already attached for user %q", e.UserID)
}

// LoopbackNetwork is an in-process peer-to-peer network. Each attached
// user gets a LoopbackTransport implementing p2p.Interface; datagrams
// and lifecycle notifications sent between attached users never leave
// the process.
type LoopbackNetwork struct {
	log *zap.Logger

	mut_nodes sync.Mutex
	nodes     map[p2p.UserID]*LoopbackTransport
}

func CreateLoopbackNetwork(logger *zap.Logger) *LoopbackNetwork {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	return &LoopbackNetwork{
		log:       logger.With(zap.String("transport", "Loopback")),
		mut_nodes: sync.Mutex{},
		nodes:     make(map[p2p.UserID]*LoopbackTransport),
	}
}

// Attach joins a user to the network and returns its transport.
func (n *LoopbackNetwork) Attach(user p2p.UserID) (*LoopbackTransport, error) {
	n.mut_nodes.Lock()
	defer n.mut_nodes.Unlock()

	if _, has := n.nodes[user]; has {
		return nil, &DuplicateUserError{UserID: user}
	}

	node := &LoopbackTransport{
		notifyHub: createNotifyHub(user),
		user:      user,
		network:   n,
		inbound:   queue.New(),
		log:       n.log.With(zap.String("user", string(user))),
	}
	n.nodes[user] = node
	return node, nil
}

func (n *LoopbackNetwork) lookup(user p2p.UserID) (*LoopbackTransport, error) {
	n.mut_nodes.Lock()
	defer n.mut_nodes.Unlock()

	node, has := n.nodes[user]
	if !has {
		return nil, &UnknownUserError{UserID: user}
	}
	return node, nil
}

// LoopbackTransport is one user's view of a LoopbackNetwork. The
// Open/Accept/Close/Interrupt methods stand in for the platform's own
// connection machinery; notifications they produce are buffered until
// the owning side calls Pump.
type LoopbackTransport struct {
	*notifyHub

	user    p2p.UserID
	network *LoopbackNetwork
	log     *zap.Logger

	mut_inbound sync.Mutex
	inbound     *queue.Queue
}

var _ p2p.Interface = (*LoopbackTransport)(nil)

func (t *LoopbackTransport) UserID() p2p.UserID {
	return t.user
}

// Pump delivers buffered notifications synchronously on the calling
// goroutine. Hosts call this once per frame, before the mediator's
// drain step runs.
func (t *LoopbackTransport) Pump() {
	t.dispatchPending()
}

func (t *LoopbackTransport) NextPacketSize(localUser p2p.UserID) (uint32, bool, error) {
	if localUser != t.user {
		return 0, false, p2p.ErrInvalidParameters
	}

	t.mut_inbound.Lock()
	defer t.mut_inbound.Unlock()

	if t.inbound.Length() == 0 {
		return 0, false, nil
	}
	packet := t.inbound.Peek().(*p2p.ReceivedPacket)
	return uint32(len(packet.Payload)), true, nil
}

func (t *LoopbackTransport) ReceivePacket(localUser p2p.UserID, maxSize uint32) (p2p.ReceivedPacket, error) {
	if localUser != t.user {
		return p2p.ReceivedPacket{}, p2p.ErrInvalidParameters
	}

	t.mut_inbound.Lock()
	defer t.mut_inbound.Unlock()

	if t.inbound.Length() == 0 {
		return p2p.ReceivedPacket{}, p2p.ErrNotFound
	}
	packet := t.inbound.Peek().(*p2p.ReceivedPacket)
	if uint32(len(packet.Payload)) > maxSize {
		return p2p.ReceivedPacket{}, p2p.ErrNotFound
	}
	t.inbound.Remove()
	return *packet, nil
}

// SendPacket delivers a datagram to another attached user's receive
// buffer.
func (t *LoopbackTransport) SendPacket(to p2p.UserID, socketId string, channel uint8, payload []byte) error {
	if len(payload) > int(p2p.MaxPacketSize) {
		return &errors.Overflow{
			MessageName: "LoopbackTransport::SendPacket",
			MsgSize:     len(payload),
			MaximumSize: int(p2p.MaxPacketSize),
		}
	}

	target, err := t.network.lookup(to)
	if err != nil {
		return err
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	target.mut_inbound.Lock()
	target.inbound.Add(&p2p.ReceivedPacket{
		Sender:   t.user,
		SocketID: socketId,
		Channel:  channel,
		Payload:  data,
	})
	target.mut_inbound.Unlock()
	return nil
}

// OpenConnection asks a remote user to accept a connection on the given
// socket. The remote side sees a connection-request notification on its
// next Pump.
func (t *LoopbackTransport) OpenConnection(to p2p.UserID, socketId string) error {
	target, err := t.network.lookup(to)
	if err != nil {
		return err
	}

	target.queueRequest(p2p.ConnectionRequestInfo{
		LocalUserID:  to,
		RemoteUserID: t.user,
		SocketID:     socketId,
	})
	return nil
}

// AcceptConnection completes a connection with a remote user. Both
// sides see an established notification on their next Pump.
func (t *LoopbackTransport) AcceptConnection(peer p2p.UserID, socketId string) error {
	target, err := t.network.lookup(peer)
	if err != nil {
		return err
	}

	t.queueEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: t.user, RemoteUserID: peer, SocketID: socketId})
	target.queueEstablished(p2p.ConnectionEstablishedInfo{LocalUserID: peer, RemoteUserID: t.user, SocketID: socketId})
	return nil
}

// CloseConnection tears down a connection with a remote user. Both
// sides see a closed notification on their next Pump.
func (t *LoopbackTransport) CloseConnection(peer p2p.UserID, socketId string) error {
	target, err := t.network.lookup(peer)
	if err != nil {
		return err
	}

	t.queueClosed(p2p.ConnectionClosedInfo{LocalUserID: t.user, RemoteUserID: peer, SocketID: socketId})
	target.queueClosed(p2p.ConnectionClosedInfo{LocalUserID: peer, RemoteUserID: t.user, SocketID: socketId})
	return nil
}

// InterruptConnection simulates a connectivity loss on an established
// connection.
func (t *LoopbackTransport) InterruptConnection(peer p2p.UserID, socketId string) error {
	target, err := t.network.lookup(peer)
	if err != nil {
		return err
	}

	t.queueInterrupted(p2p.ConnectionInterruptedInfo{LocalUserID: t.user, RemoteUserID: peer, SocketID: socketId})
	target.queueInterrupted(p2p.ConnectionInterruptedInfo{LocalUserID: peer, RemoteUserID: t.user, SocketID: socketId})
	return nil
}
