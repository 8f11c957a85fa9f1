package mediator

import "github.com/driftwood-games/peermux/pkg/p2p"

// Endpoint is the capability set a multiplayer session instance exposes
// to the mediator. The mediator holds a non-owning reference to each
// registered endpoint: the reference is valid strictly between
// RegisterPeer and UnregisterPeer, and the lifecycle callbacks below are
// invoked synchronously from the goroutine driving the mediator.
//
// Packets are not pushed; a session instance polls them out of its
// socket queue with Mediator.PollNextPacket.
type Endpoint interface {
	// SocketID names the logical socket this session instance serves.
	// It must be non-empty and stable for the lifetime of the
	// registration.
	SocketID() string

	OnConnectionRequest(info p2p.ConnectionRequestInfo)
	OnConnectionEstablished(info p2p.ConnectionEstablishedInfo)
	OnConnectionInterrupted(info p2p.ConnectionInterruptedInfo)
	OnConnectionClosed(info p2p.ConnectionClosedInfo)
}
