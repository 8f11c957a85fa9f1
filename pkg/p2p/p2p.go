// Package p2p defines the boundary contract with the underlying
// peer-to-peer platform SDK. The mediator consumes this interface; the
// adapters in pkg/transport provide real implementations of it for
// environments where the proprietary SDK is unavailable.
package p2p

import "errors"

// UserID is an opaque platform user handle. The zero value means "no
// user" and is never a valid identity.
type UserID string

// NotificationID identifies one registered notification callback.
type NotificationID uint64

// InvalidNotificationID is returned when a callback registration fails.
const InvalidNotificationID NotificationID = 0

// MaxPacketSize is the largest datagram the underlying platform will
// deliver in a single receive call.
const MaxPacketSize uint32 = 1170

var (
	// ErrInvalidParameters indicates a protocol violation between the
	// caller and the SDK (bad user handle, nil output buffer, ...).
	ErrInvalidParameters = errors.New("p2p: invalid parameters")

	// ErrNotFound indicates the SDK could not produce a packet that its
	// own size query just promised, typically because the provided
	// buffer ceiling was smaller than the pending packet.
	ErrNotFound = errors.New("p2p: packet not found")
)

// ReceivedPacket is one datagram pulled out of the SDK's receive
// buffer, along with its routing metadata.
type ReceivedPacket struct {
	Sender   UserID
	SocketID string
	Channel  uint8
	Payload  []byte
}

// ConnectionRequestInfo describes an inbound connection attempt from a
// remote user against one of our logical sockets.
type ConnectionRequestInfo struct {
	LocalUserID  UserID
	RemoteUserID UserID
	SocketID     string
}

// ConnectionEstablishedInfo is delivered once a peer connection has
// completed its handshake.
type ConnectionEstablishedInfo struct {
	LocalUserID  UserID
	RemoteUserID UserID
	SocketID     string
}

// ConnectionInterruptedInfo is delivered when an established peer
// connection loses connectivity but has not yet been torn down.
type ConnectionInterruptedInfo struct {
	LocalUserID  UserID
	RemoteUserID UserID
	SocketID     string
}

// ConnectionClosedInfo is delivered when a peer connection is closed,
// whether or not it was ever accepted.
type ConnectionClosedInfo struct {
	LocalUserID  UserID
	RemoteUserID UserID
	SocketID     string
}

// Interface is the subset of the platform's P2P surface the mediator
// depends on. All calls are non-blocking queries against data the
// implementation has already buffered; notification callbacks must be
// invoked synchronously on the goroutine that drives the implementation
// (see transport.Pump), never concurrently with each other.
type Interface interface {
	// NextPacketSize reports the payload size of the next datagram
	// buffered for localUser. The boolean is false when no packet is
	// pending, which is not an error.
	NextPacketSize(localUser UserID) (uint32, bool, error)

	// ReceivePacket removes and returns the next buffered datagram for
	// localUser. maxSize is the largest payload the caller is prepared
	// to accept; a pending packet larger than that fails with
	// ErrNotFound.
	ReceivePacket(localUser UserID, maxSize uint32) (ReceivedPacket, error)

	AddNotifyPeerConnectionEstablished(localUser UserID, cb func(ConnectionEstablishedInfo)) NotificationID
	AddNotifyPeerConnectionInterrupted(localUser UserID, cb func(ConnectionInterruptedInfo)) NotificationID
	AddNotifyPeerConnectionClosed(localUser UserID, cb func(ConnectionClosedInfo)) NotificationID
	AddNotifyPeerConnectionRequest(localUser UserID, cb func(ConnectionRequestInfo)) NotificationID

	RemoveNotifyPeerConnectionEstablished(id NotificationID)
	RemoveNotifyPeerConnectionInterrupted(id NotificationID)
	RemoveNotifyPeerConnectionClosed(id NotificationID)
	RemoveNotifyPeerConnectionRequest(id NotificationID)
}
