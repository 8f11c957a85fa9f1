// Package message holds the wire-format convention shared by every
// multiplayer session packet: the first payload byte is an event
// discriminant. The values here must match the remote implementations
// bit for bit.
package message

// EventType is the one-byte discriminant at the head of every payload.
type EventType uint8

const (
	// EventStorePacket marks an ordinary data packet.
	EventStorePacket EventType = 0
	// EventReceivePeerID marks a peer identification handshake packet.
	// These jump the destination queue so a session learns who it is
	// talking to before it sees any of that peer's data.
	EventReceivePeerID EventType = 1
	// EventMeshConnectionRequest marks a mesh topology connection
	// request relayed between peers.
	EventMeshConnectionRequest EventType = 2
)

// EventTypeOffset is the payload byte offset of the discriminant.
const EventTypeOffset = 0

// HeaderSize is the number of leading payload bytes reserved for the
// event header.
const HeaderSize = 1

// EventTypeOf reads the discriminant out of a raw payload. Payloads too
// short to carry a header classify as EventStorePacket.
func EventTypeOf(payload []byte) EventType {
	if len(payload) <= EventTypeOffset {
		return EventStorePacket
	}
	return EventType(payload[EventTypeOffset])
}

// IsPeerIDPacket reports whether the payload is a peer identification
// handshake packet.
func IsPeerIDPacket(payload []byte) bool {
	return EventTypeOf(payload) == EventReceivePeerID
}

// NewPayload prepends the event header to data, producing a payload in
// the shared wire format.
func NewPayload(event EventType, data []byte) []byte {
	payload := make([]byte, HeaderSize+len(data))
	payload[EventTypeOffset] = byte(event)
	copy(payload[HeaderSize:], data)
	return payload
}
