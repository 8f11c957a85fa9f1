package transport

import (
	"github.com/driftwood-games/peermux/pkg/errors"
	"github.com/driftwood-games/peermux/pkg/p2p"
)

// Bridge frame layout, one frame per WebSocket binary message:
//
//	[0]    frame type
//	[1]    channel
//	[2]    socket id byte length
//	[3:n]  socket id
//	[n:]   payload (data frames only)
type FrameType uint8

const (
	FrameType_Data FrameType = iota
	FrameType_ConnectRequest
	FrameType_ConnectAccept
	FrameType_Close
	FrameType_Interrupt

	FrameType_NONE
)

const frameHeaderSize = 3

type Frame struct {
	Type     FrameType
	Channel  uint8
	SocketID string
	Payload  []byte
}

type FrameSerializer struct{}

func (s FrameSerializer) Serialize(frame *Frame) ([]byte, error) {
	if frame.Type >= FrameType_NONE {
		return nil, &errors.InvalidEnumValue{
			EnumName: "FrameType",
			IntValue: uint8(frame.Type),
		}
	}
	if len(frame.SocketID) > 0xff {
		return nil, &errors.Overflow{
			MessageName: "Frame::SocketID",
			MsgSize:     len(frame.SocketID),
			MaximumSize: 0xff,
		}
	}

	msg := make([]byte, 0, frameHeaderSize+len(frame.SocketID)+len(frame.Payload))
	msg = append(msg, byte(frame.Type), frame.Channel, byte(len(frame.SocketID)))
	msg = append(msg, frame.SocketID...)
	msg = append(msg, frame.Payload...)
	return msg, nil
}

func (s FrameSerializer) Parse(msg []byte) (*Frame, error) {
	if len(msg) < frameHeaderSize {
		return nil, &errors.Underflow{
			MessageName: "Frame",
			MsgSize:     len(msg),
			MinimumSize: frameHeaderSize,
		}
	}

	frameType := FrameType(msg[0])
	if frameType >= FrameType_NONE {
		return nil, &errors.InvalidEnumValue{
			EnumName: "FrameType",
			IntValue: msg[0],
		}
	}

	channel := msg[1]
	socketIdLength := int(msg[2])
	if socketIdLength == 0 {
		return nil, &errors.Underflow{
			MessageName: "Frame::SocketIDLength",
			MsgSize:     0,
			MinimumSize: 1,
		}
	}
	if len(msg) < frameHeaderSize+socketIdLength {
		return nil, &errors.Underflow{
			MessageName: "Frame::SocketID",
			MsgSize:     len(msg) - frameHeaderSize,
			MinimumSize: socketIdLength,
		}
	}

	payload := msg[frameHeaderSize+socketIdLength:]
	if frameType == FrameType_Data && len(payload) > int(p2p.MaxPacketSize) {
		return nil, &errors.Overflow{
			MessageName: "Frame::Payload",
			MsgSize:     len(payload),
			MaximumSize: int(p2p.MaxPacketSize),
		}
	}

	return &Frame{
		Type:     frameType,
		Channel:  channel,
		SocketID: string(msg[frameHeaderSize : frameHeaderSize+socketIdLength]),
		Payload:  payload,
	}, nil
}
