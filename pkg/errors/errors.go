package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type Overflow struct {
	MessageName string
	MsgSize     int
	MaximumSize int
}

func (e *Overflow) Error() string {
	return fmt.Sprintf("Message overflowed (type=%s), provided %d bytes, maximum is %d", e.MessageName, e.MsgSize, e.MaximumSize)
}
