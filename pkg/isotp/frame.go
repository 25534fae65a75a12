package isotp

import (
	"errors"
	"fmt"
)

const (
	pciSingleFrame      = 0x00
	pciFirstFrame       = 0x10
	pciConsecutiveFrame = 0x20
	pciFlowControl      = 0x30
)

const (
	// FrameSize is the classic CAN payload size.
	FrameSize = 8
	// MaxSingleFramePayload is the largest payload a classic single frame carries.
	MaxSingleFramePayload = FrameSize - 1
	// MaxMessageLength is the largest length a 12 bit first frame can announce.
	MaxMessageLength = 0xFFF
)

type FlowStatus byte

const (
	FlowStatusContinueToSend FlowStatus = iota
	FlowStatusWait
	FlowStatusOverflow
)

var ErrPayloadTooLong = errors.New("payload does not fit a single frame")

type FrameType int

const (
	SingleFrame FrameType = iota
	FirstFrame
	ConsecutiveFrame
	FlowControl
	Unknown
)

func (t FrameType) String() string {
	switch t {
	case SingleFrame:
		return "SINGLE_FRAME"
	case FirstFrame:
		return "FIRST_FRAME"
	case ConsecutiveFrame:
		return "CONSECUTIVE_FRAME"
	case FlowControl:
		return "FLOW_CONTROL"
	default:
		return "UNKNOWN"
	}
}

// Classify returns the frame type selected by the PCI high nibble.
func Classify(frame []byte) FrameType {
	if len(frame) == 0 {
		return Unknown
	}
	switch frame[0] & 0xF0 {
	case pciSingleFrame:
		return SingleFrame
	case pciFirstFrame:
		return FirstFrame
	case pciConsecutiveFrame:
		return ConsecutiveFrame
	case pciFlowControl:
		return FlowControl
	default:
		return Unknown
	}
}

// FlowControlFrame builds a flow control frame.
func FlowControlFrame(status FlowStatus, blockSize, stMin byte) []byte {
	return []byte{pciFlowControl | byte(status&0x0F), blockSize, stMin}
}

// ContinueToSend is the flow control frame sent after a first frame:
// continue to send, no block size limit, no separation time.
func ContinueToSend() []byte {
	return FlowControlFrame(FlowStatusContinueToSend, 0x00, 0x00)
}

// EncodeSingleFrame prepends the single frame PCI length byte to payload.
func EncodeSingleFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxSingleFramePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}
	out := make([]byte, 0, 1+len(payload))
	out = append(out, pciSingleFrame|byte(len(payload)))
	return append(out, payload...), nil
}

// EncodePaddedSingleFrame is EncodeSingleFrame zero padded to a full frame.
func EncodePaddedSingleFrame(payload []byte) ([]byte, error) {
	sf, err := EncodeSingleFrame(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, FrameSize)
	copy(out, sf)
	return out, nil
}

// SingleFramePayload returns the payload of a single frame, clamped to the
// bytes actually present.
func SingleFramePayload(frame []byte) ([]byte, bool) {
	if Classify(frame) != SingleFrame {
		return nil, false
	}
	n := int(frame[0] & 0x0F)
	if n == 0 || n > MaxSingleFramePayload {
		return nil, false
	}
	if n > len(frame)-1 {
		n = len(frame) - 1
	}
	if n == 0 {
		return nil, false
	}
	return frame[1 : 1+n], true
}
