package elmuds

import (
	"fmt"

	"github.com/roffe/elmuds/pkg/hexcodec"
)

const (
	// MaxRequestLength bounds the service id plus parameters of one request.
	MaxRequestLength = 32
	// MaxStandardID is the largest 11-bit CAN identifier.
	MaxStandardID = 0x7FF
)

// Request is a UDS request addressed to one ECU. Payload[0] is the service id.
type Request struct {
	TargetID uint32
	Payload  []byte
}

// NewRequest decodes requestHex ("220105", "22 01 05") into a request for
// targetID. All failures wrap ErrRequestInvalid.
func NewRequest(targetID uint32, requestHex string) (Request, error) {
	if targetID > MaxStandardID {
		return Request{}, fmt.Errorf("%w: target 0x%X is not an 11-bit identifier", ErrRequestInvalid, targetID)
	}
	payload, err := hexcodec.Decode(requestHex)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrRequestInvalid, err)
	}
	if len(payload) == 0 {
		return Request{}, fmt.Errorf("%w: empty request", ErrRequestInvalid)
	}
	if len(payload) > MaxRequestLength {
		return Request{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrRequestInvalid, len(payload), MaxRequestLength)
	}
	return Request{TargetID: targetID, Payload: payload}, nil
}

func (r Request) ServiceID() byte {
	if len(r.Payload) == 0 {
		return 0
	}
	return r.Payload[0]
}

func (r Request) String() string {
	return fmt.Sprintf("0x%03X: %s", r.TargetID, hexcodec.Encode(r.Payload))
}
