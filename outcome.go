package elmuds

import (
	"errors"
	"fmt"
	"time"

	"github.com/roffe/elmuds/pkg/hexcodec"
	"github.com/roffe/elmuds/pkg/uds"
)

type Kind int

const (
	KindPositive Kind = iota
	KindNegative
	KindTimeout
	KindRequestInvalid
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindPositive:
		return "Positive"
	case KindNegative:
		return "Negative"
	case KindTimeout:
		return "Timeout"
	case KindRequestInvalid:
		return "RequestInvalid"
	case KindTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// Outcome is the terminal result of one exchange.
type Outcome struct {
	Kind    Kind
	Request Request
	// Bytes holds the reply of a positive or negative outcome.
	Bytes []byte
	// Text is Bytes rendered as hex, set for positive outcomes only.
	Text      string
	ServiceID byte
	NRC       uds.NRC
	// Truncated is set when the ECU announced more bytes than the capacity.
	Truncated bool
	// Inline is set when the reply came back as the answer to the send
	// command rather than through monitoring.
	Inline   bool
	Strategy SendStrategy
	Elapsed  time.Duration

	cause error
}

// OK reports a positive outcome.
func (o Outcome) OK() bool {
	return o.Kind == KindPositive
}

// Err maps the outcome onto an error, nil for positive outcomes.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindPositive:
		return nil
	case KindNegative:
		return &NegativeResponseError{ServiceID: o.ServiceID, NRC: o.NRC}
	default:
		if o.cause != nil {
			return o.cause
		}
		switch o.Kind {
		case KindTimeout:
			return &TimeoutError{Target: o.Request.TargetID}
		case KindRequestInvalid:
			return ErrRequestInvalid
		default:
			return &TransportError{Op: "exchange", Err: errors.New("unknown failure")}
		}
	}
}

// Data returns a positive reply without its service id. For
// ReadDataByIdentifier the identifier is stripped as well.
func (o Outcome) Data() []byte {
	if o.Kind != KindPositive || len(o.Bytes) == 0 {
		return nil
	}
	if _, rec, ok := uds.DIDFromReply(o.Bytes); ok {
		return rec
	}
	return o.Bytes[1:]
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindPositive:
		return o.Text
	case KindNegative:
		return fmt.Sprintf("7F %02X %02X (%s)", o.ServiceID, byte(o.NRC), o.NRC)
	default:
		return o.Err().Error()
	}
}

func (o Outcome) ColorString() string {
	switch o.Kind {
	case KindPositive:
		s := green("%s", hexcodec.Encode(o.Bytes))
		if o.Truncated {
			s += yellow("%s", " (truncated)")
		}
		return s
	case KindNegative:
		return red("%s", o.String())
	default:
		return yellow("%s", o.String())
	}
}
