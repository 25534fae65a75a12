package elmuds

import (
	"errors"
	"fmt"
	"time"

	"github.com/roffe/elmuds/pkg/uds"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrRequestInvalid = errors.New("invalid request")
	ErrTimeout        = errors.New("exchange timeout")
	ErrNilTransport   = errors.New("transport is nil")
	ErrUnknownAdapter = errors.New("unknown adapter")
	ErrAdapterClosed  = errors.New("adapter closed")
)

// TimeoutError reports an exchange that ended without a reply. Timeout is
// the time waited since the first send, Pending is set when the ECU
// answered response pending before going quiet.
type TimeoutError struct {
	Timeout  time.Duration
	Target   uint32
	Stalled  bool
	Pending  bool
	Received int
	Expected int
}

func (e *TimeoutError) Error() string {
	if e.Stalled {
		return fmt.Sprintf("reply to 0x%03X stalled after %d of %d bytes", e.Target, e.Received, e.Expected)
	}
	if e.Pending {
		return fmt.Sprintf("no reply from 0x%03X within %s after response pending", e.Target, e.Timeout)
	}
	return fmt.Sprintf("no reply from 0x%03X within %s", e.Target, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type NegativeResponseError struct {
	ServiceID byte
	NRC       uds.NRC
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to %s (0x%02X): %s (0x%02X)", uds.ServiceName(e.ServiceID), e.ServiceID, e.NRC, byte(e.NRC))
}
