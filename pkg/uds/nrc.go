package uds

import "fmt"

// NRC is a negative response code.
type NRC byte

const (
	NRCGeneralReject                          NRC = 0x10
	NRCServiceNotSupported                    NRC = 0x11
	NRCSubFunctionNotSupported                NRC = 0x12
	NRCIncorrectMessageLength                 NRC = 0x13
	NRCResponseTooLong                        NRC = 0x14
	NRCBusyRepeatRequest                      NRC = 0x21
	NRCConditionsNotCorrect                   NRC = 0x22
	NRCRequestSequenceError                   NRC = 0x24
	NRCNoResponseFromSubnetComponent          NRC = 0x25
	NRCFailurePreventsExecution               NRC = 0x26
	NRCRequestOutOfRange                      NRC = 0x31
	NRCSecurityAccessDenied                   NRC = 0x33
	NRCInvalidKey                             NRC = 0x35
	NRCExceedNumberOfAttempts                 NRC = 0x36
	NRCRequiredTimeDelayNotExpired            NRC = 0x37
	NRCUploadDownloadNotAccepted              NRC = 0x70
	NRCTransferDataSuspended                  NRC = 0x71
	NRCGeneralProgrammingFailure              NRC = 0x72
	NRCWrongBlockSequenceCounter              NRC = 0x73
	NRCResponsePending                        NRC = 0x78
	NRCSubFunctionNotSupportedInActiveSession NRC = 0x7E
	NRCServiceNotSupportedInActiveSession     NRC = 0x7F
)

func (n NRC) String() string {
	switch n {
	case NRCGeneralReject:
		return "General reject"
	case NRCServiceNotSupported:
		return "Service not supported"
	case NRCSubFunctionNotSupported:
		return "Sub-function not supported"
	case NRCIncorrectMessageLength:
		return "Incorrect message length or invalid format"
	case NRCResponseTooLong:
		return "Response too long"
	case NRCBusyRepeatRequest:
		return "Busy, repeat request"
	case NRCConditionsNotCorrect:
		return "Conditions not correct"
	case NRCRequestSequenceError:
		return "Request sequence error"
	case NRCNoResponseFromSubnetComponent:
		return "No response from subnet component"
	case NRCFailurePreventsExecution:
		return "Failure prevents execution of requested action"
	case NRCRequestOutOfRange:
		return "Request out of range"
	case NRCSecurityAccessDenied:
		return "Security access denied"
	case NRCInvalidKey:
		return "Invalid key"
	case NRCExceedNumberOfAttempts:
		return "Exceeded number of attempts"
	case NRCRequiredTimeDelayNotExpired:
		return "Required time delay not expired"
	case NRCUploadDownloadNotAccepted:
		return "Upload/download not accepted"
	case NRCTransferDataSuspended:
		return "Transfer data suspended"
	case NRCGeneralProgrammingFailure:
		return "General programming failure"
	case NRCWrongBlockSequenceCounter:
		return "Wrong block sequence counter"
	case NRCResponsePending:
		return "Response pending"
	case NRCSubFunctionNotSupportedInActiveSession:
		return "Sub-function not supported in active session"
	case NRCServiceNotSupportedInActiveSession:
		return "Service not supported in active session"
	default:
		return fmt.Sprintf("Unknown NRC 0x%02X", byte(n))
	}
}

// IsRetryable reports whether re-sending the same request may succeed.
func (n NRC) IsRetryable() bool {
	switch n {
	case NRCBusyRepeatRequest, NRCResponsePending:
		return true
	default:
		return false
	}
}

// IsPending reports whether the ECU asked for more time.
func (n NRC) IsPending() bool {
	return n == NRCResponsePending
}
