package uds

import "fmt"

// Service identifiers.
const (
	DiagnosticSessionControl   byte = 0x10
	ECUReset                   byte = 0x11
	ClearDiagnosticInformation byte = 0x14
	ReadDTCInformation         byte = 0x19
	ReadDataByIdentifier       byte = 0x22
	ReadMemoryByAddress        byte = 0x23
	SecurityAccess             byte = 0x27
	CommunicationControl       byte = 0x28
	WriteDataByIdentifier      byte = 0x2E
	InputOutputControl         byte = 0x2F
	RoutineControl             byte = 0x31
	RequestDownload            byte = 0x34
	RequestUpload              byte = 0x35
	TransferData               byte = 0x36
	RequestTransferExit        byte = 0x37
	WriteMemoryByAddress       byte = 0x3D
	TesterPresent              byte = 0x3E
	ControlDTCSetting          byte = 0x85

	// NegativeResponse is the first byte of every negative reply.
	NegativeResponse byte = 0x7F
	// PositiveOffset is added to the request SID in a positive reply.
	PositiveOffset byte = 0x40
)

var serviceNames = map[byte]string{
	DiagnosticSessionControl:   "DiagnosticSessionControl",
	ECUReset:                   "ECUReset",
	ClearDiagnosticInformation: "ClearDiagnosticInformation",
	ReadDTCInformation:         "ReadDTCInformation",
	ReadDataByIdentifier:       "ReadDataByIdentifier",
	ReadMemoryByAddress:        "ReadMemoryByAddress",
	SecurityAccess:             "SecurityAccess",
	CommunicationControl:       "CommunicationControl",
	WriteDataByIdentifier:      "WriteDataByIdentifier",
	InputOutputControl:         "InputOutputControlByIdentifier",
	RoutineControl:             "RoutineControl",
	RequestDownload:            "RequestDownload",
	RequestUpload:              "RequestUpload",
	TransferData:               "TransferData",
	RequestTransferExit:        "RequestTransferExit",
	WriteMemoryByAddress:       "WriteMemoryByAddress",
	TesterPresent:              "TesterPresent",
	ControlDTCSetting:          "ControlDTCSetting",
}

// ServiceName returns the name of sid, or a hex placeholder.
func ServiceName(sid byte) string {
	if n, ok := serviceNames[sid]; ok {
		return n
	}
	return fmt.Sprintf("Service0x%02X", sid)
}

// IsService reports whether b is a known request SID.
func IsService(b byte) bool {
	_, ok := serviceNames[b]
	return ok
}

// echoLength returns how many request bytes after the SID a positive reply
// repeats for the given service.
func echoLength(sid byte) int {
	switch sid {
	case ReadDataByIdentifier, WriteDataByIdentifier, RoutineControl, InputOutputControl:
		return 2
	case DiagnosticSessionControl, ECUReset, ReadDTCInformation, SecurityAccess,
		CommunicationControl, TesterPresent, ControlDTCSetting:
		return 1
	default:
		return 0
	}
}

// hasSubFunction reports whether the echoed byte is a sub-function whose
// bit 7 is the suppress positive response flag.
func hasSubFunction(sid byte) bool {
	return echoLength(sid) == 1
}
