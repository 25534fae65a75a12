package uds

import (
	"fmt"
	"strings"

	"github.com/albenik/bcd"
	"github.com/roffe/elmuds/pkg/hexcodec"
)

type didKind int

const (
	didRaw didKind = iota
	didASCII
	didDate
	didSession
)

type didInfo struct {
	name string
	kind didKind
}

var dids = map[uint16]didInfo{
	0xF180: {"Boot Software Identification", didASCII},
	0xF181: {"Application Software Identification", didASCII},
	0xF186: {"Active Diagnostic Session", didSession},
	0xF187: {"Spare Part Number", didASCII},
	0xF188: {"ECU Software Number", didASCII},
	0xF189: {"ECU Software Version", didASCII},
	0xF18A: {"System Supplier Identifier", didASCII},
	0xF18B: {"ECU Manufacturing Date", didDate},
	0xF18C: {"ECU Serial Number", didASCII},
	0xF190: {"VIN", didASCII},
	0xF191: {"ECU Hardware Number", didASCII},
	0xF192: {"Supplier Hardware Number", didASCII},
	0xF193: {"Supplier Hardware Version", didASCII},
	0xF194: {"Supplier Software Number", didASCII},
	0xF195: {"Supplier Software Version", didASCII},
	0xF197: {"System Name", didASCII},
	0xF199: {"Programming Date", didDate},
	0xF19D: {"ECU Installation Date", didDate},
}

// DIDName returns the ISO 14229 name of a data identifier.
func DIDName(did uint16) string {
	if info, ok := dids[did]; ok {
		return info.name
	}
	return fmt.Sprintf("DID 0x%04X", did)
}

// FormatDID renders the record of a data identifier for display. Unknown or
// malformed records fall back to hex.
func FormatDID(did uint16, data []byte) string {
	info, ok := dids[did]
	if !ok || len(data) == 0 {
		return hexcodec.Encode(data)
	}
	switch info.kind {
	case didASCII:
		if s, ok := printable(data); ok {
			return s
		}
	case didDate:
		if s, ok := formatBCDDate(data); ok {
			return s
		}
	case didSession:
		return sessionName(data[0])
	}
	return hexcodec.Encode(data)
}

// DIDFromReply returns the identifier and record of a ReadDataByIdentifier
// positive reply.
func DIDFromReply(reply []byte) (uint16, []byte, bool) {
	if len(reply) < 3 || reply[0] != ReadDataByIdentifier+PositiveOffset {
		return 0, nil, false
	}
	return uint16(reply[1])<<8 | uint16(reply[2]), reply[3:], true
}

func printable(data []byte) (string, bool) {
	s := strings.TrimRight(string(data), "\x00\xff ")
	if s == "" {
		return "", false
	}
	for _, c := range []byte(s) {
		if c < 0x20 || c > 0x7E {
			return "", false
		}
	}
	return s, true
}

// formatBCDDate handles YYYYMMDD (4 bytes) and YYMMDD (3 bytes) BCD dates.
func formatBCDDate(data []byte) (string, bool) {
	for _, b := range data {
		if b>>4 > 9 || b&0x0F > 9 {
			return "", false
		}
	}
	var year, month, day uint16
	switch len(data) {
	case 4:
		year = bcd.ToUint16(data[:2])
		month = bcd.ToUint16([]byte{0, data[2]})
		day = bcd.ToUint16([]byte{0, data[3]})
	case 3:
		year = 2000 + bcd.ToUint16([]byte{0, data[0]})
		month = bcd.ToUint16([]byte{0, data[1]})
		day = bcd.ToUint16([]byte{0, data[2]})
	default:
		return "", false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

func sessionName(s byte) string {
	switch s & 0x7F {
	case 0x01:
		return "default"
	case 0x02:
		return "programming"
	case 0x03:
		return "extended"
	case 0x04:
		return "safety system"
	default:
		return fmt.Sprintf("session 0x%02X", s)
	}
}
