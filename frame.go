package elmuds

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/elmuds/pkg/hexcodec"
	"github.com/roffe/elmuds/pkg/isotp"
)

type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "<o>"
	}
	return "<i>"
}

// CANFrame is one frame seen or sent during an exchange. Identifier is 0
// for incoming frames when the adapter did not print headers.
type CANFrame struct {
	Identifier uint32
	Data       []byte
	Direction  Direction
	Time       time.Time
}

func NewFrame(identifier uint32, data []byte, dir Direction) *CANFrame {
	return &CANFrame{
		Identifier: identifier,
		Data:       data,
		Direction:  dir,
		Time:       time.Now(),
	}
}

func (f *CANFrame) Length() int {
	return len(f.Data)
}

var (
	blue   = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.Direction.String() + " || ")
	out.WriteString(fmt.Sprintf("0x%03X", f.Identifier) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexcodec.Encode(f.Data)))
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%-17s", isotp.Classify(f.Data)))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.Direction.String() + " || ")
	out.WriteString(green("0x%03X", f.Identifier) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexcodec.Encode(f.Data)))
	out.WriteString(" || ")
	out.WriteString(red("%-17s", isotp.Classify(f.Data)))
	out.WriteString(" || ")
	out.WriteString(blue("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteByte('.')
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
