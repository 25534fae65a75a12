package elmtext

import (
	"errors"
	"strings"
)

var ErrNoPayload = errors.New("no payload in adapter text")

// AdapterError is an error message printed by the adapter instead of data.
type AdapterError struct {
	Message string
}

func (e *AdapterError) Error() string {
	return "adapter error: " + e.Message
}

// CommandRejected reports whether the adapter did not understand the command it was sent.
func (e *AdapterError) CommandRejected() bool {
	return e.Message == "?"
}

var errorMessages = []string{
	"?",
	"CAN ERROR",
	"BUFFER FULL",
	"BUS BUSY",
	"BUS ERROR",
	"FB ERROR",
	"DATA ERROR",
	"<DATA ERROR",
	"<RX ERROR",
	"UNABLE TO CONNECT",
	"ERROR",
	"TIMEOUT",
}

var informational = []string{
	"OK",
	"NO DATA",
	"STOPPED",
	"SEARCHING...",
	"BUS INIT",
	"ELM327",
	"STN",
	"LV RESET",
	"ACT ALERT",
	"LP ALERT",
}

// IsStatusLine reports whether line is adapter chatter rather than CAN data.
func IsStatusLine(line string) bool {
	line = strings.ToUpper(cleanLine(line))
	if line == "" {
		return false
	}
	for _, m := range informational {
		if strings.HasPrefix(line, m) {
			return true
		}
	}
	return errorMessage(line) != ""
}

// CheckError returns an *AdapterError for the first error message found in text.
func CheckError(text string) error {
	for _, line := range Lines(text) {
		if m := errorMessage(strings.ToUpper(line)); m != "" {
			return &AdapterError{Message: m}
		}
	}
	return nil
}

// IsNoData reports whether the adapter answered with NO DATA.
func IsNoData(text string) bool {
	for _, line := range Lines(text) {
		if strings.EqualFold(line, "NO DATA") {
			return true
		}
	}
	return false
}

func errorMessage(line string) string {
	if line == "?" {
		return line
	}
	for _, m := range errorMessages[1:] {
		if strings.Contains(line, m) {
			return m
		}
	}
	return ""
}
