package elmtext

import (
	"strconv"
	"strings"

	"github.com/roffe/elmuds/pkg/hexcodec"
)

type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyIndexed
	StrategyFreeLine
	StrategyBare
)

func (s Strategy) String() string {
	switch s {
	case StrategyIndexed:
		return "indexed"
	case StrategyFreeLine:
		return "free-line"
	case StrategyBare:
		return "bare"
	default:
		return "none"
	}
}

// Frame is one logical piece of adapter output reduced to its payload bytes.
type Frame struct {
	Raw      string
	ID       uint32
	HasID    bool
	Data     []byte
	Strategy Strategy
}

// Lines splits adapter output on CR/LF, trims padding and the '>' prompt,
// and drops empty lines.
func Lines(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if l := cleanLine(f); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func cleanLine(s string) string {
	return strings.Trim(s, " \t>")
}

// Parse extracts the payload from the text of one send/receive round trip.
// The indexed strategy is tried first, then the free-line strategy.
func Parse(text string, capacity int) (Frame, error) {
	candidates := ParseAll(text, capacity)
	if len(candidates) == 0 {
		return Frame{}, ErrNoPayload
	}
	return candidates[0], nil
}

// ParseAll returns every payload candidate found in text in priority order.
// Callers that validate replies walk the list so an echoed command line
// does not hide the answer printed after it.
func ParseAll(text string, capacity int) []Frame {
	if capacity <= 0 {
		return nil
	}
	lines := Lines(text)
	var out []Frame
	if f, ok := parseIndexed(lines, capacity); ok {
		out = append(out, f)
	}
	for _, line := range lines {
		if IsStatusLine(line) {
			continue
		}
		if f, ok := parseFreeLine(line, capacity); ok {
			out = append(out, f)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, line := range lines {
		if IsStatusLine(line) {
			continue
		}
		data, err := hexcodec.DecodeLimit(line, capacity)
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, Frame{Raw: line, Data: data, Strategy: StrategyBare})
	}
	return out
}

func parseIndexed(lines []string, capacity int) (Frame, bool) {
	start := -1
	for i, line := range lines {
		if idx, _, ok := splitIndex(line, false); ok && idx == 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return Frame{}, false
	}

	declared := -1
	if start > 0 {
		prev := lines[start-1]
		if len(prev) == 3 && hexcodec.IsHex(prev) {
			if n, err := strconv.ParseUint(prev, 16, 16); err == nil {
				declared = int(n)
			}
		}
	}
	limit := capacity
	if declared > 0 && declared < limit {
		limit = declared
	}

	var raw strings.Builder
	data := make([]byte, 0, limit)
	expect := 0
	for _, line := range lines[start:] {
		if len(data) >= limit {
			break
		}
		idx, rest, ok := splitIndex(line, false)
		if !ok || idx != expect {
			break
		}
		b, err := hexcodec.DecodeLimit(rest, limit-len(data))
		if err != nil {
			return Frame{}, false
		}
		data = append(data, b...)
		if raw.Len() > 0 {
			raw.WriteByte('\n')
		}
		raw.WriteString(line)
		expect = (expect + 1) & 0x0F
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	return Frame{Raw: raw.String(), Data: data, Strategy: StrategyIndexed}, true
}

func parseFreeLine(line string, capacity int) (Frame, bool) {
	f := Frame{Raw: line, Strategy: StrategyFreeLine}
	rest := line
	if _, r, ok := splitIndex(rest, true); ok {
		rest = r
	}
	if id, r, ok := splitIdentifier(rest); ok {
		f.ID, f.HasID = id, true
		rest = r
		if tok, r2 := firstToken(rest); len(tok) == 2 && hexcodec.IsHex(tok) && r2 != "" {
			rest = r2
		} else if len(tok) == 2 && hexcodec.IsHex(tok) {
			rest = ""
		}
	}
	data, err := hexcodec.DecodeLimit(rest, capacity)
	if err != nil || len(data) == 0 {
		return Frame{}, false
	}
	f.Data = data
	return f, true
}

// splitIndex splits an "N:" line index prefix of one or two hex digits.
// When spaced is set the colon must be followed by whitespace.
func splitIndex(line string, spaced bool) (int, string, bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 1 || colon > 2 {
		return 0, line, false
	}
	prefix := line[:colon]
	if !hexcodec.IsHex(prefix) {
		return 0, line, false
	}
	rest := line[colon+1:]
	if spaced && rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, line, false
	}
	n, err := strconv.ParseUint(prefix, 16, 8)
	if err != nil {
		return 0, line, false
	}
	return int(n), strings.TrimLeft(rest, " \t"), true
}

// splitIdentifier strips a leading 3 or 8 hex digit CAN identifier token
// that is followed by whitespace.
func splitIdentifier(s string) (uint32, string, bool) {
	tok, rest := firstToken(s)
	if rest == "" || (len(tok) != 3 && len(tok) != 8) || !hexcodec.IsHex(tok) {
		return 0, s, false
	}
	id, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, s, false
	}
	return uint32(id), rest, true
}

func firstToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	end := strings.IndexAny(s, " \t")
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimLeft(s[end:], " \t")
}
