package elmtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/elmuds/pkg/hexcodec"
)

// ParseFrame decodes one monitored CAN frame line into its raw data bytes,
// ISO-TP PCI included. Accepted shapes:
//
//	7E8 03 62 01 05 00 00 00     identifier and data
//	7E8 8 03 62 01 05 00 00 00   identifier, DLC and data
//	18DAF110 03 62 01 05         29-bit identifier
//	03 62 01 05 00 00 00         data only
//	7E803620105                  identifier and data, spaces off
//	$7E8,03,62,01,05             co-processor format
func ParseFrame(line string) (Frame, error) {
	line = cleanLine(line)
	if line == "" {
		return Frame{}, ErrNoPayload
	}
	if m := errorMessage(strings.ToUpper(line)); m != "" {
		return Frame{}, &AdapterError{Message: m}
	}
	if IsStatusLine(line) {
		return Frame{}, ErrNoPayload
	}
	if line[0] == '$' {
		return parseDollarFrame(line)
	}

	f := Frame{Raw: line, Strategy: StrategyFreeLine}
	rest := line
	if id, r, ok := splitIdentifier(rest); ok {
		f.ID, f.HasID = id, true
		rest = r
		if tok, r2 := firstToken(rest); len(tok) == 1 && tok[0] >= '0' && tok[0] <= '8' && r2 != "" {
			rest = r2
		}
	} else if tok, r := firstToken(rest); r == "" && len(tok) > 3 && len(tok)%2 == 1 && hexcodec.IsHex(tok) {
		id, err := strconv.ParseUint(tok[:3], 16, 32)
		if err == nil {
			f.ID, f.HasID = uint32(id), true
			rest = tok[3:]
		}
	}
	data, err := hexcodec.Decode(rest)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame body %q: %w", line, err)
	}
	if len(data) == 0 {
		return Frame{}, ErrNoPayload
	}
	f.Data = data
	return f, nil
}

func parseDollarFrame(line string) (Frame, error) {
	fields := strings.Split(line[1:], ",")
	if len(fields) < 2 {
		return Frame{}, ErrNoPayload
	}
	f := Frame{Raw: line, Strategy: StrategyFreeLine}
	if idTok := strings.TrimSpace(fields[0]); idTok != "" {
		id, err := strconv.ParseUint(idTok, 16, 32)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to decode identifier %q: %w", idTok, err)
		}
		f.ID, f.HasID = uint32(id), true
	}
	for _, fld := range fields[1:] {
		fld = strings.TrimSpace(fld)
		if fld == "" {
			continue
		}
		// some firmware repeats each byte for integrity, keep the first copy
		if len(fld) == 4 && fld[:2] == fld[2:] {
			fld = fld[:2]
		}
		b, err := hexcodec.Decode(fld)
		if err != nil || len(b) != 1 {
			break
		}
		f.Data = append(f.Data, b[0])
	}
	if len(f.Data) == 0 {
		return Frame{}, ErrNoPayload
	}
	return f, nil
}
