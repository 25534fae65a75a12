package adapter

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/roffe/elmuds"
	"github.com/roffe/elmuds/internal/syncutil"
	"github.com/roffe/elmuds/pkg/hexcodec"
	"github.com/roffe/elmuds/pkg/isotp"
	"github.com/roffe/elmuds/pkg/uds"
)

func init() {
	if err := elmuds.RegisterAdapter(&elmuds.AdapterInfo{
		Name:               "Virtual",
		Description:        "Simulated ECU answering in ELM327 text",
		RequiresSerialPort: false,
		New: func(cfg *elmuds.AdapterConfig) (elmuds.Adapter, error) {
			return NewVirtual(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

// Virtual is an adapter with a simulated ECU behind it. By default replies
// are printed as the answer to the send, the way an ELM327 with automatic
// formatting does. With MonitorReplies they only show up while monitoring
// and multi-frame replies wait for flow control.
type Virtual struct {
	*elmuds.BaseAdapter

	mu         syncutil.Mutex
	requestID  uint32
	responseID uint32
	dids       map[uint16][]byte
	session    byte
	monitor    bool
	sniffing   bool

	tx           uint32
	filter, mask uint32
	outbox       []string
	// consecutive frames waiting for flow control
	held         []string
}

type VirtualOpt func(*Virtual)

// WithECU sets the request identifier, the ECU answers on requestID+8.
func WithECU(requestID uint32) VirtualOpt {
	return func(v *Virtual) {
		v.requestID = requestID
		v.responseID = requestID + elmuds.ResponseIDOffset
	}
}

func WithDID(did uint16, data []byte) VirtualOpt {
	return func(v *Virtual) {
		v.dids[did] = data
	}
}

func MonitorReplies() VirtualOpt {
	return func(v *Virtual) {
		v.monitor = true
	}
}

func NewVirtual(cfg *elmuds.AdapterConfig, opts ...VirtualOpt) *Virtual {
	v := &Virtual{
		BaseAdapter: elmuds.NewBaseAdapter("Virtual", cfg),
		requestID:   0x7E0,
		responseID:  0x7E8,
		session:     0x01,
		mask:        0x7FF,
		filter:      0x7E8,
		dids: map[uint16][]byte{
			0xF190: []byte("WVWZZZ1JZXW000001"),
			0xF18C: []byte("SN0042"),
			0xF18B: {0x20, 0x24, 0x03, 0x15},
			0xF195: []byte("SW 1.02"),
			0xF187: []byte("8V0907115"),
		},
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Virtual) Open(context.Context) error {
	if v.Config().Debug {
		v.Config().OnMessage(fmt.Sprintf("virtual ECU on 0x%03X/0x%03X", v.requestID, v.responseID))
	}
	return nil
}

func (v *Virtual) Close() error {
	v.BaseAdapter.Close()
	return nil
}

func (v *Virtual) SetTxIdentifier(id uint32) error {
	v.mu.Lock()
	v.tx = id
	v.mu.Unlock()
	return nil
}

func (v *Virtual) SetRxFilter(id, mask uint32) error {
	v.mu.Lock()
	v.filter, v.mask = id, mask
	v.mu.Unlock()
	return nil
}

func (v *Virtual) SetSniffMode(enabled bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sniffing = enabled
	if enabled {
		for _, line := range v.outbox {
			v.PushLine(line)
		}
		v.outbox = nil
	}
	return nil
}

func (v *Virtual) SendFrame(data []byte) (string, error) {
	select {
	case <-v.Done():
		return "", elmuds.ErrAdapterClosed
	default:
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tx != v.requestID || len(data) == 0 {
		return "NO DATA", nil
	}
	if isotp.Classify(data) == isotp.FlowControl && len(v.held) > 0 {
		lines := v.held
		v.held = nil
		return v.deliver(lines), nil
	}
	req := data
	if p, ok := isotp.SingleFramePayload(data); ok && !uds.IsService(data[0]) {
		req = p
	}
	lines := v.frames(v.respond(req))
	if len(lines) == 0 {
		return "NO DATA", nil
	}
	if v.monitor && len(lines) > 1 {
		v.held = lines[1:]
		lines = lines[:1]
	}
	return v.deliver(lines), nil
}

// deliver prints lines as the send answer or queues them for monitoring.
func (v *Virtual) deliver(lines []string) string {
	if v.responseID&v.mask != v.filter&v.mask {
		return "NO DATA"
	}
	if !v.monitor {
		var text string
		for _, l := range lines {
			text += l + "\r"
		}
		return text + "\r>"
	}
	if v.sniffing {
		for _, l := range lines {
			v.PushLine(l)
		}
	} else {
		v.outbox = append(v.outbox, lines...)
	}
	return "OK\r\r>"
}

func (v *Virtual) frames(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) <= isotp.MaxSingleFramePayload {
		f, _ := isotp.EncodeSingleFrame(payload)
		return []string{v.line(f)}
	}
	n := len(payload)
	lines := []string{v.line(append([]byte{0x10 | byte(n>>8&0x0F), byte(n)}, payload[:6]...))}
	seq := byte(1)
	for off := 6; off < n; off += 7 {
		end := off + 7
		if end > n {
			end = n
		}
		cf := append([]byte{0x20 | seq}, payload[off:end]...)
		for len(cf) < isotp.FrameSize {
			cf = append(cf, 0x00)
		}
		lines = append(lines, v.line(cf))
		seq = (seq + 1) & 0x0F
	}
	return lines
}

func (v *Virtual) line(frame []byte) string {
	return fmt.Sprintf("%03X %s", v.responseID, hexcodec.Encode(frame))
}

func (v *Virtual) respond(req []byte) []byte {
	sid := req[0]
	neg := func(nrc uds.NRC) []byte {
		return []byte{uds.NegativeResponse, sid, byte(nrc)}
	}
	switch sid {
	case uds.DiagnosticSessionControl:
		if len(req) != 2 {
			return neg(uds.NRCIncorrectMessageLength)
		}
		v.session = req[1] & 0x7F
		if req[1]&0x80 != 0 {
			return nil
		}
		return []byte{sid + uds.PositiveOffset, req[1], 0x00, 0x32, 0x01, 0xF4}
	case uds.ECUReset:
		if len(req) != 2 {
			return neg(uds.NRCIncorrectMessageLength)
		}
		return []byte{sid + uds.PositiveOffset, req[1]}
	case uds.TesterPresent:
		if len(req) != 2 {
			return neg(uds.NRCIncorrectMessageLength)
		}
		if req[1]&0x80 != 0 {
			return nil
		}
		return []byte{sid + uds.PositiveOffset, req[1]}
	case uds.ReadDataByIdentifier:
		if len(req) != 3 {
			return neg(uds.NRCIncorrectMessageLength)
		}
		did := binary.BigEndian.Uint16(req[1:])
		if did == 0xF186 {
			return []byte{sid + uds.PositiveOffset, req[1], req[2], v.session}
		}
		data, ok := v.dids[did]
		if !ok {
			return neg(uds.NRCRequestOutOfRange)
		}
		return append([]byte{sid + uds.PositiveOffset, req[1], req[2]}, data...)
	case uds.WriteDataByIdentifier:
		if len(req) < 4 {
			return neg(uds.NRCIncorrectMessageLength)
		}
		if v.session == 0x01 {
			return neg(uds.NRCServiceNotSupportedInActiveSession)
		}
		did := binary.BigEndian.Uint16(req[1:])
		v.dids[did] = append([]byte(nil), req[3:]...)
		return []byte{sid + uds.PositiveOffset, req[1], req[2]}
	}
	return neg(uds.NRCServiceNotSupported)
}
