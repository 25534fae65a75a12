package elmuds

import (
	"fmt"
	"strings"
	"time"

	"github.com/roffe/elmuds/pkg/isotp"
)

// FilterMode selects how the reception filter is derived from the target.
type FilterMode int

const (
	// FilterMasked accepts target+8 and its neighbours: id (target+8)&0x7F8, mask 0x7F8.
	FilterMasked FilterMode = iota
	// FilterExact accepts target+8 only: mask 0x7FF.
	FilterExact
)

func (m FilterMode) String() string {
	switch m {
	case FilterMasked:
		return "masked"
	case FilterExact:
		return "exact"
	default:
		return fmt.Sprintf("FilterMode(%d)", int(m))
	}
}

func (m FilterMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *FilterMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "masked", "mask":
		*m = FilterMasked
	case "exact":
		*m = FilterExact
	default:
		return fmt.Errorf("unknown filter mode %q", text)
	}
	return nil
}

// SendStrategy is one way of framing the request for the adapter.
type SendStrategy int

const (
	// SendRaw sends the UDS payload and lets the adapter add ISO-TP framing.
	SendRaw SendStrategy = iota
	// SendPCI prepends the single frame length byte.
	SendPCI
	// SendPadded is SendPCI zero padded to 8 bytes.
	SendPadded
)

func (s SendStrategy) String() string {
	switch s {
	case SendRaw:
		return "raw"
	case SendPCI:
		return "pci"
	case SendPadded:
		return "padded"
	default:
		return fmt.Sprintf("SendStrategy(%d)", int(s))
	}
}

func (s SendStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SendStrategy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "raw":
		*s = SendRaw
	case "pci":
		*s = SendPCI
	case "padded", "pad":
		*s = SendPadded
	default:
		return fmt.Errorf("unknown send strategy %q", text)
	}
	return nil
}

// Frame returns the bytes handed to the transport for payload. The PCI
// strategies only apply to payloads that fit a single frame.
func (s SendStrategy) Frame(payload []byte) ([]byte, bool) {
	switch s {
	case SendRaw:
		return payload, len(payload) > 0
	case SendPCI:
		b, err := isotp.EncodeSingleFrame(payload)
		return b, err == nil
	case SendPadded:
		b, err := isotp.EncodePaddedSingleFrame(payload)
		return b, err == nil
	default:
		return nil, false
	}
}

// ParseStrategies parses a comma separated strategy list such as "raw,pci".
func ParseStrategies(s string) ([]SendStrategy, error) {
	var out []SendStrategy
	for _, f := range strings.Split(s, ",") {
		if strings.TrimSpace(f) == "" {
			continue
		}
		var st SendStrategy
		if err := st.UnmarshalText([]byte(f)); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

const (
	DefaultExchangeTimeout        = 1000 * time.Millisecond
	DefaultStallTimeout           = 200 * time.Millisecond
	DefaultFlushWindow            = 40 * time.Millisecond
	DefaultPollInterval           = 2 * time.Millisecond
	DefaultResponsePendingTimeout = 5 * time.Second
	DefaultRetryDelay             = 100 * time.Millisecond

	// ResponseIDOffset is added to the target to get the responder identifier.
	ResponseIDOffset = 0x08
)

type Config struct {
	// ExchangeTimeout bounds the wait for a reply, counted from the first send.
	ExchangeTimeout time.Duration
	// StallTimeout aborts a multi frame transfer silent for this long.
	StallTimeout time.Duration
	// FlushWindow bounds the drain of stale lines before sending.
	FlushWindow time.Duration
	// PollInterval is the sleep between empty receive polls.
	PollInterval time.Duration
	// ResponsePendingTimeout replaces the deadline when the ECU answers
	// with response pending.
	ResponsePendingTimeout time.Duration
	// RetryDelay is the pause between attempts of ExchangeRetry.
	RetryDelay time.Duration
	FilterMode FilterMode
	Strategies []SendStrategy
}

func DefaultConfig() Config {
	return Config{
		ExchangeTimeout:        DefaultExchangeTimeout,
		StallTimeout:           DefaultStallTimeout,
		FlushWindow:            DefaultFlushWindow,
		PollInterval:           DefaultPollInterval,
		ResponsePendingTimeout: DefaultResponsePendingTimeout,
		RetryDelay:             DefaultRetryDelay,
		FilterMode:             FilterMasked,
		Strategies:             []SendStrategy{SendRaw, SendPCI, SendPadded},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = def.ExchangeTimeout
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = def.StallTimeout
	}
	if c.FlushWindow < 0 {
		c.FlushWindow = def.FlushWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ResponsePendingTimeout <= 0 {
		c.ResponsePendingTimeout = def.ResponsePendingTimeout
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = def.RetryDelay
	}
	if len(c.Strategies) == 0 {
		c.Strategies = def.Strategies
	}
	return c
}

// RxFilter returns the reception filter for replies from target.
func (c Config) RxFilter(target uint32) (id, mask uint32) {
	rx := target + ResponseIDOffset
	if c.FilterMode == FilterExact {
		return rx & MaxStandardID, MaxStandardID
	}
	return rx & 0x7F8, 0x7F8
}
