package elmuds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roffe/elmuds/pkg/hexcodec"
	"github.com/roffe/elmuds/pkg/uds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport records every call and answers sends through onSend.
type scriptedTransport struct {
	mu       sync.Mutex
	calls    []string
	lines    []string
	sniff    bool
	txID     uint32
	filterID uint32
	mask     uint32
	sent     [][]byte
	onSend   func(st *scriptedTransport, data []byte) (string, error)
	failTx   error
	sniffErr error
}

func (st *scriptedTransport) record(format string, args ...any) {
	st.calls = append(st.calls, fmt.Sprintf(format, args...))
}

func (st *scriptedTransport) SetTxIdentifier(id uint32) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record("tx %03X", id)
	if st.failTx != nil {
		return st.failTx
	}
	st.txID = id
	return nil
}

func (st *scriptedTransport) SetRxFilter(id, mask uint32) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record("filter %03X/%03X", id, mask)
	st.filterID, st.mask = id, mask
	return nil
}

func (st *scriptedTransport) SetSniffMode(enabled bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record("sniff %v", enabled)
	st.sniff = enabled
	return st.sniffErr
}

func (st *scriptedTransport) SendFrame(data []byte) (string, error) {
	st.mu.Lock()
	st.record("send %s", hexcodec.Encode(data))
	st.sent = append(st.sent, append([]byte(nil), data...))
	fn := st.onSend
	st.mu.Unlock()
	if fn == nil {
		return "OK\r\r>", nil
	}
	return fn(st, data)
}

func (st *scriptedTransport) ReceiveLine() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.lines) == 0 {
		return "", false
	}
	line := st.lines[0]
	st.lines = st.lines[1:]
	st.record("recv %s", line)
	return line, true
}

// queue adds lines; callers from onSend must not hold mu.
func (st *scriptedTransport) queue(lines ...string) {
	st.mu.Lock()
	st.lines = append(st.lines, lines...)
	st.mu.Unlock()
}

func (st *scriptedTransport) callLog() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.calls...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ExchangeTimeout = 150 * time.Millisecond
	cfg.StallTimeout = 60 * time.Millisecond
	cfg.FlushWindow = 10 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.ResponsePendingTimeout = 300 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, st *scriptedTransport) *Client {
	t.Helper()
	c, err := New(st, WithConfig(testConfig()))
	require.NoError(t, err)
	return c
}

func TestNewNilTransport(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilTransport)
}

func TestExchangeInlineReply(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(_ *scriptedTransport, data []byte) (string, error) {
			return "7EC 06 62 01 05 12 34 56\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 12 34 56", o.Text)
	assert.Equal(t, []byte{0x62, 0x01, 0x05, 0x12, 0x34, 0x56}, o.Bytes)
	assert.Equal(t, []byte{0x12, 0x34, 0x56}, o.Data())
	assert.True(t, o.Inline)
	assert.Equal(t, SendRaw, o.Strategy)
	assert.NoError(t, o.Err())

	calls := st.callLog()
	assert.Equal(t, []string{
		"tx 7E4",
		"filter 7E8/7F8",
		"send 22 01 05",
		"sniff false",
	}, calls)
}

func TestExchangeMonitoredSingleFrame(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			st.queue("7E8 03 41 0D 00", "7EC 06 62 01 05 12 34 56")
			return "OK\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "22 01 05", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 12 34 56", o.Text)
	assert.False(t, o.Inline)
	assert.False(t, st.sniff)
	assert.Len(t, st.sent, 1, "a silent send goes straight to monitoring")
}

func TestExchangeFlushBeforeSend(t *testing.T) {
	st := &scriptedTransport{
		lines: []string{"7EC 06 62 01 05 AA AA AA"},
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			st.queue("7EC 06 62 01 05 12 34 56")
			return "", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind)
	assert.Equal(t, "62 01 05 12 34 56", o.Text)

	calls := st.callLog()
	stale, send := -1, -1
	for i, c := range calls {
		if c == "recv 7EC 06 62 01 05 AA AA AA" {
			stale = i
		}
		if strings.HasPrefix(c, "send ") && send < 0 {
			send = i
		}
	}
	require.GreaterOrEqual(t, stale, 0)
	assert.Less(t, stale, send)
}

func TestExchangeMultiFrame(t *testing.T) {
	st := &scriptedTransport{}
	st.onSend = func(st *scriptedTransport, data []byte) (string, error) {
		switch hexcodec.Encode(data) {
		case "22 01 05":
			st.queue("7EC 10 0A 62 01 05 01 02 03")
			return "", nil
		case "30 00 00":
			st.queue("7EC 21 04 05 06 07 00 00 00")
			return "", nil
		}
		return "?", nil
	}
	var frames []*CANFrame
	c, err := New(st, WithConfig(testConfig()), WithFrameHook(func(f *CANFrame) {
		frames = append(frames, f)
	}))
	require.NoError(t, err)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 01 02 03 04 05 06 07", o.Text)

	fc := 0
	for _, s := range st.sent {
		if hexcodec.Encode(s) == "30 00 00" {
			fc++
		}
	}
	assert.Equal(t, 1, fc)
	require.Len(t, frames, 4)
	assert.Equal(t, Outgoing, frames[0].Direction)
	assert.Equal(t, uint32(0x7EC), frames[1].Identifier)
	assert.Equal(t, Outgoing, frames[2].Direction)
	assert.False(t, st.sniff)
}

func TestExchangeFlowControlHarvest(t *testing.T) {
	st := &scriptedTransport{}
	st.onSend = func(st *scriptedTransport, data []byte) (string, error) {
		switch hexcodec.Encode(data) {
		case "22 01 05":
			st.queue("7EC 10 09 62 01 05 01 02 03")
			return "", nil
		case "30 00 00":
			return "7EC 21 04 05 06 00 00 00 00\r\r>", nil
		}
		return "", nil
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 01 02 03 04 05 06", o.Text)
}

func TestExchangeStall(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			if data[0] == 0x22 {
				st.queue("7EC 10 20 62 01 05 01 02 03")
			}
			return "", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindTimeout, o.Kind)
	var terr *TimeoutError
	require.True(t, errors.As(o.Err(), &terr))
	assert.True(t, terr.Stalled)
	assert.Equal(t, 6, terr.Received)
	assert.Equal(t, 32, terr.Expected)
	assert.Nil(t, o.Bytes, "partial payloads are discarded")
	assert.False(t, st.sniff)
}

func TestExchangeTimeoutDisablesSniff(t *testing.T) {
	st := &scriptedTransport{}
	c := newTestClient(t, st)

	start := time.Now()
	o := c.Exchange(0x7E4, "220105", 128)
	assert.Equal(t, KindTimeout, o.Kind)
	assert.ErrorIs(t, o.Err(), ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), testConfig().ExchangeTimeout)

	calls := st.callLog()
	assert.Contains(t, calls, "sniff true")
	assert.Equal(t, "sniff false", calls[len(calls)-1])
	assert.False(t, st.sniff)
}

func TestExchangeNegative(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			st.queue("7EC 03 7F 22 31")
			return "", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindNegative, o.Kind)
	assert.Equal(t, byte(0x22), o.ServiceID)
	assert.Equal(t, uds.NRCRequestOutOfRange, o.NRC)

	var nerr *NegativeResponseError
	require.True(t, errors.As(o.Err(), &nerr))
	assert.Equal(t, uds.NRCRequestOutOfRange, nerr.NRC)
}

func TestExchangeResponsePending(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			st.queue("7EC 03 7F 31 78")
			go func() {
				time.Sleep(200 * time.Millisecond)
				st.queue("7EC 04 71 01 FF 00")
			}()
			return "", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E0, "3101FF00", 64)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "71 01 FF 00", o.Text)
	assert.Greater(t, o.Elapsed, testConfig().ExchangeTimeout)
}

func TestExchangeStrategyFallback(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(_ *scriptedTransport, data []byte) (string, error) {
			switch len(data) {
			case 3:
				return "NO DATA\r\r>", nil
			case 4:
				return "?\r\r>", nil
			default:
				return "7EC 06 62 01 05 12 34 56\r\r>", nil
			}
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, SendPadded, o.Strategy)
	require.Len(t, st.sent, 3)
	assert.Equal(t, []byte{0x22, 0x01, 0x05}, st.sent[0])
	assert.Equal(t, []byte{0x03, 0x22, 0x01, 0x05}, st.sent[1])
	assert.Equal(t, []byte{0x03, 0x22, 0x01, 0x05, 0x00, 0x00, 0x00, 0x00}, st.sent[2])
}

func TestExchangeInlinePCI(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(_ *scriptedTransport, data []byte) (string, error) {
			// headers off, automatic formatting off: the PCI stays in the line
			return "06 62 01 05 12 34 56 00\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 12 34 56", o.Text)
}

func TestExchangeTransportError(t *testing.T) {
	boom := errors.New("port closed")
	st := &scriptedTransport{
		onSend: func(_ *scriptedTransport, data []byte) (string, error) {
			return "", boom
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindTransportError, o.Kind)
	assert.ErrorIs(t, o.Err(), boom)
	var terr *TransportError
	require.True(t, errors.As(o.Err(), &terr))
	assert.Equal(t, "send", terr.Op)
	assert.Len(t, st.sent, 3)
	assert.False(t, st.sniff)
	assert.Equal(t, "sniff false", st.callLog()[len(st.callLog())-1])
}

func TestExchangeConfigureError(t *testing.T) {
	st := &scriptedTransport{failTx: errors.New("ATSH failed")}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindTransportError, o.Kind)
	assert.Empty(t, st.sent)
	assert.Equal(t, "sniff false", st.callLog()[len(st.callLog())-1])
}

func TestExchangeInvalidRequest(t *testing.T) {
	for _, tc := range []struct {
		target   uint32
		hex      string
		capacity int
	}{
		{0x7E4, "2201 5", 128},
		{0x7E4, "22 0G", 128},
		{0x7E4, "", 128},
		{0x7E4, strings.Repeat("00", 33), 128},
		{0x800, "220105", 128},
		{0x7E4, "220105", 0},
	} {
		st := &scriptedTransport{}
		c := newTestClient(t, st)
		o := c.Exchange(tc.target, tc.hex, tc.capacity)
		assert.Equal(t, KindRequestInvalid, o.Kind, tc.hex)
		assert.ErrorIs(t, o.Err(), ErrRequestInvalid)
		assert.Empty(t, st.callLog(), "invalid requests never reach the transport")
	}
}

func TestExchangeOddNibbleCause(t *testing.T) {
	c := newTestClient(t, &scriptedTransport{})
	o := c.Exchange(0x7E4, "2201 5", 128)
	assert.ErrorIs(t, o.Err(), hexcodec.ErrOddNibbleCount)
}

func TestExchangeExactFilter(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			st.queue("7ED 06 62 01 05 AA BB CC", "7EC 06 62 01 05 12 34 56")
			return "", nil
		},
	}
	cfg := testConfig()
	cfg.FilterMode = FilterExact
	c, err := New(st, WithConfig(cfg))
	require.NoError(t, err)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind)
	assert.Equal(t, "62 01 05 12 34 56", o.Text)
	assert.Contains(t, st.callLog(), "filter 7EC/7FF")
}

func TestExchangeTruncated(t *testing.T) {
	st := &scriptedTransport{}
	st.onSend = func(st *scriptedTransport, data []byte) (string, error) {
		if data[0] == 0x22 {
			st.queue("7EC 10 14 62 01 05 01 02 03")
		} else {
			st.queue("7EC 21 04 05 06 07 08 09 0A")
		}
		return "", nil
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 8)
	require.Equal(t, KindPositive, o.Kind)
	assert.True(t, o.Truncated)
	assert.Len(t, o.Bytes, 8)
}

func TestExchangeRetry(t *testing.T) {
	attempts := 0
	st := &scriptedTransport{}
	st.onSend = func(st *scriptedTransport, data []byte) (string, error) {
		attempts++
		if attempts == 2 {
			return "7EC 02 7E 00\r>", nil
		}
		return "", nil
	}
	c := newTestClient(t, st)

	o := c.ExchangeRetry(context.Background(), 0x7E4, "3E00", 16, 3)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, 2, attempts)
}

func TestExchangeRetryStopsOnNegative(t *testing.T) {
	attempts := 0
	st := &scriptedTransport{}
	st.onSend = func(st *scriptedTransport, data []byte) (string, error) {
		attempts++
		return "7EC 03 7F 3E 12\r>", nil
	}
	c := newTestClient(t, st)

	o := c.ExchangeRetry(context.Background(), 0x7E4, "3E00", 16, 5)
	assert.Equal(t, KindNegative, o.Kind)
	assert.Equal(t, 1, attempts)
}

func TestExchangeInlineMultiFrame(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(_ *scriptedTransport, data []byte) (string, error) {
			return "7EC 10 0A 62 01 05 01 02 03\r7EC 21 04 05 06 07 00 00 00\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 01 02 03 04 05 06 07", o.Text)
	assert.True(t, o.Inline)
	assert.Len(t, st.sent, 1, "the adapter handled flow control")
}

func TestExchangeInlinePending(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			go func() {
				time.Sleep(200 * time.Millisecond)
				st.queue("7EC 03 6E F1 90")
			}()
			return "7EC 03 7F 2E 78\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "2EF19041", 16)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "6E F1 90", o.Text)
	assert.Len(t, st.sent, 1, "pending stops the strategy list")
}

func TestExchangeInlinePendingThenAnswer(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			return "7EC 03 7F 22 78\r7EC 06 62 01 05 12 34 56\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 12 34 56", o.Text)
	assert.True(t, o.Inline)
	assert.Len(t, st.sent, 1)
	assert.Less(t, o.Elapsed, testConfig().ExchangeTimeout)
}

func TestExchangePendingTimeout(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			return "7EC 03 7F 22 78\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindTimeout, o.Kind, o.String())
	var terr *TimeoutError
	require.ErrorAs(t, o.Err(), &terr)
	assert.True(t, terr.Pending)
	assert.GreaterOrEqual(t, terr.Timeout, testConfig().ResponsePendingTimeout)
	assert.Contains(t, terr.Error(), "after response pending")
}

func TestExchangeInlineForeignIdentifier(t *testing.T) {
	st := &scriptedTransport{
		onSend: func(st *scriptedTransport, data []byte) (string, error) {
			return "7A8 06 62 01 05 99 99 99\r7EC 06 62 01 05 12 34 56\r\r>", nil
		},
	}
	c := newTestClient(t, st)

	o := c.Exchange(0x7E4, "220105", 128)
	require.Equal(t, KindPositive, o.Kind, o.String())
	assert.Equal(t, "62 01 05 12 34 56", o.Text)
	assert.True(t, o.Inline)
}
