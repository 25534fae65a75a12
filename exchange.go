package elmuds

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roffe/elmuds/pkg/elmtext"
	"github.com/roffe/elmuds/pkg/hexcodec"
	"github.com/roffe/elmuds/pkg/isotp"
	"github.com/roffe/elmuds/pkg/uds"
	"github.com/rs/zerolog"
)

// inlineResult classifies the text returned by a send.
type inlineResult int

const (
	// inlineSilent: no payload and no NO DATA, the adapter does not echo replies.
	inlineSilent inlineResult = iota
	// inlineUnanswered: payload or NO DATA, but nothing answering the request.
	inlineUnanswered
	inlinePending
	inlineAnswered
)

// exchange is the state of one request. It is discarded afterwards.
type exchange struct {
	t         Transport
	cfg       Config
	log       zerolog.Logger
	frameHook func(*CANFrame)

	state    State
	req      Request
	capacity int
	deadline time.Time
	sentAt   time.Time
	strategy SendStrategy
	filterID uint32
	mask     uint32
	// set once the ECU answered response pending
	pendingSeen bool

	// lines returned by flow control sends, consumed before polling
	harvested []string
}

func (ex *exchange) transition(s State) {
	ex.log.Debug().Stringer("from", ex.state).Stringer("to", s).Msg("exchange state")
	ex.state = s
}

func (ex *exchange) run(targetID uint32, requestHex string, capacity int) Outcome {
	req, err := NewRequest(targetID, requestHex)
	if err == nil && capacity < 1 {
		err = fmt.Errorf("%w: capacity %d", ErrRequestInvalid, capacity)
	}
	if err != nil {
		ex.transition(StateInvalid)
		return Outcome{Kind: KindRequestInvalid, cause: err}
	}
	ex.req, ex.capacity = req, capacity
	ex.transition(StateRequestBuilt)

	defer ex.sniffOff()

	if err := ex.configure(); err != nil {
		ex.log.Warn().Err(err).Msg("configure failed")
		ex.transition(StateFailed)
		return Outcome{Kind: KindTransportError, cause: err}
	}
	ex.transition(StateConfigured)

	ex.flush()
	ex.transition(StateFlushed)

	if o, done := ex.send(); done {
		return o
	}
	return ex.await()
}

func (ex *exchange) configure() error {
	if err := ex.t.SetTxIdentifier(ex.req.TargetID); err != nil {
		return &TransportError{Op: "set tx identifier", Err: err}
	}
	ex.filterID, ex.mask = ex.cfg.RxFilter(ex.req.TargetID)
	if err := ex.t.SetRxFilter(ex.filterID, ex.mask); err != nil {
		return &TransportError{Op: "set rx filter", Err: err}
	}
	return nil
}

// flush drops lines left over from earlier traffic. It stops at the first
// empty poll or when the flush window has passed.
func (ex *exchange) flush() {
	end := time.Now().Add(ex.cfg.FlushWindow)
	dropped := 0
	for time.Now().Before(end) {
		line, ok := ex.t.ReceiveLine()
		if !ok {
			break
		}
		dropped++
		ex.log.Debug().Str("line", line).Msg("dropped stale line")
	}
	if dropped > 0 {
		ex.log.Debug().Int("count", dropped).Msg("flushed")
	}
}

func (ex *exchange) sniffOff() {
	if err := ex.t.SetSniffMode(false); err != nil {
		ex.log.Warn().Err(err).Msg("failed to disable monitoring")
	}
}

func (ex *exchange) send() (Outcome, bool) {
	var lastErr error
	sent := false
	for _, s := range ex.cfg.Strategies {
		frame, ok := s.Frame(ex.req.Payload)
		if !ok {
			ex.log.Debug().Stringer("strategy", s).Msg("strategy not applicable")
			continue
		}
		if ex.deadline.IsZero() {
			ex.sentAt = time.Now()
			ex.deadline = ex.sentAt.Add(ex.cfg.ExchangeTimeout)
		}
		ex.log.Debug().Stringer("strategy", s).Str("data", hexcodec.Encode(frame)).Msg("send")
		ex.hook(ex.req.TargetID, frame, Outgoing)

		text, err := ex.t.SendFrame(frame)
		if err == nil {
			err = elmtext.CheckError(text)
		}
		if err != nil {
			lastErr = err
			ex.log.Warn().Err(err).Stringer("strategy", s).Msg("send failed")
			continue
		}
		if !sent {
			ex.transition(StateSent)
			sent = true
		}
		ex.strategy = s

		o, res := ex.inline(text)
		switch res {
		case inlineAnswered:
			ex.transition(StateComplete)
			return o, true
		case inlineUnanswered:
			ex.log.Debug().Stringer("strategy", s).Msg("no matching inline reply")
			continue
		}
		// silent or pending: the reply has to be picked up by monitoring
		return Outcome{}, false
	}
	if sent {
		return Outcome{}, false
	}
	if lastErr == nil {
		lastErr = errors.New("no send strategy applies to the request")
	}
	ex.transition(StateFailed)
	return Outcome{Kind: KindTransportError, cause: &TransportError{Op: "send", Err: lastErr}}, true
}

// inline checks the text returned by a send for the reply.
func (ex *exchange) inline(text string) (Outcome, inlineResult) {
	if strings.TrimSpace(strings.Trim(text, ">")) == "" {
		return Outcome{}, inlineSilent
	}
	candidates := elmtext.ParseAll(text, ex.capacity)
	for _, f := range candidates {
		if !ex.fromResponder(f) {
			continue
		}
		data := f.Data
		v := uds.Match(data, ex.req.Payload)
		if v == uds.NoMatch {
			// raw frames with the PCI still in front
			if p, ok := isotp.SingleFramePayload(data); ok {
				if pv := uds.Match(p, ex.req.Payload); pv != uds.NoMatch {
					data, v = p, pv
				}
			}
		}
		if v == uds.NoMatch {
			continue
		}
		// the final answer may follow in the same text
		if ex.pending(data, v) {
			continue
		}
		ex.log.Debug().Stringer("parser", f.Strategy).Msg("inline reply")
		o := ex.complete(data, v, false)
		o.Inline = true
		return o, inlineAnswered
	}
	if o, ok := ex.inlineFrames(text); ok {
		o.Inline = true
		return o, inlineAnswered
	}
	if ex.pendingSeen {
		return Outcome{}, inlinePending
	}
	if len(candidates) > 0 || elmtext.IsNoData(text) {
		return Outcome{}, inlineUnanswered
	}
	return Outcome{}, inlineSilent
}

// inlineFrames reassembles replies printed as raw frames, headers and PCI
// included, by adapters that handle flow control themselves.
func (ex *exchange) inlineFrames(text string) (Outcome, bool) {
	r := isotp.NewReassembler(ex.capacity, isotp.WithAcceptFunc(ex.accept))
	now := time.Now()
	for _, line := range elmtext.Lines(text) {
		f, err := elmtext.ParseFrame(line)
		if err != nil || !ex.fromResponder(f) {
			continue
		}
		if ev, _ := r.Feed(f.Data, now); ev == isotp.EventComplete {
			payload := r.Payload()
			return ex.complete(payload, uds.Match(payload, ex.req.Payload), r.Truncated()), true
		}
	}
	return Outcome{}, false
}

func (ex *exchange) fromResponder(f elmtext.Frame) bool {
	return !f.HasID || f.ID&ex.mask == ex.filterID&ex.mask
}

// pending extends the deadline when data is a response pending reply.
func (ex *exchange) pending(data []byte, v uds.Verdict) bool {
	if v != uds.Negative {
		return false
	}
	if _, nrc, ok := uds.NegativeCode(data); !ok || !nrc.IsPending() {
		return false
	}
	ex.deadline = time.Now().Add(ex.cfg.ResponsePendingTimeout)
	ex.pendingSeen = true
	ex.log.Debug().Dur("extension", ex.cfg.ResponsePendingTimeout).Msg("response pending")
	return true
}

func (ex *exchange) await() Outcome {
	ex.transition(StateAwaitingFrames)
	if err := ex.t.SetSniffMode(true); err != nil {
		ex.log.Warn().Err(err).Msg("failed to enable monitoring")
	}
	r := isotp.NewReassembler(ex.capacity,
		isotp.WithAcceptFunc(ex.accept),
		isotp.WithFlowControl(ex.flowControl),
	)
	for {
		now := time.Now()
		if !now.Before(ex.deadline) {
			return ex.timeout(r, false)
		}
		if r.Stalled(now, ex.cfg.StallTimeout) {
			return ex.timeout(r, true)
		}
		line, ok := ex.nextLine()
		if !ok {
			time.Sleep(ex.cfg.PollInterval)
			continue
		}
		if o, done := ex.handleLine(r, line, now); done {
			return o
		}
	}
}

func (ex *exchange) nextLine() (string, bool) {
	if len(ex.harvested) > 0 {
		line := ex.harvested[0]
		ex.harvested = ex.harvested[1:]
		return line, true
	}
	return ex.t.ReceiveLine()
}

func (ex *exchange) handleLine(r *isotp.Reassembler, line string, now time.Time) (Outcome, bool) {
	f, err := elmtext.ParseFrame(line)
	if err != nil {
		var aerr *elmtext.AdapterError
		switch {
		case errors.As(err, &aerr):
			ex.log.Warn().Str("status", aerr.Message).Msg("adapter error while monitoring")
		case errors.Is(err, elmtext.ErrNoPayload):
		default:
			ex.log.Debug().Err(err).Msg("skipped line")
		}
		return Outcome{}, false
	}
	if !ex.fromResponder(f) {
		ex.log.Debug().Str("id", fmt.Sprintf("0x%03X", f.ID)).Msg("foreign identifier")
		return Outcome{}, false
	}
	ex.hook(f.ID, f.Data, Incoming)

	ev, err := r.Feed(f.Data, now)
	if err != nil {
		ex.log.Warn().Err(err).Msg("flow control failed")
	}
	switch ev {
	case isotp.EventComplete:
		payload := r.Payload()
		v := uds.Match(payload, ex.req.Payload)
		ex.transition(StateComplete)
		return ex.complete(payload, v, r.Truncated()), true
	case isotp.EventIgnored:
		ex.log.Debug().Str("frame", hexcodec.Encode(f.Data)).Msg("ignored frame")
	case isotp.EventStarted:
		ex.log.Debug().Int("length", r.Expected()).Msg("first frame")
	}
	return Outcome{}, false
}

// accept gates single and first frames on the request.
func (ex *exchange) accept(payload []byte) bool {
	v := uds.Match(payload, ex.req.Payload)
	if v == uds.NoMatch {
		ex.log.Debug().Str("payload", hexcodec.Encode(payload)).Msg("unrelated reply")
		return false
	}
	return !ex.pending(payload, v)
}

func (ex *exchange) flowControl(fc []byte) error {
	ex.hook(ex.req.TargetID, fc, Outgoing)
	text, err := ex.t.SendFrame(fc)
	if err != nil {
		return &TransportError{Op: "flow control", Err: err}
	}
	// some adapters print the consecutive frames as the answer to the send
	ex.harvested = append(ex.harvested, elmtext.Lines(text)...)
	return nil
}

func (ex *exchange) timeout(r *isotp.Reassembler, stalled bool) Outcome {
	ex.transition(StateTimeout)
	return Outcome{
		Kind:     KindTimeout,
		Strategy: ex.strategy,
		cause: &TimeoutError{
			Timeout:  time.Since(ex.sentAt).Round(time.Millisecond),
			Target:   ex.req.TargetID,
			Pending:  ex.pendingSeen,
			Stalled:  stalled,
			Received: r.Received(),
			Expected: r.Expected(),
		},
	}
}

func (ex *exchange) complete(data []byte, v uds.Verdict, truncated bool) Outcome {
	o := Outcome{
		Bytes:     data,
		Truncated: truncated,
		Strategy:  ex.strategy,
	}
	if v == uds.Negative {
		sid, nrc, _ := uds.NegativeCode(data)
		o.Kind, o.ServiceID, o.NRC = KindNegative, sid, nrc
		return o
	}
	o.Kind = KindPositive
	o.ServiceID = ex.req.ServiceID()
	o.Text = hexcodec.Encode(data)
	return o
}

func (ex *exchange) hook(id uint32, data []byte, dir Direction) {
	if ex.frameHook == nil {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ex.frameHook(NewFrame(id, cp, dir))
}
