package isotp

import "time"

type Event int

const (
	// EventIgnored means the frame did not change the state: noise, a
	// consecutive frame without a first frame, or data after completion.
	EventIgnored Event = iota
	// EventRejected means a single or first frame was refused by the accept func.
	EventRejected
	// EventStarted means a first frame opened a multi frame transfer.
	EventStarted
	// EventConsecutive means a consecutive frame was appended.
	EventConsecutive
	// EventComplete means the payload is available.
	EventComplete
)

func (e Event) String() string {
	switch e {
	case EventIgnored:
		return "ignored"
	case EventRejected:
		return "rejected"
	case EventStarted:
		return "started"
	case EventConsecutive:
		return "consecutive"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type Option func(*Reassembler)

// WithAcceptFunc gates single and first frames. The func sees the payload
// carried by the frame (for a first frame only its leading part).
func WithAcceptFunc(fn func(payload []byte) bool) Option {
	return func(r *Reassembler) {
		r.accept = fn
	}
}

// WithFlowControl sets the func used to transmit the flow control frame
// once a first frame has been accepted.
func WithFlowControl(fn func(fc []byte) error) Option {
	return func(r *Reassembler) {
		r.flowControl = fn
	}
}

// Reassembler is the receive state of one ISO-TP transfer. It is not safe
// for concurrent use and is meant to be discarded after one exchange.
type Reassembler struct {
	capacity    int
	accept      func([]byte) bool
	flowControl func([]byte) error

	expected     int
	known        bool
	buf          []byte
	nextSeq      byte
	lastActivity time.Time
	complete     bool
	truncated    bool
	resyncs      int
}

func NewReassembler(capacity int, opts ...Option) *Reassembler {
	if capacity < 0 {
		capacity = 0
	}
	r := &Reassembler{
		capacity: capacity,
		nextSeq:  1,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Feed processes one received frame. The returned error is set only when
// the flow control frame could not be sent; the state is still updated.
func (r *Reassembler) Feed(frame []byte, now time.Time) (Event, error) {
	if r.complete {
		return EventIgnored, nil
	}
	switch Classify(frame) {
	case SingleFrame:
		return r.single(frame), nil
	case FirstFrame:
		return r.first(frame, now)
	case ConsecutiveFrame:
		return r.consecutive(frame, now), nil
	default:
		return EventIgnored, nil
	}
}

func (r *Reassembler) single(frame []byte) Event {
	payload, ok := SingleFramePayload(frame)
	if !ok {
		return EventIgnored
	}
	if r.accept != nil && !r.accept(payload) {
		return EventRejected
	}
	n := min(len(payload), r.capacity)
	r.buf = append(make([]byte, 0, n), payload[:n]...)
	r.expected, r.known = len(payload), true
	r.truncated = n < len(payload)
	r.complete = true
	return EventComplete
}

func (r *Reassembler) first(frame []byte, now time.Time) (Event, error) {
	if len(frame) < 2 {
		return EventIgnored, nil
	}
	expected := int(frame[0]&0x0F)<<8 | int(frame[1])
	if expected == 0 {
		// escape sequence lengths belong to CAN FD
		return EventIgnored, nil
	}
	payload := frame[2:]
	if r.accept != nil && !r.accept(payload) {
		return EventRejected, nil
	}

	limit := min(expected, r.capacity)
	r.buf = make([]byte, 0, limit)
	r.buf = append(r.buf, payload[:min(len(payload), limit)]...)
	r.expected, r.known = expected, true
	r.nextSeq = 1
	r.lastActivity = now
	r.truncated = false

	var err error
	if r.flowControl != nil {
		err = r.flowControl(ContinueToSend())
	}
	if r.checkDone() {
		return EventComplete, err
	}
	return EventStarted, err
}

func (r *Reassembler) consecutive(frame []byte, now time.Time) Event {
	if !r.known {
		return EventIgnored
	}
	seq := frame[0] & 0x0F
	if seq != r.nextSeq {
		r.nextSeq = seq
		r.resyncs++
	}
	remaining := r.expected - len(r.buf)
	if room := r.capacity - len(r.buf); room < remaining {
		remaining = room
	}
	n := min(len(frame)-1, remaining)
	if n > 0 {
		r.buf = append(r.buf, frame[1:1+n]...)
	}
	r.nextSeq = (r.nextSeq + 1) & 0x0F
	r.lastActivity = now
	if r.checkDone() {
		return EventComplete
	}
	return EventConsecutive
}

func (r *Reassembler) checkDone() bool {
	if len(r.buf) >= r.expected {
		r.complete = true
		return true
	}
	if len(r.buf) >= r.capacity {
		r.complete = true
		r.truncated = true
		return true
	}
	return false
}

// Complete reports whether a full payload has been received.
func (r *Reassembler) Complete() bool {
	return r.complete
}

// InProgress reports whether a multi frame transfer is open.
func (r *Reassembler) InProgress() bool {
	return r.known && !r.complete
}

// Stalled reports whether an open multi frame transfer has been silent for
// longer than stall.
func (r *Reassembler) Stalled(now time.Time, stall time.Duration) bool {
	return r.InProgress() && now.Sub(r.lastActivity) > stall
}

// Payload returns a copy of the reassembled payload once complete.
func (r *Reassembler) Payload() []byte {
	if !r.complete {
		return nil
	}
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// Received returns how many payload bytes have been collected so far.
func (r *Reassembler) Received() int {
	return len(r.buf)
}

// Expected returns the announced payload length, 0 while unknown.
func (r *Reassembler) Expected() int {
	if !r.known {
		return 0
	}
	return r.expected
}

// Truncated reports whether the payload was cut at the capacity.
func (r *Reassembler) Truncated() bool {
	return r.truncated
}

// Resyncs counts consecutive frames whose sequence number did not match.
func (r *Reassembler) Resyncs() int {
	return r.resyncs
}
