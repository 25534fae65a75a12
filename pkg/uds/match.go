package uds

type Verdict int

const (
	// NoMatch means the payload does not answer the request.
	NoMatch Verdict = iota
	Positive
	Negative
)

func (v Verdict) String() string {
	switch v {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "no match"
	}
}

// Match decides whether reply answers request.
func Match(reply, request []byte) Verdict {
	if len(reply) == 0 || len(request) == 0 {
		return NoMatch
	}
	sid := request[0]

	if reply[0] == NegativeResponse {
		if len(reply) >= 3 && reply[1] == sid {
			return Negative
		}
		return NoMatch
	}

	if reply[0] != sid+PositiveOffset {
		return NoMatch
	}
	n := min(echoLength(sid), 2, len(request)-1)
	if n <= 0 {
		return Positive
	}
	if len(reply) < 1+n {
		return NoMatch
	}
	for i := 1; i <= n; i++ {
		want, got := request[i], reply[i]
		if hasSubFunction(sid) {
			want &= 0x7F
			got &= 0x7F
		}
		if want != got {
			return NoMatch
		}
	}
	return Positive
}

// IsExpected reports whether reply is a positive or negative answer to request.
func IsExpected(reply, request []byte) bool {
	return Match(reply, request) != NoMatch
}

// NegativeCode returns the service id and code carried by a negative reply.
func NegativeCode(reply []byte) (byte, NRC, bool) {
	if len(reply) < 3 || reply[0] != NegativeResponse {
		return 0, 0, false
	}
	return reply[1], NRC(reply[2]), true
}
