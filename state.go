package elmuds

// State is a step of one exchange.
type State int

const (
	StateIdle State = iota
	StateRequestBuilt
	StateConfigured
	StateFlushed
	StateSent
	StateAwaitingFrames
	StateComplete
	StateTimeout
	StateInvalid
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequestBuilt:
		return "RequestBuilt"
	case StateConfigured:
		return "Configured"
	case StateFlushed:
		return "Flushed"
	case StateSent:
		return "Sent"
	case StateAwaitingFrames:
		return "AwaitingFrames"
	case StateComplete:
		return "Complete"
	case StateTimeout:
		return "Timeout"
	case StateInvalid:
		return "Invalid"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateTimeout, StateInvalid, StateFailed:
		return true
	}
	return false
}
