package domain

type SessionState int32

const (
	Connecting SessionState = iota
	Active
	Closing
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Active:
		return "ACTIVE"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
