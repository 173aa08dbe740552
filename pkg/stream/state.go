package stream

// ConnState is the connection lifecycle state of a Client.
type ConnState int32

const (
	// StateDisconnected means no connection exists and no attempt is running.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial attempt is in flight.
	StateConnecting
	// StateOpen means the connection is established and usable.
	StateOpen
	// StateClosing means the client is shutting down and will not reconnect.
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
