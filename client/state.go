package client

// ConnectionState is the event socket's lifecycle position. There is no
// resumable session underneath: StateConnected always means a fresh socket,
// and the reconciler responds to every transition into it with a full
// resynchronization.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateClosed is terminal; only an explicit Close produces it and no
	// reconnect follows.
	StateClosed
)

var stateNames = map[ConnectionState]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
}

func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// StateEvent describes one transition, carrying the error that forced it
// when the move was not deliberate.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Err      error
}
