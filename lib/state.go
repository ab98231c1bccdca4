package lib

// State is the connection FSM state. Transitions happen only on the network
// loop's tick; the application thread reads it through accessors.
type State uint8

const (
	StateClosed State = iota
	StateAccepting
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateCloseWait // peer FIN received while established, own close not yet initiated
	StateFinSent
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateAccepting:
		return "ACCEPTING"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateFinSent:
		return "FIN_SENT"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Signal carries intent from the application thread to the network loop.
// The mailbox consumes at most one signal per tick, in order.
type Signal uint8

const (
	SignalAccept Signal = iota + 1
	SignalConnect
	SignalShutdown
)

func (s Signal) String() string {
	switch s {
	case SignalAccept:
		return "ACCEPT"
	case SignalConnect:
		return "CONNECT"
	case SignalShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}
