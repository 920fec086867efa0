package vpnc

// State is the connection lifecycle phase. Disconnected is both the
// initial and the terminal state; a disconnected connection can connect
// again.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateTLSHandshake
	StateProtocolHandshake
	StateAuthenticating
	StateSessionSetup
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateTLSHandshake:
		return "tls_handshake"
	case StateProtocolHandshake:
		return "protocol_handshake"
	case StateAuthenticating:
		return "authenticating"
	case StateSessionSetup:
		return "session_setup"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}
