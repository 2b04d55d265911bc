package domain

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// Online is true only when outbound frames can be written.
func (s ConnectionState) Online() bool {
	return s == StateConnected
}

// Index is a stable numeric encoding used by gauges.
func (s ConnectionState) Index() int {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	case StateFailed:
		return 4
	default:
		return 0
	}
}
