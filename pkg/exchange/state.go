package exchange

// ChannelState is the state of the secure channel.
type ChannelState uint8

const (
	StateUnestablished ChannelState = iota
	StateHandshakeInFlight
	StateActive
	StateClosed
	StateAborted
)

// String returns the state name.
func (s ChannelState) String() string {
	switch s {
	case StateUnestablished:
		return "UNESTABLISHED"
	case StateHandshakeInFlight:
		return "HANDSHAKE_IN_FLIGHT"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}
