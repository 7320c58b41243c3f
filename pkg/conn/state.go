package conn

import "github.com/vango-dev/worldsync/pkg/protocol"

// PeerID identifies a connection for its whole lifetime.
type PeerID uint32

// State is the lifecycle state of a Connection.
type State uint8

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateClosed
	StateRejected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateClosed:
		return "Closed"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateRejected
}

// Reason explains why a connection ended.
type Reason uint8

const (
	ReasonNone Reason = iota
	// ReasonLocal: this side called Disconnect.
	ReasonLocal
	// ReasonRemote: the peer sent Disconnect.
	ReasonRemote
	// ReasonTimeout: nothing received within the liveness timeout.
	ReasonTimeout
	// ReasonHandshakeTimeout: the handshake did not complete in time.
	ReasonHandshakeTimeout
	// ReasonProtocolViolation: the peer broke the protocol.
	ReasonProtocolViolation
	// ReasonRejected: the server refused the handshake.
	ReasonRejected
	// ReasonShutdown: the endpoint is closing.
	ReasonShutdown
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonLocal:
		return "Local"
	case ReasonRemote:
		return "Remote"
	case ReasonTimeout:
		return "Timeout"
	case ReasonHandshakeTimeout:
		return "HandshakeTimeout"
	case ReasonProtocolViolation:
		return "ProtocolViolation"
	case ReasonRejected:
		return "Rejected"
	case ReasonShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// wireReason maps a local reason to the reason sent in a Disconnect notice.
func (r Reason) wireReason() protocol.DisconnectReason {
	switch r {
	case ReasonTimeout, ReasonHandshakeTimeout:
		return protocol.DisconnectTimeout
	case ReasonProtocolViolation:
		return protocol.DisconnectProtocol
	case ReasonShutdown:
		return protocol.DisconnectGoingAway
	default:
		return protocol.DisconnectNormal
	}
}

// Role selects which side of the handshake an Endpoint plays.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

// String returns the string representation of the role.
func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}
