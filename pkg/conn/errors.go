package conn

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection operations.
var (
	// ErrUnknownPeer is returned when a PeerID has no connection.
	ErrUnknownPeer = errors.New("conn: unknown peer")

	// ErrNotConnected is returned when sending on a connection that has not
	// completed its handshake or is shutting down.
	ErrNotConnected = errors.New("conn: not connected")

	// ErrAlreadyConnected is returned by Dial for an address with a live
	// connection.
	ErrAlreadyConnected = errors.New("conn: already connected")

	// ErrWrongRole is returned for an operation the endpoint's role does not
	// allow, such as a server dialing.
	ErrWrongRole = errors.New("conn: operation not valid for role")

	// ErrMessageTooLarge is returned when a message cannot fit the MTU and
	// cannot be fragmented.
	ErrMessageTooLarge = errors.New("conn: message too large")

	// ErrTransportFailed is returned once the transport can no longer
	// receive. Every connection on it is lost.
	ErrTransportFailed = errors.New("conn: transport failed")

	// ErrProtocolViolation marks the error logged when a peer breaks the
	// protocol.
	ErrProtocolViolation = errors.New("conn: protocol violation")
)

// ConnError wraps an error with connection context for debugging.
type ConnError struct {
	PeerID PeerID
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.PeerID == 0 {
		return fmt.Sprintf("conn: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("conn: peer %d: %s: %v", e.PeerID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError creates a new ConnError.
func NewConnError(peer PeerID, op string, err error) *ConnError {
	return &ConnError{PeerID: peer, Op: op, Err: err}
}
